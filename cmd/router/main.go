// Command router is the NAT router process: it loads configuration, brings
// up the interface registry, routing table, ARP cache, and (if enabled)
// NAT engine, then drives the packet pipeline from a live pcap capture on
// the configured internal and external interfaces until told to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athena-dhcpd/nat-router/internal/arpcache"
	"github.com/athena-dhcpd/nat-router/internal/config"
	"github.com/athena-dhcpd/nat-router/internal/ifreg"
	"github.com/athena-dhcpd/nat-router/internal/linkio"
	"github.com/athena-dhcpd/nat-router/internal/logging"
	"github.com/athena-dhcpd/nat-router/internal/metrics"
	"github.com/athena-dhcpd/nat-router/internal/nat"
	"github.com/athena-dhcpd/nat-router/internal/pipeline"
	"github.com/athena-dhcpd/nat-router/internal/routing"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/nat-router/config.toml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Server.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error("router exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics.ServerInfo.WithLabelValues(version).Set(1)
	metrics.ServerStartTime.SetToCurrentTime()

	ifaces, err := buildInterfaces(cfg.Interface)
	if err != nil {
		return err
	}
	registry := ifreg.New(ifaces)

	routeEntries, err := routing.LoadFile(cfg.Router.RouteTableFile)
	if err != nil {
		return fmt.Errorf("loading routing table: %w", err)
	}
	routeTable := routing.New(routeEntries)

	arp := arpcache.New(arpcache.Config{
		TTL:        config.Duration(cfg.ARP.EntryTTL),
		RetryLimit: cfg.ARP.RetryLimit,
	}, logger)

	var natEngine *nat.Engine
	if cfg.NAT.Enabled {
		natEngine = nat.New(nat.Config{
			ICMPQueryTimeout:      config.Duration(cfg.NAT.ICMPQueryTimeout),
			TCPEstablishedTimeout: config.Duration(cfg.NAT.TCPEstablishedIdleTime),
			TCPTransitoryTimeout:  config.Duration(cfg.NAT.TCPTransitoryIdleTime),
		}, logger)
	}

	link, err := linkio.OpenPcapLink([]string{cfg.Router.InternalInterface, cfg.Router.ExternalInterface}, time.Second)
	if err != nil {
		return fmt.Errorf("opening link layer capture: %w", err)
	}
	defer link.Close()

	p := pipeline.New(pipeline.Config{
		NATEnabled:    cfg.NAT.Enabled,
		InternalIface: cfg.Router.InternalInterface,
		ExternalIface: cfg.Router.ExternalInterface,
	}, registry, routeTable, arp, natEngine, link, logger)

	probe := linkio.NewGatewayProbe(logger)
	defer probe.Close()
	if probe.Available() {
		var gateways []net.IP
		for _, r := range routeEntries {
			if r.Gateway != nil {
				gateways = append(gateways, r.Gateway)
			}
		}
		reachable := probe.ProbeAll(gateways, 2*time.Second)
		logger.Info("gateway reachability probe complete", "probed", len(gateways), "reachable", len(reachable))
	}

	arp.StartSweeper()
	defer arp.Stop()
	if natEngine != nil {
		natEngine.StartSweeper()
		defer natEngine.Stop()
	}

	if err := writePIDFile(cfg.Server.PIDFile); err != nil {
		logger.Warn("failed to write PID file", "path", cfg.Server.PIDFile, "error", err)
	} else {
		defer removePIDFile(cfg.Server.PIDFile)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:        cfg.Metrics.Listen,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", "address", cfg.Metrics.Listen)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go readLoop(ctx, link, p, logger)

	logger.Info("router ready",
		"internal_interface", cfg.Router.InternalInterface,
		"external_interface", cfg.Router.ExternalInterface,
		"nat_enabled", cfg.NAT.Enabled)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}

	logger.Info("router stopped")
	return nil
}

// readLoop pulls frames off link and hands them to the pipeline until ctx
// is cancelled or the link closes.
func readLoop(ctx context.Context, link *linkio.PcapLink, p *pipeline.Pipeline, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		iface, frame, err := link.ReadFrame()
		if err != nil {
			if errors.Is(err, linkio.ErrClosed) {
				return
			}
			logger.Warn("reading frame", "error", err)
			continue
		}
		p.HandleFrame(iface, frame)
	}
}

// buildInterfaces resolves each configured interface's hardware address,
// preferring an explicit override and falling back to the OS-reported MAC.
func buildInterfaces(cfgIfaces []config.InterfaceConfig) ([]ifreg.Interface, error) {
	ifaces := make([]ifreg.Interface, 0, len(cfgIfaces))
	for _, i := range cfgIfaces {
		ip := net.ParseIP(i.IP)

		var mac net.HardwareAddr
		if i.MAC != "" {
			parsed, err := net.ParseMAC(i.MAC)
			if err != nil {
				return nil, fmt.Errorf("interface %s: %w", i.Name, err)
			}
			mac = parsed
		} else {
			osIface, err := net.InterfaceByName(i.Name)
			if err != nil {
				return nil, fmt.Errorf("resolving hardware address for %s: %w", i.Name, err)
			}
			mac = osIface.HardwareAddr
		}

		ifaces = append(ifaces, ifreg.Interface{Name: i.Name, MAC: mac, IP: ip})
	}
	return ifaces, nil
}

func writePIDFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating PID directory %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func removePIDFile(path string) {
	os.Remove(path)
}
