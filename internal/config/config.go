// Package config handles TOML configuration parsing, validation, and
// defaulting for the router process.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level router configuration, per spec.md §6's
// process-wide configuration-inputs list.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Router    RouterConfig    `toml:"router"`
	NAT       NATConfig       `toml:"nat"`
	ARP       ARPConfig       `toml:"arp"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Interface []InterfaceConfig `toml:"interface"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	LogLevel string `toml:"log_level"`
	PIDFile  string `toml:"pid_file"`
}

// RouterConfig names the two NAT-facing interfaces and the routing table
// source; the routing table's own file format is owned by the
// routing-table collaborator (spec.md §6).
type RouterConfig struct {
	InternalInterface string `toml:"internal_interface"`
	ExternalInterface string `toml:"external_interface"`
	RouteTableFile    string `toml:"route_table_file"`
}

// NATConfig holds the NAT enable flag and its timeouts.
type NATConfig struct {
	Enabled                  bool   `toml:"enabled"`
	ICMPQueryTimeout         string `toml:"icmp_query_timeout"`
	TCPEstablishedIdleTime   string `toml:"tcp_established_idle_time"`
	TCPTransitoryIdleTime    string `toml:"tcp_transitory_idle_time"`
}

// ARPConfig holds the ARP cache's TTL and retry budget.
type ARPConfig struct {
	EntryTTL   string `toml:"entry_ttl"`
	RetryLimit int    `toml:"retry_limit"`
}

// MetricsConfig holds the Prometheus HTTP exporter's listen address.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// InterfaceConfig describes one router-owned interface: its OS-level name,
// IPv4 address, and, for interfaces the kernel doesn't carry a hardware
// address for (e.g. a pcap handle on a bridge), an explicit MAC override.
type InterfaceConfig struct {
	Name string `toml:"name"`
	IP   string `toml:"ip"`
	MAC  string `toml:"mac,omitempty"`
}

// Load reads and parses a TOML config file, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.PIDFile == "" {
		cfg.Server.PIDFile = DefaultPIDFile
	}
	if cfg.Router.InternalInterface == "" {
		cfg.Router.InternalInterface = DefaultInternalInterface
	}
	if cfg.Router.ExternalInterface == "" {
		cfg.Router.ExternalInterface = DefaultExternalInterface
	}
	if cfg.NAT.ICMPQueryTimeout == "" {
		cfg.NAT.ICMPQueryTimeout = DefaultICMPQueryTimeout.String()
	}
	if cfg.NAT.TCPEstablishedIdleTime == "" {
		cfg.NAT.TCPEstablishedIdleTime = DefaultTCPEstablishedIdle.String()
	}
	if cfg.NAT.TCPTransitoryIdleTime == "" {
		cfg.NAT.TCPTransitoryIdleTime = DefaultTCPTransitoryIdle.String()
	}
	if cfg.ARP.EntryTTL == "" {
		cfg.ARP.EntryTTL = DefaultARPTTL.String()
	}
	if cfg.ARP.RetryLimit == 0 {
		cfg.ARP.RetryLimit = DefaultARPRetryLimit
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}
}

func validate(cfg *Config) error {
	if len(cfg.Interface) == 0 {
		return fmt.Errorf("at least one [[interface]] section is required")
	}
	names := make(map[string]bool, len(cfg.Interface))
	for i, iface := range cfg.Interface {
		if iface.Name == "" {
			return fmt.Errorf("interface[%d]: name is required", i)
		}
		if names[iface.Name] {
			return fmt.Errorf("interface[%d]: duplicate name %q", i, iface.Name)
		}
		names[iface.Name] = true
		if net.ParseIP(iface.IP) == nil {
			return fmt.Errorf("interface[%d] (%s): invalid ip %q", i, iface.Name, iface.IP)
		}
		if iface.MAC != "" {
			if _, err := net.ParseMAC(iface.MAC); err != nil {
				return fmt.Errorf("interface[%d] (%s): invalid mac %q: %w", i, iface.Name, iface.MAC, err)
			}
		}
	}
	if !names[cfg.Router.InternalInterface] {
		return fmt.Errorf("router.internal_interface %q is not among the declared [[interface]] entries", cfg.Router.InternalInterface)
	}
	if !names[cfg.Router.ExternalInterface] {
		return fmt.Errorf("router.external_interface %q is not among the declared [[interface]] entries", cfg.Router.ExternalInterface)
	}
	if cfg.Router.InternalInterface == cfg.Router.ExternalInterface {
		return fmt.Errorf("router.internal_interface and router.external_interface must differ")
	}

	for _, d := range []struct{ name, val string }{
		{"nat.icmp_query_timeout", cfg.NAT.ICMPQueryTimeout},
		{"nat.tcp_established_idle_time", cfg.NAT.TCPEstablishedIdleTime},
		{"nat.tcp_transitory_idle_time", cfg.NAT.TCPTransitoryIdleTime},
		{"arp.entry_ttl", cfg.ARP.EntryTTL},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	if cfg.ARP.RetryLimit <= 0 {
		return fmt.Errorf("arp.retry_limit must be positive, got %d", cfg.ARP.RetryLimit)
	}

	return nil
}

// Duration is a small helper mirroring the teacher's ParseDuration
// convenience wrapper around already-validated duration strings.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
