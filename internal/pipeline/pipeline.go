// Package pipeline is the packet processing pipeline: the top-level
// Ethernet dispatcher and the ARP/IP/ICMP/TCP handlers, including the
// distinct NAT-aware IP handler selected at startup, and the outbound send
// path that consults the ARP cache.
package pipeline

import (
	"log/slog"
	"net"
	"time"

	"github.com/athena-dhcpd/nat-router/internal/arpcache"
	"github.com/athena-dhcpd/nat-router/internal/ifreg"
	"github.com/athena-dhcpd/nat-router/internal/metrics"
	"github.com/athena-dhcpd/nat-router/internal/nat"
	"github.com/athena-dhcpd/nat-router/internal/routing"
	"github.com/athena-dhcpd/nat-router/internal/wire"
)

// Sender is the link-layer write side the pipeline depends on; satisfied
// by internal/linkio.Link.
type Sender interface {
	WriteFrame(iface string, frame []byte) error
}

// Config carries the NAT enable flag and the two interface names spec.md
// §6 lists as router-wide configuration.
type Config struct {
	NATEnabled     bool
	InternalIface  string // default "eth1"
	ExternalIface  string // default "eth2"
}

// Pipeline wires together the interface registry, routing table, ARP
// cache, and (if enabled) the NAT engine into the packet-processing logic
// spec.md §4.5 describes.
type Pipeline struct {
	cfg    Config
	ifaces *ifreg.Registry
	routes *routing.Table
	arp    *arpcache.Cache
	nat    *nat.Engine
	sender Sender
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Pipeline and wires the ARP cache's retry/failure
// callbacks back into it. natEngine may be nil when cfg.NATEnabled is
// false.
func New(cfg Config, ifaces *ifreg.Registry, routes *routing.Table, arp *arpcache.Cache, natEngine *nat.Engine, sender Sender, logger *slog.Logger) *Pipeline {
	if cfg.InternalIface == "" {
		cfg.InternalIface = "eth1"
	}
	if cfg.ExternalIface == "" {
		cfg.ExternalIface = "eth2"
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{cfg: cfg, ifaces: ifaces, routes: routes, arp: arp, nat: natEngine, sender: sender, logger: logger, now: time.Now}

	arp.SendRequest = p.sendARPRequest
	arp.Unreachable = p.emitHostUnreachable
	if natEngine != nil {
		natEngine.PortUnreachable = p.emitParkedPortUnreachable
	}
	return p
}

// HandleFrame is the top-level dispatcher: drop anything shorter than a
// full Ethernet header, otherwise branch on EtherType.
func (p *Pipeline) HandleFrame(iface string, frame []byte) {
	eth, err := wire.NewEthernet(frame)
	if err != nil {
		p.logger.Debug("dropping frame: too short for an Ethernet header", "iface", iface, "len", len(frame))
		metrics.FramesDropped.WithLabelValues("short_ethernet_header").Inc()
		return
	}
	switch eth.EtherType() {
	case wire.EtherTypeARP:
		metrics.FramesReceived.WithLabelValues(iface, "arp").Inc()
		p.handleARP(iface, frame, eth)
	case wire.EtherTypeIPv4:
		metrics.FramesReceived.WithLabelValues(iface, "ipv4").Inc()
		if p.cfg.NATEnabled {
			p.handleNATIP(iface, frame, eth)
		} else {
			p.handlePlainIP(iface, frame, eth)
		}
	default:
		p.logger.Debug("dropping frame: unsupported ethertype", "iface", iface, "ethertype", eth.EtherType())
		metrics.FramesDropped.WithLabelValues("unsupported_ethertype").Inc()
	}
}

// send transmits frame out outIface if nextHop is already ARP-resolved,
// filling in the Ethernet addresses; otherwise it queues frame behind a
// pending ARP request, tagging it with the interface the frame originally
// arrived on so a later resolution failure can route an ICMP
// host-unreachable back toward origSrcIP.
func (p *Pipeline) send(frame []byte, outIface string, nextHop net.IP, origSrcIP net.IP, recvIface string) {
	iface, ok := p.ifaces.Get(outIface)
	if !ok {
		p.logger.Warn("dropping frame: unknown outgoing interface", "iface", outIface)
		return
	}

	if mac, _, ok := p.arp.Lookup(nextHop); ok {
		eth, err := wire.NewEthernet(frame)
		if err != nil {
			return
		}
		eth.SetDst(mac)
		eth.SetSrc(iface.MAC)
		if err := p.sender.WriteFrame(outIface, frame); err != nil {
			p.logger.Warn("failed to write frame", "iface", outIface, "error", err)
			return
		}
		metrics.FramesForwarded.WithLabelValues(outIface).Inc()
		return
	}

	p.arp.Queue(nextHop, frame, outIface, origSrcIP, recvIface)
}

func (p *Pipeline) sendARPRequest(ip net.IP, iface string) {
	i, ok := p.ifaces.Get(iface)
	if !ok {
		return
	}
	buf := make([]byte, wire.EthernetHeaderLen+wire.ARPHeaderLen)
	eth, _ := wire.NewEthernet(buf)
	eth.SetSrc(i.MAC)
	eth.SetDst(net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	eth.SetEtherType(wire.EtherTypeARP)
	wire.BuildRequest(buf[wire.EthernetHeaderLen:], i.MAC, i.IP, ip)
	if err := p.sender.WriteFrame(iface, buf); err != nil {
		p.logger.Warn("failed to write arp request", "iface", iface, "error", err)
	}
}

// emitHostUnreachable is the ARP cache's failure callback: it builds an
// ICMP destination-host-unreachable datagram addressed to the queued
// packet's original source, sourced from the router's address on the
// interface that packet originally arrived on, and routes it back toward
// that source through the routing table.
func (p *Pipeline) emitHostUnreachable(pkt arpcache.QueuedPacket) {
	ipSeg, ok := extractIPSegment(pkt.Frame)
	if !ok {
		return
	}
	ip, err := wire.NewIPv4(ipSeg)
	if err != nil {
		return
	}
	excerpt := wire.OriginalDatagramExcerpt(ipSeg, ip.HeaderLen())
	p.emitICMPError(pkt.ReceivedOnIface, wire.ICMPTypeDestUnreach, wire.ICMPCodeHostUnreachable, excerpt, pkt.OrigSrcIP)
}

// emitParkedPortUnreachable is the NAT engine's sweep callback for
// unsolicited SYNs that aged out with no matching mapping: frame is the
// original external->internal Ethernet frame that was parked.
func (p *Pipeline) emitParkedPortUnreachable(frame []byte) {
	ipSeg, ok := extractIPSegment(frame)
	if !ok {
		return
	}
	ip, err := wire.NewIPv4(ipSeg)
	if err != nil {
		return
	}
	excerpt := wire.OriginalDatagramExcerpt(ipSeg, ip.HeaderLen())
	p.emitICMPError(p.cfg.ExternalIface, wire.ICMPTypeDestUnreach, wire.ICMPCodePortUnreachable, excerpt, netIPFrom(ip.SrcIP()))
}

func extractIPSegment(frame []byte) ([]byte, bool) {
	eth, err := wire.NewEthernet(frame)
	if err != nil {
		return nil, false
	}
	return eth.Payload(), true
}
