package pipeline

import (
	"github.com/athena-dhcpd/nat-router/internal/nat"
	"github.com/athena-dhcpd/nat-router/internal/wire"
)

// handleNATIP is the IP handler used when NAT is enabled: direction is
// decided by which configured interface the frame arrived on.
func (p *Pipeline) handleNATIP(iface string, frame []byte, eth wire.Ethernet) {
	ipSeg := eth.Payload()
	ip, err := wire.NewIPv4(ipSeg)
	if err != nil || !validateIPv4(ip) {
		p.logger.Debug("dropping ip frame: malformed header or bad checksum", "iface", iface)
		return
	}

	switch iface {
	case p.cfg.InternalIface:
		p.handleInternalToExternal(iface, frame, eth, ip)
	case p.cfg.ExternalIface:
		p.handleExternalToInternal(iface, frame, eth, ip)
	default:
		p.logger.Debug("dropping ip frame: arrived on neither configured nat interface", "iface", iface)
	}
}

// handleInternalToExternal implements spec.md §4.5's internal->external
// direction: a router-destined packet of any protocol gets an ICMP
// port-unreachable, ICMP echo and TCP are translated through the NAT engine
// and fall through to common forwarding with the source IP rewritten to the
// external address, and every other protocol is dropped.
func (p *Pipeline) handleInternalToExternal(iface string, frame []byte, eth wire.Ethernet, ip wire.IPv4) {
	dstIP := netIPFrom(ip.DstIP())
	if _, local := p.ifaces.GetByIP(dstIP); local {
		p.rejectLocalPort(iface, ip)
		return
	}

	ext, ok := p.ifaces.Get(p.cfg.ExternalIface)
	if !ok {
		p.logger.Warn("dropping frame: external interface not configured", "iface", p.cfg.ExternalIface)
		return
	}
	now := p.now()
	srcIP := netIPFrom(ip.SrcIP())

	switch ip.Protocol() {
	case wire.ProtocolICMP:
		icmp, err := wire.NewICMP(ip.Payload())
		if err != nil || !validateICMP(ip, icmp) {
			p.logger.Debug("dropping icmp: malformed or bad checksum", "iface", iface)
			return
		}
		if icmp.Type() != wire.ICMPTypeEchoRequest && icmp.Type() != wire.ICMPTypeEchoReply {
			p.logger.Debug("dropping unsupported icmp through nat", "iface", iface, "type", icmp.Type())
			return
		}
		m, err := p.nat.InsertMapping(srcIP, icmp.ID(), nat.KindICMP, now)
		if err != nil {
			p.logger.Warn("nat: external identifier exhausted", "kind", "icmp", "error", err)
			return
		}
		p.nat.TouchMapping(srcIP, icmp.ID(), nat.KindICMP, ext.IP, now)
		icmp.SetID(m.ExternalID)
		icmp.RecomputeChecksum()

	case wire.ProtocolTCP:
		tcp, err := wire.NewTCP(ip.Payload())
		if err != nil || !validateTCP(ip, tcp) {
			p.logger.Debug("dropping tcp: malformed or bad checksum", "iface", iface)
			return
		}
		m, err := p.nat.InsertMapping(srcIP, tcp.SrcPort(), nat.KindTCP, now)
		if err != nil {
			p.logger.Warn("nat: external identifier exhausted", "kind", "tcp", "error", err)
			return
		}
		p.nat.TouchMapping(srcIP, tcp.SrcPort(), nat.KindTCP, ext.IP, now)
		p.nat.TouchConnection(srcIP, tcp.SrcPort(), nat.KindTCP, dstIP, now, func(c *nat.Connection) {
			nat.ApplyOutbound(c, tcp.Flags(), tcp.Seq(), tcp.Ack())
		})
		tcp.SetSrcPort(m.ExternalID)
		tcp.RecomputeChecksum(ipArr(ext.IP), ip.DstIP())

	default:
		p.logger.Debug("dropping unsupported protocol through nat", "iface", iface, "protocol", ip.Protocol())
		return
	}

	ip.SetSrcIP(ipArr(ext.IP))
	ip.RecomputeChecksum()
	p.commonForward(iface, frame, eth, ip)
}

// handleExternalToInternal implements spec.md §4.5's external->internal
// direction: the frame must be addressed to the router's external IP;
// ICMP and TCP are translated back to their internal identifiers and the
// IP destination rewritten to the mapping's internal IP before falling
// through to common forwarding.
func (p *Pipeline) handleExternalToInternal(iface string, frame []byte, eth wire.Ethernet, ip wire.IPv4) {
	dstIP := netIPFrom(ip.DstIP())
	if _, local := p.ifaces.GetByIP(dstIP); !local {
		p.logger.Debug("dropping external frame: not addressed to a router ip", "iface", iface)
		return
	}
	now := p.now()
	srcIP := netIPFrom(ip.SrcIP())

	switch ip.Protocol() {
	case wire.ProtocolICMP:
		icmp, err := wire.NewICMP(ip.Payload())
		if err != nil || !validateICMP(ip, icmp) {
			p.logger.Debug("dropping icmp: malformed or bad checksum", "iface", iface)
			return
		}
		m, ok := p.nat.LookupExternal(icmp.ID(), nat.KindICMP)
		if !ok {
			p.logger.Debug("dropping icmp: no nat mapping", "iface", iface, "id", icmp.ID())
			return
		}
		icmp.SetID(m.InternalID)
		icmp.RecomputeChecksum()
		ip.SetDstIP(m.InternalIP)

	case wire.ProtocolTCP:
		tcp, err := wire.NewTCP(ip.Payload())
		if err != nil || !validateTCP(ip, tcp) {
			p.logger.Debug("dropping tcp: malformed or bad checksum", "iface", iface)
			return
		}
		if tcp.DstPort() < 1024 {
			excerpt := wire.OriginalDatagramExcerpt(ip.Bytes(), ip.HeaderLen())
			p.emitICMPError(iface, wire.ICMPTypeDestUnreach, wire.ICMPCodePortUnreachable, excerpt, srcIP)
			return
		}
		m, ok := p.nat.LookupExternal(tcp.DstPort(), nat.KindTCP)
		if !ok {
			if tcp.HasFlag(wire.TCPFlagSYN) {
				if _, routable := p.routes.Lookup(dstIP); routable {
					p.nat.ParkSYN(srcIP, tcp.SrcPort(), frame, now)
				}
			}
			p.logger.Debug("dropping tcp: no nat mapping", "iface", iface, "port", tcp.DstPort())
			return
		}
		var shouldPark bool
		p.nat.TouchConnectionByExternal(tcp.DstPort(), nat.KindTCP, srcIP, now, func(c *nat.Connection) {
			shouldPark = nat.ApplyInbound(c, tcp.Flags(), tcp.Seq(), tcp.Ack())
		})
		if shouldPark {
			p.nat.ParkSYN(srcIP, tcp.SrcPort(), frame, now)
		}
		tcp.SetDstPort(m.InternalID)
		ip.SetDstIP(m.InternalIP)
		tcp.RecomputeChecksum(ip.SrcIP(), ip.DstIP())

	default:
		p.logger.Debug("dropping unsupported protocol through nat", "iface", iface, "protocol", ip.Protocol())
		return
	}

	ip.RecomputeChecksum()
	p.commonForward(iface, frame, eth, ip)
}
