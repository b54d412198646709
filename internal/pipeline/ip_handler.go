package pipeline

import "github.com/athena-dhcpd/nat-router/internal/wire"

// handlePlainIP is the IP handler used when NAT is disabled: packets
// addressed to a local interface are answered or rejected directly,
// everything else goes through the common forwarding step.
func (p *Pipeline) handlePlainIP(iface string, frame []byte, eth wire.Ethernet) {
	ipSeg := eth.Payload()
	ip, err := wire.NewIPv4(ipSeg)
	if err != nil || !validateIPv4(ip) {
		p.logger.Debug("dropping ip frame: malformed header or bad checksum", "iface", iface)
		return
	}

	dstIP := netIPFrom(ip.DstIP())
	if _, local := p.ifaces.GetByIP(dstIP); local {
		p.handleLocalIP(iface, frame, ip)
		return
	}

	p.commonForward(iface, frame, eth, ip)
}

// handleLocalIP answers packets addressed to one of the router's own
// interfaces: ICMP echo-request becomes an echo-reply in place, TCP/UDP
// gets a port-unreachable, everything else is dropped.
func (p *Pipeline) handleLocalIP(iface string, frame []byte, ip wire.IPv4) {
	switch ip.Protocol() {
	case wire.ProtocolICMP:
		icmp, err := wire.NewICMP(ip.Payload())
		if err != nil || !validateICMP(ip, icmp) {
			p.logger.Debug("dropping icmp to router: malformed or bad checksum", "iface", iface)
			return
		}
		if icmp.Type() != wire.ICMPTypeEchoRequest {
			p.logger.Debug("dropping non-echo icmp to router", "iface", iface, "type", icmp.Type())
			return
		}
		p.replyToEcho(iface, frame, ip, icmp)

	case wire.ProtocolTCP, wire.ProtocolUDP:
		p.rejectLocalPort(iface, ip)

	default:
		p.logger.Debug("dropping unsupported protocol to router", "iface", iface, "protocol", ip.Protocol())
	}
}

// replyToEcho rebuilds the datagram as an echo-reply in place: swap the IP
// addresses (the swap preserves the header checksum, so it is left
// untouched), recompute only the ICMP checksum, and route it back toward
// the original sender through the routing table.
func (p *Pipeline) replyToEcho(iface string, frame []byte, ip wire.IPv4, icmp wire.ICMP) {
	src, dst := ip.SrcIP(), ip.DstIP()
	ip.SetSrcIP(dst)
	ip.SetDstIP(src)

	icmp.SetType(wire.ICMPTypeEchoReply)
	icmp.RecomputeChecksum()

	p.routeAndSend(frame, netIPFrom(src), netIPFrom(dst), iface)
}

func (p *Pipeline) rejectLocalPort(iface string, ip wire.IPv4) {
	excerpt := wire.OriginalDatagramExcerpt(ip.Bytes(), ip.HeaderLen())
	p.emitICMPError(iface, wire.ICMPTypeDestUnreach, wire.ICMPCodePortUnreachable, excerpt, netIPFrom(ip.SrcIP()))
}
