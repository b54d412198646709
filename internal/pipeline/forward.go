package pipeline

import (
	"net"

	"github.com/athena-dhcpd/nat-router/internal/metrics"
	"github.com/athena-dhcpd/nat-router/internal/wire"
)

func icmpErrorMetricLabel(icmpType, code uint8) string {
	switch {
	case icmpType == wire.ICMPTypeTimeExceeded:
		return "time_exceeded"
	case icmpType == wire.ICMPTypeDestUnreach && code == wire.ICMPCodeNetUnreachable:
		return "net_unreachable"
	case icmpType == wire.ICMPTypeDestUnreach && code == wire.ICMPCodeHostUnreachable:
		return "host_unreachable"
	case icmpType == wire.ICMPTypeDestUnreach && code == wire.ICMPCodePortUnreachable:
		return "port_unreachable"
	default:
		return "other"
	}
}

func ipArr(ip net.IP) [4]byte {
	var b [4]byte
	copy(b[:], ip.To4())
	return b
}

func netIPFrom(b [4]byte) net.IP {
	out := make(net.IP, 4)
	copy(out, b[:])
	return out
}

// commonForward is the forwarding step shared by the plain and NAT-aware
// IP handlers: decrement TTL (emitting ICMP time-exceeded on reaching
// zero), look up the outgoing route (emitting ICMP net-unreachable on a
// miss), and hand off to the send path.
func (p *Pipeline) commonForward(recvIface string, frame []byte, eth wire.Ethernet, ip wire.IPv4) {
	if ip.TTL() <= 1 {
		origSrc := netIPFrom(ip.SrcIP())
		excerpt := wire.OriginalDatagramExcerpt(ip.Bytes(), ip.HeaderLen())
		p.emitICMPError(recvIface, wire.ICMPTypeTimeExceeded, 0, excerpt, origSrc)
		return
	}
	ip.SetTTL(ip.TTL() - 1)
	ip.RecomputeChecksum()

	dstIP := netIPFrom(ip.DstIP())
	route, ok := p.routes.Lookup(dstIP)
	if !ok {
		origSrc := netIPFrom(ip.SrcIP())
		excerpt := wire.OriginalDatagramExcerpt(ip.Bytes(), ip.HeaderLen())
		p.emitICMPError(recvIface, wire.ICMPTypeDestUnreach, wire.ICMPCodeNetUnreachable, excerpt, origSrc)
		return
	}

	nextHop := route.Gateway
	if nextHop == nil || nextHop.IsUnspecified() {
		nextHop = dstIP
	}
	origSrc := netIPFrom(ip.SrcIP())
	p.send(frame, route.Interface, nextHop, origSrc, recvIface)
}

// emitICMPError builds a fresh ICMP error datagram (source = the router's
// address on recvIface, destination = dstIP) carrying the offending
// datagram's header plus 8 bytes of payload, and routes it back out.
func (p *Pipeline) emitICMPError(recvIface string, icmpType, code uint8, origExcerpt []byte, dstIP net.IP) {
	iface, ok := p.ifaces.Get(recvIface)
	if !ok {
		return
	}
	metrics.ICMPErrorsSent.WithLabelValues(icmpErrorMetricLabel(icmpType, code)).Inc()

	icmpLen := wire.MinICMPHeaderLen + len(origExcerpt)
	totalLen := wire.MinIPv4HeaderLen + icmpLen
	buf := make([]byte, wire.EthernetHeaderLen+totalLen)

	eth, err := wire.NewEthernet(buf)
	if err != nil {
		return
	}
	eth.SetEtherType(wire.EtherTypeIPv4)

	ipBuf := buf[wire.EthernetHeaderLen:]
	ipBuf[0] = 0x45 // version 4, IHL 5
	ip, err := wire.NewIPv4(ipBuf)
	if err != nil {
		return
	}
	ip.SetTotalLen(uint16(totalLen))
	ip.SetTTL(64)
	ip.SetProtocol(wire.ProtocolICMP)
	ip.SetSrcIP(ipArr(iface.IP))
	ip.SetDstIP(ipArr(dstIP))
	ip.RecomputeChecksum()

	icmpBuf := ipBuf[wire.MinIPv4HeaderLen:]
	m := wire.BuildUnreachable(icmpBuf, icmpType, code, origExcerpt)
	m.RecomputeChecksum()

	p.routeAndSend(buf, dstIP, iface.IP, recvIface)
}

// routeAndSend looks up the outgoing route for dstIP and hands the frame
// to the send path. Used for router-originated packets (ICMP errors,
// echo replies) that have already had their headers built.
func (p *Pipeline) routeAndSend(frame []byte, dstIP net.IP, origSrcIP net.IP, recvIface string) {
	route, ok := p.routes.Lookup(dstIP)
	if !ok {
		p.logger.Debug("dropping router-originated packet: no route", "dst", dstIP)
		return
	}
	nextHop := route.Gateway
	if nextHop == nil || nextHop.IsUnspecified() {
		nextHop = dstIP
	}
	p.send(frame, route.Interface, nextHop, origSrcIP, recvIface)
}
