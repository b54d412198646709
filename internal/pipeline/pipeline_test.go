package pipeline

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/athena-dhcpd/nat-router/internal/arpcache"
	"github.com/athena-dhcpd/nat-router/internal/ifreg"
	"github.com/athena-dhcpd/nat-router/internal/nat"
	"github.com/athena-dhcpd/nat-router/internal/routing"
	"github.com/athena-dhcpd/nat-router/internal/wire"
)

// fakeSender records every frame written, keyed by outgoing interface.
type fakeSender struct {
	sent map[string][][]byte
}

func newFakeSender() *fakeSender { return &fakeSender{sent: make(map[string][][]byte)} }

func (f *fakeSender) WriteFrame(iface string, frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	f.sent[iface] = append(f.sent[iface], buf)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// newFrame constructs an Ethernet frame carrying an IPv4 segment of
// totalLen bytes, header already checksummed by the caller's later steps.
func newFrame(payloadLen int) ([]byte, wire.Ethernet, wire.IPv4) {
	totalLen := wire.MinIPv4HeaderLen + payloadLen
	buf := make([]byte, wire.EthernetHeaderLen+totalLen)
	eth, _ := wire.NewEthernet(buf)
	eth.SetEtherType(wire.EtherTypeIPv4)
	ipBuf := buf[wire.EthernetHeaderLen:]
	ipBuf[0] = 0x45
	ip, _ := wire.NewIPv4(ipBuf)
	ip.SetTotalLen(uint16(totalLen))
	ip.SetTTL(64)
	return buf, eth, ip
}

func buildICMPEchoFrame(srcIP, dstIP [4]byte, id, seq uint16, ttl uint8) []byte {
	buf, _, ip := newFrame(wire.MinICMPHeaderLen)
	ip.SetProtocol(wire.ProtocolICMP)
	ip.SetSrcIP(srcIP)
	ip.SetDstIP(dstIP)
	ip.SetTTL(ttl)
	ip.RecomputeChecksum()
	icmp, _ := wire.NewICMP(ip.Payload())
	icmp.SetType(wire.ICMPTypeEchoRequest)
	icmp.SetID(id)
	icmp.SetSeq(seq)
	icmp.RecomputeChecksum()
	return buf
}

func buildTCPFrame(srcIP, dstIP [4]byte, srcPort, dstPort uint16, flags uint8, seq, ack uint32, ttl uint8) []byte {
	buf, _, ip := newFrame(wire.MinTCPHeaderLen)
	ip.SetProtocol(wire.ProtocolTCP)
	ip.SetSrcIP(srcIP)
	ip.SetDstIP(dstIP)
	ip.SetTTL(ttl)
	ip.RecomputeChecksum()

	// Data offset and flags must be in place before constructing the TCP
	// view, since NewTCP rejects a data offset under 5.
	payload := ip.Payload()
	payload[12] = 5 << 4
	payload[13] = flags
	putUint32(payload[4:8], seq)
	putUint32(payload[8:12], ack)

	tcp, _ := wire.NewTCP(payload)
	tcp.SetSrcPort(srcPort)
	tcp.SetDstPort(dstPort)
	tcp.RecomputeChecksum(srcIP, dstIP)
	return buf
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func mustIP(ip net.IP) [4]byte {
	var b [4]byte
	copy(b[:], ip.To4())
	return b
}

// newTestTopology sets up eth1 (internal, 10.0.1.1) and eth2 (external,
// 172.16.0.1) with an LPM route sending everything else out eth2 via
// 172.16.0.254, and pre-resolves that gateway and the two test hosts
// (8.8.8.8, 10.0.1.10) in the ARP cache so tests
// don't exercise ARP timing unless they mean to.
func newTestTopology(t *testing.T, natEnabled bool) (*Pipeline, *fakeSender, *nat.Engine, *arpcache.Cache) {
	t.Helper()
	ifaces := ifreg.New([]ifreg.Interface{
		{Name: "eth1", MAC: mustMAC("aa:bb:cc:00:00:01"), IP: net.IPv4(10, 0, 1, 1)},
		{Name: "eth2", MAC: mustMAC("aa:bb:cc:00:00:02"), IP: net.IPv4(172, 16, 0, 1)},
	})
	_, dfltNet, _ := net.ParseCIDR("0.0.0.0/0")
	_, internalNet, _ := net.ParseCIDR("10.0.1.0/24")
	routes := routing.New([]routing.Route{
		{Network: internalNet, Gateway: nil, Interface: "eth1"},
		{Network: dfltNet, Gateway: net.IPv4(172, 16, 0, 254), Interface: "eth2"},
	})
	arp := arpcache.New(arpcache.Config{TTL: time.Hour, RetryLimit: 5}, discardLogger())
	arp.Insert(mustMAC("11:11:11:11:11:11"), net.IPv4(172, 16, 0, 254))
	arp.Insert(mustMAC("22:22:22:22:22:22"), net.IPv4(8, 8, 8, 8))
	arp.Insert(mustMAC("33:33:33:33:33:33"), net.IPv4(10, 0, 1, 10))

	var natEngine *nat.Engine
	if natEnabled {
		natEngine = nat.New(nat.Config{}, discardLogger())
	}
	sender := newFakeSender()
	p := New(Config{NATEnabled: natEnabled, InternalIface: "eth1", ExternalIface: "eth2"},
		ifaces, routes, arp, natEngine, sender, discardLogger())
	return p, sender, natEngine, arp
}

// scenario 1: plain forward.
func TestPlainForward(t *testing.T) {
	p, sender, _, _ := newTestTopology(t, false)
	frame := buildICMPEchoFrame(mustIP(net.IPv4(10, 0, 1, 10)), mustIP(net.IPv4(8, 8, 8, 8)), 0x1234, 1, 64)

	p.HandleFrame("eth1", frame)

	out := sender.sent["eth2"]
	if len(out) != 1 {
		t.Fatalf("frames sent on eth2 = %d, want 1", len(out))
	}
	eth, _ := wire.NewEthernet(out[0])
	ip, err := wire.NewIPv4(eth.Payload())
	if err != nil {
		t.Fatalf("NewIPv4: %v", err)
	}
	if ip.TTL() != 63 {
		t.Errorf("TTL = %d, want 63", ip.TTL())
	}
	if !ip.VerifyChecksum() {
		t.Error("forwarded frame has invalid IP checksum")
	}
	if netIPFrom(ip.SrcIP()).String() != "10.0.1.10" || netIPFrom(ip.DstIP()).String() != "8.8.8.8" {
		t.Errorf("src/dst = %s/%s, want 10.0.1.10/8.8.8.8", netIPFrom(ip.SrcIP()), netIPFrom(ip.DstIP()))
	}
}

// scenario 2: echo to router.
func TestEchoToRouter(t *testing.T) {
	p, sender, _, _ := newTestTopology(t, false)
	frame := buildICMPEchoFrame(mustIP(net.IPv4(10, 0, 1, 10)), mustIP(net.IPv4(10, 0, 1, 1)), 7, 1, 64)

	p.HandleFrame("eth1", frame)

	out := sender.sent["eth1"]
	if len(out) != 1 {
		t.Fatalf("frames sent on eth1 = %d, want 1", len(out))
	}
	eth, _ := wire.NewEthernet(out[0])
	ip, _ := wire.NewIPv4(eth.Payload())
	icmp, _ := wire.NewICMP(ip.Payload())
	if icmp.Type() != wire.ICMPTypeEchoReply {
		t.Errorf("ICMP type = %d, want echo-reply", icmp.Type())
	}
	if !icmp.VerifyChecksum() {
		t.Error("echo reply has invalid ICMP checksum")
	}
	if !ip.VerifyChecksum() {
		t.Error("echo reply has invalid IP checksum")
	}
	if netIPFrom(ip.SrcIP()).String() != "10.0.1.1" || netIPFrom(ip.DstIP()).String() != "10.0.1.10" {
		t.Errorf("src/dst = %s/%s, want swapped", netIPFrom(ip.SrcIP()), netIPFrom(ip.DstIP()))
	}
}

// scenario 3: NAT outbound TCP SYN.
func TestNATOutboundTCPSYN(t *testing.T) {
	p, sender, natEngine, _ := newTestTopology(t, true)
	frame := buildTCPFrame(mustIP(net.IPv4(10, 0, 1, 10)), mustIP(net.IPv4(8, 8, 8, 8)), 40000, 80, wire.TCPFlagSYN, 1000, 0, 64)

	p.HandleFrame("eth1", frame)

	m, ok := natEngine.LookupInternal(net.IPv4(10, 0, 1, 10), 40000, nat.KindTCP)
	if !ok {
		t.Fatal("expected a TCP mapping for 10.0.1.10:40000")
	}
	if m.ExternalID != 1024 {
		t.Errorf("ExternalID = %d, want 1024", m.ExternalID)
	}
	if netIPFrom(m.ExternalIP).String() != "172.16.0.1" {
		t.Errorf("ExternalIP = %s, want 172.16.0.1", netIPFrom(m.ExternalIP))
	}
	conn, ok := m.Connections[mustIP(net.IPv4(8, 8, 8, 8))]
	if !ok {
		t.Fatal("expected a connection keyed by 8.8.8.8")
	}
	if conn.State != nat.StateSynSent || conn.ClientSeq != 1000 {
		t.Errorf("connection = %+v, want state=syn-sent client_seq=1000", conn)
	}

	out := sender.sent["eth2"]
	if len(out) != 1 {
		t.Fatalf("frames sent on eth2 = %d, want 1", len(out))
	}
	eth, _ := wire.NewEthernet(out[0])
	ip, _ := wire.NewIPv4(eth.Payload())
	tcp, _ := wire.NewTCP(ip.Payload())
	if netIPFrom(ip.SrcIP()).String() != "172.16.0.1" {
		t.Errorf("rewritten src ip = %s, want 172.16.0.1", netIPFrom(ip.SrcIP()))
	}
	if tcp.SrcPort() != 1024 {
		t.Errorf("rewritten src port = %d, want 1024", tcp.SrcPort())
	}
	if !tcp.VerifyChecksum(ip.SrcIP(), ip.DstIP()) {
		t.Error("rewritten segment has invalid TCP checksum")
	}
}

// scenario 4: NAT inbound SYN-ACK completing the handshake.
func TestNATInboundSYNACKCompletesHandshake(t *testing.T) {
	p, sender, natEngine, _ := newTestTopology(t, true)
	out := buildTCPFrame(mustIP(net.IPv4(10, 0, 1, 10)), mustIP(net.IPv4(8, 8, 8, 8)), 40000, 80, wire.TCPFlagSYN, 1000, 0, 64)
	p.HandleFrame("eth1", out)

	in := buildTCPFrame(mustIP(net.IPv4(8, 8, 8, 8)), mustIP(net.IPv4(172, 16, 0, 1)), 80, 1024, wire.TCPFlagSYN|wire.TCPFlagACK, 2000, 1001, 64)
	p.HandleFrame("eth2", in)

	m, _ := natEngine.LookupInternal(net.IPv4(10, 0, 1, 10), 40000, nat.KindTCP)
	conn := m.Connections[mustIP(net.IPv4(8, 8, 8, 8))]
	if conn.State != nat.StateSynReceived || conn.ServerSeq != 2000 {
		t.Fatalf("after syn-ack: connection = %+v, want state=syn-received server_seq=2000", conn)
	}

	delivered := sender.sent["eth1"]
	if len(delivered) != 1 {
		t.Fatalf("frames delivered on eth1 = %d, want 1", len(delivered))
	}
	eth, _ := wire.NewEthernet(delivered[0])
	ip, _ := wire.NewIPv4(eth.Payload())
	tcp, _ := wire.NewTCP(ip.Payload())
	if netIPFrom(ip.DstIP()).String() != "10.0.1.10" || tcp.DstPort() != 40000 {
		t.Errorf("delivered dst = %s:%d, want 10.0.1.10:40000", netIPFrom(ip.DstIP()), tcp.DstPort())
	}
	if !ip.VerifyChecksum() || !tcp.VerifyChecksum(ip.SrcIP(), ip.DstIP()) {
		t.Error("delivered segment has invalid checksum")
	}

	ack := buildTCPFrame(mustIP(net.IPv4(10, 0, 1, 10)), mustIP(net.IPv4(8, 8, 8, 8)), 40000, 80, wire.TCPFlagACK, 1001, 2001, 64)
	p.HandleFrame("eth1", ack)

	m, _ = natEngine.LookupInternal(net.IPv4(10, 0, 1, 10), 40000, nat.KindTCP)
	conn = m.Connections[mustIP(net.IPv4(8, 8, 8, 8))]
	if conn.State != nat.StateEstablished {
		t.Errorf("after final ack: state = %v, want established", conn.State)
	}
}

// An inbound SYN that transitions to, or stays in, syn-sent/syn-received
// must be parked as an unsolicited-SYN entry even though a mapping already
// exists (spec.md's MUST): the sweep must still report it as an unmatched
// SYN once the grace period elapses, not silently keep quiet just because
// handleExternalToInternal happened to find a mapping.
func TestNATInboundSYNWhileHandshakingIsParked(t *testing.T) {
	p, sender, natEngine, _ := newTestTopology(t, true)

	clock := time.Now()
	p.now = func() time.Time { return clock }

	out := buildTCPFrame(mustIP(net.IPv4(10, 0, 1, 10)), mustIP(net.IPv4(8, 8, 8, 8)), 40000, 80, wire.TCPFlagSYN, 1000, 0, 64)
	p.HandleFrame("eth1", out)

	in := buildTCPFrame(mustIP(net.IPv4(8, 8, 8, 8)), mustIP(net.IPv4(172, 16, 0, 1)), 80, 1024, wire.TCPFlagSYN|wire.TCPFlagACK, 2000, 1001, 64)
	p.HandleFrame("eth2", in)

	m, _ := natEngine.LookupInternal(net.IPv4(10, 0, 1, 10), 40000, nat.KindTCP)
	conn := m.Connections[mustIP(net.IPv4(8, 8, 8, 8))]
	if conn.State != nat.StateSynReceived {
		t.Fatalf("after syn-ack: state = %v, want syn-received", conn.State)
	}

	// Past the fixed 6s unsolicited-SYN grace period: if the syn-ack had
	// been parked as spec.md requires, the sweep reports it.
	clock = clock.Add(10 * time.Second)
	natEngine.Sweep(clock)

	out2 := sender.sent["eth2"]
	if len(out2) != 2 {
		t.Fatalf("frames sent on eth2 after sweep = %d, want 2 (the forwarded syn, then the port-unreachable); the syn-ack was never parked", len(out2))
	}
	eth, _ := wire.NewEthernet(out2[1])
	ip, _ := wire.NewIPv4(eth.Payload())
	icmp, _ := wire.NewICMP(ip.Payload())
	if icmp.Type() != wire.ICMPTypeDestUnreach || icmp.Code() != wire.ICMPCodePortUnreachable {
		t.Errorf("icmp type/code = %d/%d, want dest-unreach/port-unreachable", icmp.Type(), icmp.Code())
	}
	if netIPFrom(ip.DstIP()).String() != "8.8.8.8" {
		t.Errorf("icmp dst = %s, want 8.8.8.8 (the syn-ack's source)", netIPFrom(ip.DstIP()))
	}
}

// scenario 5: unsolicited external SYN is parked, then rejected by the
// sweep once the grace period has passed with still no mapping.
func TestUnsolicitedExternalSYNParkedThenRejected(t *testing.T) {
	p, sender, natEngine, _ := newTestTopology(t, true)
	frame := buildTCPFrame(mustIP(net.IPv4(203, 0, 113, 9)), mustIP(net.IPv4(172, 16, 0, 1)), 5555, 1024, wire.TCPFlagSYN, 1, 0, 64)

	p.HandleFrame("eth2", frame)

	if len(sender.sent["eth1"]) != 0 || len(sender.sent["eth2"]) != 0 {
		t.Fatal("unsolicited syn must not produce any immediate outbound frame")
	}

	natEngine.Sweep(time.Now().Add(10 * time.Second))

	out := sender.sent["eth2"]
	if len(out) != 1 {
		t.Fatalf("frames sent on eth2 after sweep = %d, want 1 (port-unreachable)", len(out))
	}
	eth, _ := wire.NewEthernet(out[0])
	ip, _ := wire.NewIPv4(eth.Payload())
	icmp, _ := wire.NewICMP(ip.Payload())
	if icmp.Type() != wire.ICMPTypeDestUnreach || icmp.Code() != wire.ICMPCodePortUnreachable {
		t.Errorf("icmp type/code = %d/%d, want dest-unreach/port-unreachable", icmp.Type(), icmp.Code())
	}
	if netIPFrom(ip.DstIP()).String() != "203.0.113.9" {
		t.Errorf("icmp dst = %s, want 203.0.113.9", netIPFrom(ip.DstIP()))
	}
}

// scenario 6: ARP resolution failure emits host-unreachable to the
// original source of every packet queued behind the unresolved next hop.
func TestARPUnresolvableEmitsHostUnreachable(t *testing.T) {
	p, sender, _, _ := newTestTopology(t, false)

	pkt := arpcache.QueuedPacket{
		Frame:           buildICMPEchoFrame(mustIP(net.IPv4(10, 0, 1, 10)), mustIP(net.IPv4(9, 9, 9, 9)), 1, 1, 64),
		OutIface:        "eth2",
		OrigSrcIP:       net.IPv4(10, 0, 1, 10),
		ReceivedOnIface: "eth1",
	}
	// Stand in for the frame's own Ethernet wrapper, since emitHostUnreachable
	// only reads the IP segment onward.
	eth, _ := wire.NewEthernet(pkt.Frame)
	eth.SetEtherType(wire.EtherTypeIPv4)

	p.emitHostUnreachable(pkt)

	out := sender.sent["eth1"]
	if len(out) != 1 {
		t.Fatalf("frames sent on eth1 = %d, want 1", len(out))
	}
	respEth, _ := wire.NewEthernet(out[0])
	ip, _ := wire.NewIPv4(respEth.Payload())
	icmp, _ := wire.NewICMP(ip.Payload())
	if icmp.Type() != wire.ICMPTypeDestUnreach || icmp.Code() != wire.ICMPCodeHostUnreachable {
		t.Errorf("icmp type/code = %d/%d, want dest-unreach/host-unreachable", icmp.Type(), icmp.Code())
	}
	if netIPFrom(ip.DstIP()).String() != "10.0.1.10" {
		t.Errorf("icmp dst = %s, want 10.0.1.10", netIPFrom(ip.DstIP()))
	}
}
