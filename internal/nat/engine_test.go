package nat

import (
	"net"
	"testing"
	"time"
)

func TestInsertMappingIsIdempotent(t *testing.T) {
	e := New(Config{}, nil)
	now := time.Now()
	ip := net.IPv4(10, 0, 1, 10)

	m1, err := e.InsertMapping(ip, 40000, KindTCP, now)
	if err != nil {
		t.Fatalf("InsertMapping: %v", err)
	}
	if m1.ExternalID != MinExternalID {
		t.Fatalf("ExternalID = %d, want %d", m1.ExternalID, MinExternalID)
	}

	m2, err := e.InsertMapping(ip, 40000, KindTCP, now.Add(time.Second))
	if err != nil {
		t.Fatalf("InsertMapping (idempotent): %v", err)
	}
	if m2.ExternalID != m1.ExternalID {
		t.Fatalf("second InsertMapping allocated a new external id: %d != %d", m2.ExternalID, m1.ExternalID)
	}
}

func TestExternalIDsInjectiveAcrossKinds(t *testing.T) {
	e := New(Config{}, nil)
	now := time.Now()
	mi, _ := e.InsertMapping(net.IPv4(10, 0, 1, 10), 1, KindICMP, now)
	mt, _ := e.InsertMapping(net.IPv4(10, 0, 1, 10), 1, KindTCP, now)
	if mi.ExternalID != MinExternalID || mt.ExternalID != MinExternalID {
		t.Fatalf("ICMP and TCP allocators are not independent: icmp=%d tcp=%d", mi.ExternalID, mt.ExternalID)
	}
}

func TestTouchMappingSetsExternalIPWithoutMutatingSnapshot(t *testing.T) {
	e := New(Config{}, nil)
	now := time.Now()
	ip := net.IPv4(10, 0, 1, 10)
	snap, _ := e.InsertMapping(ip, 40000, KindTCP, now)
	if (snap.ExternalIP != [4]byte{}) {
		t.Fatal("fresh mapping already has an external IP")
	}

	// Mutating the returned snapshot must never affect engine truth.
	snap.ExternalIP = [4]byte{9, 9, 9, 9}

	ok := e.TouchMapping(ip, 40000, KindTCP, net.IPv4(172, 16, 0, 1), now.Add(time.Second))
	if !ok {
		t.Fatal("TouchMapping reported no mapping found")
	}
	got, _ := e.LookupInternal(ip, 40000, KindTCP)
	if got.ExternalIP != ([4]byte{172, 16, 0, 1}) {
		t.Fatalf("ExternalIP = %v, want 172.16.0.1 (snapshot mutation must not leak)", got.ExternalIP)
	}
}

func TestAllocatorWrapsAndSkipsLiveIdentifiers(t *testing.T) {
	e := New(Config{}, nil)
	now := time.Now()
	// Occupy MinExternalID directly, then force the counter to the top of
	// the range so the next allocation must wrap and skip it.
	if _, err := e.InsertMapping(net.IPv4(10, 0, 0, 1), 1, KindTCP, now); err != nil {
		t.Fatalf("InsertMapping: %v", err)
	}
	e.nextID[KindTCP] = MaxExternalID

	m, err := e.InsertMapping(net.IPv4(10, 0, 0, 2), 2, KindTCP, now)
	if err != nil {
		t.Fatalf("InsertMapping at top of range: %v", err)
	}
	if m.ExternalID != MaxExternalID {
		t.Fatalf("ExternalID = %d, want %d (top of range, not yet wrapped)", m.ExternalID, MaxExternalID)
	}

	m2, err := e.InsertMapping(net.IPv4(10, 0, 0, 3), 3, KindTCP, now)
	if err != nil {
		t.Fatalf("InsertMapping after wrap: %v", err)
	}
	if m2.ExternalID == MinExternalID {
		t.Fatalf("allocator reused live identifier %d after wrap", MinExternalID)
	}
}

func TestAllocatorFailsOnFullExhaustion(t *testing.T) {
	e := New(Config{}, nil)
	now := time.Now()
	for id := MinExternalID; ; id++ {
		ip := net.IPv4(10, 0, byte(id>>8), byte(id))
		if _, err := e.InsertMapping(ip, id, KindTCP, now); err != nil {
			t.Fatalf("InsertMapping(%d): unexpected error before exhaustion: %v", id, err)
		}
		if id == MaxExternalID {
			break
		}
	}
	_, err := e.InsertMapping(net.IPv4(10, 1, 0, 0), 0xffff-1, KindTCP, now)
	if err != ErrExternalIDExhausted {
		t.Fatalf("err = %v, want ErrExternalIDExhausted", err)
	}
}

func TestParkSYNDeduplicates(t *testing.T) {
	e := New(Config{}, nil)
	now := time.Now()
	ip := net.IPv4(203, 0, 113, 9)
	e.ParkSYN(ip, 5555, []byte{1, 2, 3}, now)
	e.ParkSYN(ip, 5555, []byte{4, 5, 6}, now)
	if len(e.syns) != 1 {
		t.Fatalf("len(syns) = %d, want 1 (dedup on remote ip/port)", len(e.syns))
	}
}

func TestSweepReapsExpiredICMPMapping(t *testing.T) {
	e := New(Config{ICMPQueryTimeout: time.Second}, nil)
	now := time.Now()
	ip := net.IPv4(10, 0, 1, 10)
	e.InsertMapping(ip, 7, KindICMP, now)
	e.Sweep(now.Add(2 * time.Second))
	if _, ok := e.LookupInternal(ip, 7, KindICMP); ok {
		t.Fatal("ICMP mapping survived past its timeout")
	}
}

func TestSweepReapsTCPMappingWithNoConnections(t *testing.T) {
	e := New(Config{TCPTransitoryTimeout: time.Second}, nil)
	now := time.Now()
	ip := net.IPv4(10, 0, 1, 10)
	e.InsertMapping(ip, 40000, KindTCP, now)
	e.TouchConnection(ip, 40000, KindTCP, net.IPv4(8, 8, 8, 8), now, func(c *Connection) {
		c.State = StateSynSent
		c.ClientSeq = 1000
	})
	e.Sweep(now.Add(2 * time.Second))
	if _, ok := e.LookupInternal(ip, 40000, KindTCP); ok {
		t.Fatal("TCP mapping with an expired connection (and none left) survived the sweep")
	}
}

func TestSweepParksAndReapsUnsolicitedSYN(t *testing.T) {
	e := New(Config{UnsolicitedSYNGrace: time.Second}, nil)
	var reported [][]byte
	e.PortUnreachable = func(frame []byte) { reported = append(reported, frame) }

	now := time.Now()
	e.ParkSYN(net.IPv4(203, 0, 113, 9), 5555, []byte{1, 2, 3}, now)
	e.Sweep(now.Add(2 * time.Second))

	if len(reported) != 1 {
		t.Fatalf("PortUnreachable called %d times, want 1", len(reported))
	}
	if len(e.syns) != 0 {
		t.Fatal("parked SYN entry was not removed after the grace period")
	}
}

func TestSweepDoesNotReportSYNThatGainedAMapping(t *testing.T) {
	e := New(Config{UnsolicitedSYNGrace: time.Second}, nil)
	var reported int
	e.PortUnreachable = func([]byte) { reported++ }

	now := time.Now()
	e.ParkSYN(net.IPv4(203, 0, 113, 9), 1024, []byte{1, 2, 3}, now)
	// A mapping for ext port 1024 shows up before the grace period elapses.
	e.InsertMapping(net.IPv4(10, 0, 1, 10), 40000, KindTCP, now)

	e.Sweep(now.Add(2 * time.Second))
	if reported != 0 {
		t.Fatalf("PortUnreachable called %d times, want 0 (mapping now exists)", reported)
	}
}

func TestTCPHandshakeStateMachine(t *testing.T) {
	c := &Connection{State: StateClosed}
	ApplyOutbound(c, synFlag(), 1000, 0)
	if c.State != StateSynSent || c.ClientSeq != 1000 {
		t.Fatalf("after outbound SYN: state=%v clientSeq=%d", c.State, c.ClientSeq)
	}

	if park := ApplyInbound(c, synAckFlag(), 2000, 1001); !park {
		t.Fatal("inbound SYN+ACK should park as unsolicited-SYN")
	}
	if c.State != StateSynReceived || c.ServerSeq != 2000 {
		t.Fatalf("after inbound SYN+ACK: state=%v serverSeq=%d", c.State, c.ServerSeq)
	}

	ApplyOutbound(c, ackFlag(), 1001, 2001)
	if c.State != StateEstablished {
		t.Fatalf("after outbound ACK: state=%v, want established", c.State)
	}
}

func TestTCPSimultaneousOpen(t *testing.T) {
	c := &Connection{State: StateSynSent, ClientSeq: 1000}
	if park := ApplyInbound(c, synFlag(), 2000, 0); !park {
		t.Fatal("inbound bare SYN in syn-sent should park as unsolicited-SYN")
	}
	if c.State != StateSynReceived || c.ServerSeq != 2000 {
		t.Fatalf("simultaneous open: state=%v serverSeq=%d", c.State, c.ServerSeq)
	}
}

func synFlag() uint8    { return 0x02 }
func ackFlag() uint8    { return 0x10 }
func synAckFlag() uint8 { return 0x02 | 0x10 }
