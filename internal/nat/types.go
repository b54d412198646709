// Package nat implements the stateful NAT engine: the mapping table, the
// per-mapping TCP connection table, the unsolicited-SYN holding queue, the
// external-identifier allocator, and the periodic timeout sweeper.
//
// All mutation and sweep work happens under a single engine-wide mutex.
// Lookups return owned snapshot copies so callers never read or write
// through a pointer shared with the engine — the "mutation through a
// returned snapshot" pattern is the bug this package is built to avoid.
package nat

import (
	"net"
	"time"
)

// Kind distinguishes ICMP-query mappings from TCP mappings.
type Kind int

const (
	KindICMP Kind = iota
	KindTCP
)

func (k Kind) String() string {
	if k == KindICMP {
		return "icmp"
	}
	return "tcp"
}

// TCPState is one of the connection states spec.md §3/§4.4 names.
type TCPState int

const (
	StateClosed TCPState = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

// MinExternalID and MaxExternalID bound the external identifier range
// spec.md §3 invariant (iii) requires.
const (
	MinExternalID uint16 = 1024
	MaxExternalID uint16 = 65535
)

// Key identifies a mapping by its internal (ip, id, kind) triple.
type Key struct {
	IP   [4]byte
	ID   uint16
	Kind Kind
}

// Connection is a per-mapping TCP entry keyed by remote (external) IP.
// This is always an owned snapshot when returned from the package; all
// mutation goes through TouchConnection.
type Connection struct {
	RemoteIP   [4]byte
	State      TCPState
	ClientSeq  uint32
	ServerSeq  uint32
	LastTouched time.Time
}

// Mapping is a 5-tuple binding plus its connection set. Always an owned
// snapshot when returned from the package; all mutation goes through
// TouchMapping/TouchConnection.
type Mapping struct {
	Kind        Kind
	InternalIP  [4]byte
	ExternalIP  [4]byte
	InternalID  uint16
	ExternalID  uint16
	LastTouched time.Time
	Connections map[[4]byte]Connection
}

// HasLiveConnections reports whether the mapping owns at least one
// connection. A TCP mapping with none is eligible for reaping.
func (m Mapping) HasLiveConnections() bool { return len(m.Connections) > 0 }

// SYNEntry is a parked, unsolicited inbound TCP SYN waiting out the grace
// period before either a mapping appears or an ICMP port-unreachable is
// sent to its source.
type SYNEntry struct {
	RemoteIP   [4]byte
	RemotePort uint16
	Frame      []byte
	FirstSeen  time.Time
}

func ipKey(ip net.IP) [4]byte {
	var b [4]byte
	copy(b[:], ip.To4())
	return b
}
