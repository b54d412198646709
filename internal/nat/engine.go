package nat

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/athena-dhcpd/nat-router/internal/metrics"
)

// ErrExternalIDExhausted is returned by InsertMapping when the entire
// [MinExternalID, MaxExternalID] range is occupied by live mappings of the
// requested kind (spec.md §4.4's hard error on allocator wrap).
var ErrExternalIDExhausted = errors.New("nat: external identifier range exhausted")

type mappingRecord struct {
	kind        Kind
	internalIP  [4]byte
	externalIP  [4]byte
	internalID  uint16
	externalID  uint16
	lastTouched time.Time
	conns       map[[4]byte]*connRecord
}

type connRecord struct {
	remoteIP    [4]byte
	state       TCPState
	clientSeq   uint32
	serverSeq   uint32
	lastTouched time.Time
}

type synKey struct {
	ip   [4]byte
	port uint16
}

type synRecord struct {
	ip        [4]byte
	port      uint16
	frame     []byte
	firstSeen time.Time
}

// Config carries the timeouts spec.md §6 lists as NAT configuration
// inputs.
type Config struct {
	ICMPQueryTimeout       time.Duration // default 60s
	TCPEstablishedTimeout  time.Duration // default 7440s
	TCPTransitoryTimeout   time.Duration // default 240s
	UnsolicitedSYNGrace    time.Duration // fixed 6s by RFC 5382
}

func (c Config) withDefaults() Config {
	if c.ICMPQueryTimeout <= 0 {
		c.ICMPQueryTimeout = 60 * time.Second
	}
	if c.TCPEstablishedTimeout <= 0 {
		c.TCPEstablishedTimeout = 7440 * time.Second
	}
	if c.TCPTransitoryTimeout <= 0 {
		c.TCPTransitoryTimeout = 240 * time.Second
	}
	if c.UnsolicitedSYNGrace <= 0 {
		c.UnsolicitedSYNGrace = 6 * time.Second
	}
	return c
}

// Engine is the NAT state engine: the mapping table, its connection
// subtables, the unsolicited-SYN table, and the two external-id
// allocators, all guarded by a single mutex per spec.md §5.
type Engine struct {
	mu sync.Mutex

	cfg Config

	byInternal map[Key]*mappingRecord
	byExternal [2]map[uint16]*mappingRecord // indexed by Kind
	nextID     [2]uint16                    // indexed by Kind

	syns map[synKey]*synRecord

	logger *slog.Logger

	// PortUnreachable is invoked (outside the lock) by Sweep to emit an ICMP
	// port-unreachable to a SYN's original source when it reaps an expired
	// unmatched SYN entry.
	PortUnreachable func(frame []byte)

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Engine. PortUnreachable should be set before
// StartSweeper is called.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:        cfg.withDefaults(),
		byInternal: make(map[Key]*mappingRecord),
		syns:       make(map[synKey]*synRecord),
		logger:     logger,
		done:       make(chan struct{}),
	}
	e.byExternal[KindICMP] = make(map[uint16]*mappingRecord)
	e.byExternal[KindTCP] = make(map[uint16]*mappingRecord)
	e.nextID[KindICMP] = MinExternalID
	e.nextID[KindTCP] = MinExternalID
	return e
}

func snapshotMapping(m *mappingRecord) Mapping {
	conns := make(map[[4]byte]Connection, len(m.conns))
	for k, c := range m.conns {
		conns[k] = Connection{
			RemoteIP:    c.remoteIP,
			State:       c.state,
			ClientSeq:   c.clientSeq,
			ServerSeq:   c.serverSeq,
			LastTouched: c.lastTouched,
		}
	}
	return Mapping{
		Kind:        m.kind,
		InternalIP:  m.internalIP,
		ExternalIP:  m.externalIP,
		InternalID:  m.internalID,
		ExternalID:  m.externalID,
		LastTouched: m.lastTouched,
		Connections: conns,
	}
}

// LookupInternal returns an owned snapshot of the mapping keyed by
// (ipInt, auxInt, kind), if one exists.
func (e *Engine) LookupInternal(ipInt net.IP, auxInt uint16, kind Kind) (Mapping, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byInternal[Key{IP: ipKey(ipInt), ID: auxInt, Kind: kind}]
	if !ok {
		return Mapping{}, false
	}
	return snapshotMapping(m), true
}

// LookupExternal returns an owned snapshot of the mapping with external
// identifier auxExt of the given kind, if one exists.
func (e *Engine) LookupExternal(auxExt uint16, kind Kind) (Mapping, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byExternal[kind][auxExt]
	if !ok {
		return Mapping{}, false
	}
	return snapshotMapping(m), true
}

// InsertMapping is idempotent: if a mapping already exists for (ipInt,
// auxInt, kind) it returns a snapshot of it unchanged; otherwise it
// allocates a fresh external identifier, creates the mapping, and returns
// a snapshot of the new one. The external IP is left zero — callers set it
// via TouchMapping once they know the external interface's address.
func (e *Engine) InsertMapping(ipInt net.IP, auxInt uint16, kind Kind, now time.Time) (Mapping, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := Key{IP: ipKey(ipInt), ID: auxInt, Kind: kind}
	if m, ok := e.byInternal[k]; ok {
		return snapshotMapping(m), nil
	}

	extID, err := e.allocateLocked(kind)
	if err != nil {
		metrics.NATExternalIDExhausted.WithLabelValues(kind.String()).Inc()
		return Mapping{}, err
	}

	m := &mappingRecord{
		kind:        kind,
		internalIP:  k.IP,
		internalID:  auxInt,
		externalID:  extID,
		lastTouched: now,
		conns:       make(map[[4]byte]*connRecord),
	}
	e.byInternal[k] = m
	e.byExternal[kind][extID] = m
	metrics.NATMappingsCreated.WithLabelValues(kind.String()).Inc()
	metrics.NATMappingsActive.WithLabelValues(kind.String()).Set(float64(len(e.byExternal[kind])))
	return snapshotMapping(m), nil
}

// TouchMapping updates the external IP on the mapping identified by key and
// bumps its last-touched timestamp. This is the write-back counterpart to
// InsertMapping's snapshot — callers must never mutate a returned Mapping
// and expect the engine's truth to change.
func (e *Engine) TouchMapping(ipInt net.IP, auxInt uint16, kind Kind, externalIP net.IP, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byInternal[Key{IP: ipKey(ipInt), ID: auxInt, Kind: kind}]
	if !ok {
		return false
	}
	if externalIP != nil {
		m.externalIP = ipKey(externalIP)
	}
	m.lastTouched = now
	return true
}

// TouchConnection creates (if absent) or updates the connection keyed by
// remoteIP under the mapping identified by (ipInt, auxInt, kind), setting
// state/clientSeq/serverSeq when provided, and bumps its last-touched
// timestamp. It is the only way to mutate connection state.
func (e *Engine) TouchConnection(ipInt net.IP, auxInt uint16, kind Kind, remoteIP net.IP, now time.Time, mutate func(c *Connection)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byInternal[Key{IP: ipKey(ipInt), ID: auxInt, Kind: kind}]
	if !ok {
		return false
	}
	touchConnectionLocked(m, remoteIP, now, mutate)
	return true
}

// TouchConnectionByExternal is TouchConnection's counterpart for the
// external->internal direction, where the caller only knows the external
// identifier. It looks up and mutates under a single lock acquisition so
// the mapping can't be reaped by the sweeper between the lookup and the
// write.
func (e *Engine) TouchConnectionByExternal(auxExt uint16, kind Kind, remoteIP net.IP, now time.Time, mutate func(c *Connection)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byExternal[kind][auxExt]
	if !ok {
		return false
	}
	touchConnectionLocked(m, remoteIP, now, mutate)
	return true
}

// touchConnectionLocked creates (if absent) or updates the connection keyed
// by remoteIP under m, setting state/clientSeq/serverSeq when provided, and
// bumps its last-touched timestamp. Callers must hold e.mu.
func touchConnectionLocked(m *mappingRecord, remoteIP net.IP, now time.Time, mutate func(c *Connection)) {
	rk := ipKey(remoteIP)
	c, ok := m.conns[rk]
	if !ok {
		c = &connRecord{remoteIP: rk, state: StateClosed}
		m.conns[rk] = c
	}
	if mutate != nil {
		snap := Connection{RemoteIP: c.remoteIP, State: c.state, ClientSeq: c.clientSeq, ServerSeq: c.serverSeq}
		mutate(&snap)
		c.state = snap.State
		c.clientSeq = snap.ClientSeq
		c.serverSeq = snap.ServerSeq
	}
	c.lastTouched = now
	m.lastTouched = now
}

// ParkSYN deduplicates-inserts a parked copy of an unsolicited inbound TCP
// SYN keyed by (remoteIP, remotePort).
func (e *Engine) ParkSYN(remoteIP net.IP, remotePort uint16, frame []byte, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := synKey{ip: ipKey(remoteIP), port: remotePort}
	if _, exists := e.syns[k]; exists {
		return
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	e.syns[k] = &synRecord{ip: k.ip, port: remotePort, frame: buf, firstSeen: now}
	metrics.NATUnsolicitedSYNsParked.Inc()
}
