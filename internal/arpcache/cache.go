// Package arpcache maps IPv4 addresses to Ethernet addresses with a fixed
// TTL and queues outbound packets behind unresolved addresses, retrying ARP
// requests on a 1-second sweep until they resolve or the retry budget is
// exhausted.
package arpcache

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/athena-dhcpd/nat-router/internal/metrics"
)

// QueuedPacket is a frame parked behind a pending ARP request, owned by the
// cache until it is transmitted (on resolution) or dropped (on failure).
type QueuedPacket struct {
	Frame           []byte
	OutIface        string
	OrigSrcIP       net.IP // original packet's source, for the host-unreachable reply
	ReceivedOnIface string // interface the original frame arrived on
}

// PendingRequest tracks an in-flight ARP resolution for one target IP.
type PendingRequest struct {
	TargetIP  net.IP
	FirstSent time.Time
	LastSent  time.Time
	Attempts  int
	Queue     []QueuedPacket
}

type entry struct {
	mac       net.HardwareAddr
	insertedAt time.Time
}

// Cache is the shared ARP cache. All operations are serialized by a single
// mutex, matching spec.md §5's concurrency model.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	retryMax int
	entries  map[string]entry
	pending  map[string]*PendingRequest

	logger *slog.Logger

	// Unreachable is invoked (outside the lock) once per queued packet when
	// a pending request exhausts its retry budget, so the caller can emit
	// ICMP destination-host-unreachable back to the original source.
	Unreachable func(pkt QueuedPacket)
	// SendRequest is invoked (outside the lock) to transmit an ARP probe
	// for ip out iface, on both first queueing and every retransmission.
	SendRequest func(ip net.IP, iface string)

	done chan struct{}
	wg   sync.WaitGroup
}

// Config carries the two tunables spec.md §6 names for the ARP cache.
type Config struct {
	TTL        time.Duration // default 15s
	RetryLimit int           // default 5
}

// New constructs a Cache. Callers must set Unreachable and SendRequest
// before calling StartSweeper.
func New(cfg Config, logger *slog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		ttl:      cfg.TTL,
		retryMax: cfg.RetryLimit,
		entries:  make(map[string]entry),
		pending:  make(map[string]*PendingRequest),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func key(ip net.IP) string { return ip.To4().String() }

// Lookup returns a snapshot of the live entry for ip, if any.
func (c *Cache) Lookup(ip net.IP) (mac net.HardwareAddr, remainingTTL time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[key(ip)]
	if !exists {
		return nil, 0, false
	}
	age := time.Since(e.insertedAt)
	if age >= c.ttl {
		delete(c.entries, key(ip))
		return nil, 0, false
	}
	m := make(net.HardwareAddr, len(e.mac))
	copy(m, e.mac)
	return m, c.ttl - age, true
}

// Insert records (or refreshes) mac for ip. If a pending request existed
// for ip, it is removed from the pending table and returned so the caller
// can flush its queued packets.
func (c *Cache) Insert(mac net.HardwareAddr, ip net.IP) *PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := make(net.HardwareAddr, len(mac))
	copy(m, mac)
	c.entries[key(ip)] = entry{mac: m, insertedAt: time.Now()}
	metrics.ARPCacheEntries.Set(float64(len(c.entries)))

	k := key(ip)
	req, existed := c.pending[k]
	if !existed {
		return nil
	}
	delete(c.pending, k)
	return req
}

// Queue appends frame (on interface outIface, originally sent from
// origSrcIP, received on receivedOnIface) to the pending request for ip,
// creating the request if none exists. On first creation it immediately
// emits an ARP probe via SendRequest and counts it as the request's first
// attempt; it returns the live request either way.
func (c *Cache) Queue(ip net.IP, frame []byte, outIface string, origSrcIP net.IP, receivedOnIface string) *PendingRequest {
	c.mu.Lock()
	k := key(ip)
	req, existed := c.pending[k]
	if !existed {
		now := time.Now()
		req = &PendingRequest{TargetIP: ip, FirstSent: now, LastSent: now, Attempts: 1}
		c.pending[k] = req
	}
	req.Queue = append(req.Queue, QueuedPacket{
		Frame: frame, OutIface: outIface, OrigSrcIP: origSrcIP, ReceivedOnIface: receivedOnIface,
	})
	if !existed {
		metrics.ARPPendingRequests.Set(float64(len(c.pending)))
	}
	c.mu.Unlock()

	if !existed && c.SendRequest != nil {
		metrics.ARPProbesSent.Inc()
		c.SendRequest(ip, outIface)
	}
	return req
}

// StartSweeper launches the once-per-second sweep goroutine. Stop must be
// called to shut it down cooperatively.
func (c *Cache) StartSweeper() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// Stop signals the sweeper to exit, without waiting for its next 1-second
// tick (a sweep already in progress runs to completion), and waits for it
// to observe the signal. Killing the sweeper mid-sweep is never done —
// per spec.md §9, shutdown is cooperative only.
func (c *Cache) Stop() {
	close(c.done)
	c.wg.Wait()
}

// sweep retransmits ARP requests for pending entries whose last
// transmission is at least a second old, and fails (emitting host-unreachable for every queued packet)
// any pending request that has exhausted its retry budget.
func (c *Cache) sweep() {
	type outcome struct {
		retransmit []net.IP
		ifaceOf    map[string]string
		failed     []*PendingRequest
	}
	c.mu.Lock()
	out := outcome{ifaceOf: make(map[string]string)}
	for k, req := range c.pending {
		if req.Attempts >= c.retryMax {
			out.failed = append(out.failed, req)
			delete(c.pending, k)
			continue
		}
		if time.Since(req.LastSent) >= time.Second {
			req.LastSent = time.Now()
			req.Attempts++
			out.retransmit = append(out.retransmit, req.TargetIP)
			if len(req.Queue) > 0 {
				out.ifaceOf[key(req.TargetIP)] = req.Queue[0].OutIface
			}
		}
	}
	metrics.ARPPendingRequests.Set(float64(len(c.pending)))
	c.mu.Unlock()

	for _, ip := range out.retransmit {
		if c.SendRequest != nil {
			metrics.ARPProbesSent.Inc()
			c.SendRequest(ip, out.ifaceOf[key(ip)])
		}
	}
	for _, req := range out.failed {
		metrics.ARPResolutionFailures.Inc()
		c.logger.Warn("arp resolution failed, dropping queued packets",
			"target_ip", req.TargetIP, "attempts", req.Attempts, "queued", len(req.Queue))
		for _, pkt := range req.Queue {
			if c.Unreachable != nil {
				c.Unreachable(pkt)
			}
		}
	}
}
