package nat

import (
	"time"

	"github.com/athena-dhcpd/nat-router/internal/metrics"
)

// StartSweeper launches the once-per-second timeout sweep goroutine. Stop
// must be called to shut it down cooperatively; per spec.md §9 the
// sweeper is never killed mid-pass.
func (e *Engine) StartSweeper() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-e.done:
				return
			case now := <-ticker.C:
				e.Sweep(now)
			}
		}
	}()
}

// Stop signals the sweeper to exit, without waiting for its next tick
// (a sweep already in progress runs to completion), and waits for it to do
// so.
func (e *Engine) Stop() {
	close(e.done)
	e.wg.Wait()
}

// Sweep runs one pass of the timeout sweep described in spec.md §4.4:
//  1. reap unsolicited-SYN entries older than the grace period, emitting
//     ICMP port-unreachable for any with still no matching external mapping;
//  2. reap ICMP mappings older than the ICMP query timeout;
//  3. reap TCP connections (and, transitively, mappings left with none)
//     past their state-dependent idle timeout.
//
// Victims are collected in a first pass and removed in a second, both
// under the same lock acquisition — spec.md §9's fix for the source's
// iterate-while-splicing bug, where advancing a "previous" pointer past a
// just-removed node dereferences freed memory.
func (e *Engine) Sweep(now time.Time) {
	type synVictim struct {
		key   synKey
		frame []byte
		emit  bool
	}

	e.mu.Lock()

	var synVictims []synVictim
	for k, s := range e.syns {
		if now.Sub(s.firstSeen) < e.cfg.UnsolicitedSYNGrace {
			continue
		}
		_, hasMapping := e.byExternal[KindTCP][s.port]
		synVictims = append(synVictims, synVictim{key: k, frame: s.frame, emit: !hasMapping})
	}
	for _, v := range synVictims {
		delete(e.syns, v.key)
	}

	var icmpVictims []Key
	for k, m := range e.byInternal {
		if k.Kind != KindICMP {
			continue
		}
		if now.Sub(m.lastTouched) >= e.cfg.ICMPQueryTimeout {
			icmpVictims = append(icmpVictims, k)
		}
	}
	for _, k := range icmpVictims {
		m := e.byInternal[k]
		delete(e.byExternal[KindICMP], m.externalID)
		delete(e.byInternal, k)
		metrics.NATMappingsReaped.WithLabelValues(KindICMP.String()).Inc()
	}

	var reapedMappings []Key
	for k, m := range e.byInternal {
		if k.Kind != KindTCP {
			continue
		}
		var deadConns [][4]byte
		for rk, c := range m.conns {
			if now.Sub(c.lastTouched) >= tcpIdleTimeout(e.cfg, c.state) {
				deadConns = append(deadConns, rk)
			}
		}
		for _, rk := range deadConns {
			delete(m.conns, rk)
		}
		if len(m.conns) == 0 {
			reapedMappings = append(reapedMappings, k)
		}
	}
	for _, k := range reapedMappings {
		m := e.byInternal[k]
		delete(e.byExternal[KindTCP], m.externalID)
		delete(e.byInternal, k)
		metrics.NATMappingsReaped.WithLabelValues(KindTCP.String()).Inc()
	}

	var liveConns int
	for _, m := range e.byInternal {
		liveConns += len(m.conns)
	}
	metrics.NATMappingsActive.WithLabelValues(KindICMP.String()).Set(float64(len(e.byExternal[KindICMP])))
	metrics.NATMappingsActive.WithLabelValues(KindTCP.String()).Set(float64(len(e.byExternal[KindTCP])))
	metrics.NATConnectionsActive.Set(float64(liveConns))

	e.mu.Unlock()

	for _, v := range synVictims {
		if v.emit && e.PortUnreachable != nil {
			metrics.NATUnsolicitedSYNsRejected.Inc()
			e.PortUnreachable(v.frame)
		}
	}
}

// tcpIdleTimeout returns the governing idle timeout for a connection in
// state s, per spec.md §4.4's established-vs-transitory split.
func tcpIdleTimeout(cfg Config, s TCPState) time.Duration {
	switch s {
	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
		return cfg.TCPEstablishedTimeout
	default: // syn-sent, syn-received, last-ack, closing, and any other state
		return cfg.TCPTransitoryTimeout
	}
}
