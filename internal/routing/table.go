// Package routing implements the longest-prefix-match routing table.
// The table is loaded once at startup (from whatever format the external
// route-file loader uses) and is read-only thereafter, so no lock is needed.
package routing

import (
	"math/bits"
	"net"

	"github.com/athena-dhcpd/nat-router/internal/metrics"
)

// Route is one entry in the routing table: packets matching Network are
// sent out Interface toward Gateway (the zero IP means "directly
// connected", i.e. the destination itself is the next hop).
type Route struct {
	Network   *net.IPNet
	Gateway   net.IP
	Interface string
}

// Table is an immutable, ordered set of routes.
type Table struct {
	routes []Route
}

// New builds a Table from routes, preserving their order for tie-breaking.
func New(routes []Route) *Table {
	t := &Table{routes: make([]Route, len(routes))}
	copy(t.routes, routes)
	metrics.RoutesLoaded.Set(float64(len(t.routes)))
	return t
}

// Lookup returns the route whose network contains dst with the greatest
// prefix length (mask population count). Ties are broken by the order
// routes were supplied to New. ok is false if no route matches.
func (t *Table) Lookup(dst net.IP) (route Route, ok bool) {
	dst4 := dst.To4()
	if dst4 == nil {
		return Route{}, false
	}
	bestOnes := -1
	for _, r := range t.routes {
		if !r.Network.Contains(dst4) {
			continue
		}
		ones, _ := r.Network.Mask.Size()
		if ones > bestOnes {
			bestOnes = ones
			route = r
			ok = true
		}
	}
	if ok {
		metrics.RouteLookups.WithLabelValues("hit").Inc()
	} else {
		metrics.RouteLookups.WithLabelValues("miss").Inc()
	}
	return route, ok
}

// maskPopcount counts the set bits of a raw mask. Lookup does not call it;
// it ranks routes with net.IPMask.Size instead.
func maskPopcount(mask net.IPMask) int {
	n := 0
	for _, b := range mask {
		n += bits.OnesCount8(b)
	}
	return n
}
