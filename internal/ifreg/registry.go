// Package ifreg is the interface registry: name->(MAC, IP) and the reverse
// IP->name lookup the pipeline uses to decide whether a packet is destined
// to the router itself. Built once at startup and read-only thereafter.
package ifreg

import "net"

// Interface describes one named router-owned interface.
type Interface struct {
	Name string
	MAC  net.HardwareAddr
	IP   net.IP
}

// Registry is an immutable set of interfaces, indexed both by name and by
// IP for O(1) lookup in either direction.
type Registry struct {
	byName map[string]Interface
	byIP   map[string]Interface
}

// New builds a Registry from ifaces.
func New(ifaces []Interface) *Registry {
	r := &Registry{
		byName: make(map[string]Interface, len(ifaces)),
		byIP:   make(map[string]Interface, len(ifaces)),
	}
	for _, i := range ifaces {
		r.byName[i.Name] = i
		r.byIP[i.IP.To4().String()] = i
	}
	return r
}

// Get looks up an interface by name.
func (r *Registry) Get(name string) (Interface, bool) {
	i, ok := r.byName[name]
	return i, ok
}

// GetByIP looks up the interface owning ip, used to decide whether an
// inbound packet is addressed to the router itself.
func (r *Registry) GetByIP(ip net.IP) (Interface, bool) {
	i, ok := r.byIP[ip.To4().String()]
	return i, ok
}

// Owns reports whether ip belongs to any registered interface.
func (r *Registry) Owns(ip net.IP) bool {
	_, ok := r.GetByIP(ip)
	return ok
}

// All returns every registered interface, in no particular order.
func (r *Registry) All() []Interface {
	out := make([]Interface, 0, len(r.byName))
	for _, i := range r.byName {
		out = append(out, i)
	}
	return out
}
