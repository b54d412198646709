package ifreg

import (
	"net"
	"testing"
)

func TestRegistryLookupBothDirections(t *testing.T) {
	r := New([]Interface{
		{Name: "eth1", MAC: net.HardwareAddr{0, 1, 2, 3, 4, 5}, IP: net.IPv4(10, 0, 1, 1)},
		{Name: "eth2", MAC: net.HardwareAddr{0, 1, 2, 3, 4, 6}, IP: net.IPv4(172, 16, 0, 1)},
	})

	iface, ok := r.Get("eth1")
	if !ok || !iface.IP.Equal(net.IPv4(10, 0, 1, 1)) {
		t.Fatalf("Get(eth1) = %+v, %v", iface, ok)
	}

	iface, ok = r.GetByIP(net.IPv4(172, 16, 0, 1))
	if !ok || iface.Name != "eth2" {
		t.Fatalf("GetByIP(172.16.0.1) = %+v, %v, want eth2", iface, ok)
	}

	if r.Owns(net.IPv4(8, 8, 8, 8)) {
		t.Fatal("Owns reported an unregistered IP as local")
	}
	if !r.Owns(net.IPv4(10, 0, 1, 1)) {
		t.Fatal("Owns reported a registered IP as not local")
	}
}
