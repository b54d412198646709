package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	FramesReceived.WithLabelValues("eth1", "ipv4").Inc()
	FramesDropped.WithLabelValues("bad_checksum").Inc()
	FramesForwarded.WithLabelValues("eth2").Inc()
	ICMPErrorsSent.WithLabelValues("port_unreachable").Inc()
	RouteLookups.WithLabelValues("hit").Inc()
	RoutesLoaded.Set(12)
	ARPCacheEntries.Set(3)
	ARPPendingRequests.Set(1)
	ARPProbesSent.Inc()
	ARPResolutionFailures.Inc()
	NATMappingsActive.WithLabelValues("tcp").Set(7)
	NATConnectionsActive.Set(7)
	NATMappingsCreated.WithLabelValues("tcp").Inc()
	NATMappingsReaped.WithLabelValues("icmp").Inc()
	NATExternalIDExhausted.WithLabelValues("tcp").Inc()
	NATUnsolicitedSYNsParked.Inc()
	NATUnsolicitedSYNsRejected.Inc()
	ServerStartTime.SetToCurrentTime()
	ServerInfo.WithLabelValues("dev").Set(1)

	if got := testutil.ToFloat64(RoutesLoaded); got != 12 {
		t.Errorf("RoutesLoaded = %v, want 12", got)
	}
	if got := testutil.ToFloat64(ARPProbesSent); got != 1 {
		t.Errorf("ARPProbesSent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(NATUnsolicitedSYNsParked); got != 1 {
		t.Errorf("NATUnsolicitedSYNsParked = %v, want 1", got)
	}
}

func TestMetricsNamespace(t *testing.T) {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	for _, mf := range mfs {
		name := mf.GetName()
		if strings.HasPrefix(name, "go_") ||
			strings.HasPrefix(name, "process_") ||
			strings.HasPrefix(name, "promhttp_") {
			continue
		}
		if !strings.HasPrefix(name, "nat_router_") {
			t.Errorf("metric %q does not have nat_router_ prefix", name)
		}
	}
}
