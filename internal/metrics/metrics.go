// Package metrics defines all Prometheus metrics for the router process.
// All metrics use the "nat_router_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nat_router"

// --- Pipeline Metrics ---

var (
	// FramesReceived counts Ethernet frames received, by interface and
	// ethertype.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Total Ethernet frames received, by interface and ethertype.",
	}, []string{"iface", "ethertype"})

	// FramesDropped counts frames dropped, by reason.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Total frames dropped, by reason.",
	}, []string{"reason"})

	// FramesForwarded counts frames successfully forwarded, by outgoing
	// interface.
	FramesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_forwarded_total",
		Help:      "Total frames forwarded, by outgoing interface.",
	}, []string{"iface"})

	// ICMPErrorsSent counts generated ICMP error datagrams, by type.
	ICMPErrorsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "icmp_errors_sent_total",
		Help:      "Total ICMP error datagrams generated, by type (net_unreachable, host_unreachable, port_unreachable, time_exceeded).",
	}, []string{"type"})

	// PacketProcessingDuration tracks frame handling latency.
	PacketProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "packet_processing_duration_seconds",
		Help:      "Frame processing duration in seconds.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"ethertype"})
)

// --- Routing Metrics ---

var (
	// RouteLookups counts longest-prefix-match lookups by result.
	RouteLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "route_lookups_total",
		Help:      "Total routing table lookups, by result (hit, miss).",
	}, []string{"result"})

	// RoutesLoaded is a gauge of the number of routes currently loaded.
	RoutesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "routes_loaded",
		Help:      "Number of routes currently loaded in the routing table.",
	})
)

// --- ARP Cache Metrics ---

var (
	// ARPCacheEntries is a gauge of resolved ARP cache entries.
	ARPCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "arp_cache_entries",
		Help:      "Number of resolved entries currently in the ARP cache.",
	})

	// ARPPendingRequests is a gauge of unresolved pending ARP requests.
	ARPPendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "arp_pending_requests",
		Help:      "Number of unresolved pending ARP requests.",
	})

	// ARPProbesSent counts ARP request probes transmitted.
	ARPProbesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arp_probes_sent_total",
		Help:      "Total ARP request probes transmitted.",
	})

	// ARPResolutionFailures counts exhausted ARP retry budgets.
	ARPResolutionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arp_resolution_failures_total",
		Help:      "Total ARP resolutions that exhausted their retry budget.",
	})
)

// --- NAT Metrics ---

var (
	// NATMappingsActive is a gauge of live NAT mappings, by kind.
	NATMappingsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "nat_mappings_active",
		Help:      "Number of currently live NAT mappings, by kind (icmp, tcp).",
	}, []string{"kind"})

	// NATConnectionsActive is a gauge of live TCP connections tracked
	// across all mappings.
	NATConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "nat_connections_active",
		Help:      "Number of currently tracked TCP connections across all NAT mappings.",
	})

	// NATMappingsCreated counts new mapping insertions, by kind.
	NATMappingsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nat_mappings_created_total",
		Help:      "Total NAT mappings created, by kind.",
	}, []string{"kind"})

	// NATMappingsReaped counts mappings removed by the timeout sweeper, by
	// kind.
	NATMappingsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nat_mappings_reaped_total",
		Help:      "Total NAT mappings reaped by the timeout sweeper, by kind.",
	}, []string{"kind"})

	// NATExternalIDExhausted counts allocator exhaustion events, by kind.
	NATExternalIDExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nat_external_id_exhausted_total",
		Help:      "Total times the external identifier allocator reported full exhaustion, by kind.",
	}, []string{"kind"})

	// NATUnsolicitedSYNsParked counts unsolicited inbound SYNs parked
	// pending the grace period.
	NATUnsolicitedSYNsParked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nat_unsolicited_syns_parked_total",
		Help:      "Total unsolicited inbound TCP SYNs parked pending the grace period.",
	})

	// NATUnsolicitedSYNsRejected counts parked SYNs that aged out with no
	// matching mapping and triggered a port-unreachable.
	NATUnsolicitedSYNsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nat_unsolicited_syns_rejected_total",
		Help:      "Total parked SYNs that aged out with no matching mapping.",
	})
)

// --- Process Info ---

var (
	// ServerInfo is a constant gauge with build/version metadata.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Router build and version info.",
	}, []string{"version"})

	// ServerStartTime tracks process start time as a unix timestamp.
	ServerStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_start_time_seconds",
		Help:      "Router process start time as Unix timestamp.",
	})
)
