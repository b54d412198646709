package config

import "time"

// Default configuration values, per spec.md §6's configuration-inputs list.
const (
	DefaultLogLevel = "info"
	DefaultPIDFile  = "/run/nat-router.pid"

	DefaultInternalInterface = "eth1"
	DefaultExternalInterface = "eth2"

	DefaultARPTTL        = 15 * time.Second
	DefaultARPRetryLimit = 5

	DefaultICMPQueryTimeout      = 60 * time.Second
	DefaultTCPEstablishedIdle    = 7440 * time.Second
	DefaultTCPTransitoryIdle     = 240 * time.Second
	DefaultUnsolicitedSYNGrace   = 6 * time.Second // fixed by RFC 5382, not operator-tunable

	DefaultMetricsListen = "0.0.0.0:9090"
)
