// Package util provides common utility functions and constants used across
// tunneld. This package is intentionally kept dependency-free (no imports from
// other internal/* packages) to serve as a shared foundation without
// introducing circular dependencies.
package util

import "time"

const (
	// DefaultCheckInterval is the period of the shared supervision loop. Every
	// interval the manager fires one health evaluation per tunnel. Five seconds
	// keeps detection latency low without hammering loopback with dials.
	DefaultCheckInterval = 5 * time.Second

	// DefaultProbeTimeout bounds a single TCP health probe against a tunnel's
	// locally bound endpoint. A loopback connect normally completes in well
	// under a millisecond; the full two seconds only ever elapses when the
	// tunnel is genuinely wedged.
	DefaultProbeTimeout = 2 * time.Second

	// DefaultFailureThreshold is the number of consecutive failed checks after
	// which a tunnel is declared failed and a restart is scheduled.
	DefaultFailureThreshold = 3

	// DefaultWarmup delays the first health check after a spawn so the SSH
	// handshake has a chance to complete before failures start counting.
	DefaultWarmup = 1 * time.Second

	// DefaultBackoffBase and DefaultBackoffMax bound the exponential restart
	// backoff schedule: 1s, 2s, 4s, ... capped at 60s.
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMax  = 60 * time.Second

	// DefaultShutdownGrace is how long a terminated SSH process gets to exit
	// after SIGTERM before it is killed outright.
	DefaultShutdownGrace = 3 * time.Second
)
