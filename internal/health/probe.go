// Package health performs reachability checks against a tunnel's forwarded
// port.
//
// A probe is one TCP dial: if the connection establishes within the timeout it
// is immediately closed and the tunnel's data plane is considered reachable.
// This deliberately tests more than process liveness — an ssh process can be
// alive while its forwarding channel is wedged, and only an actual connect
// distinguishes the two.
package health

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Result classifies the outcome of one probe.
type Result int

const (
	// Healthy means the TCP connection was established.
	Healthy Result = iota
	// Unreachable means the dial failed outright (connection refused, no
	// route, listener gone).
	Unreachable
	// TimedOut means the dial did not complete within the probe timeout.
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Healthy:
		return "healthy"
	case Unreachable:
		return "unreachable"
	case TimedOut:
		return "timeout"
	}
	return "unknown"
}

// OK reports whether the probe succeeded.
func (r Result) OK() bool { return r == Healthy }

// Prober dials tunnel endpoints with a fixed per-probe timeout.
type Prober struct {
	Timeout time.Duration
}

// NewProber returns a Prober with the given per-dial timeout.
func NewProber(timeout time.Duration) *Prober {
	return &Prober{Timeout: timeout}
}

// Check attempts one TCP connection to endpoint ("addr:port"). The dial is
// bounded by both the prober timeout and ctx, so an in-flight probe observes
// shutdown promptly.
func (p *Prober) Check(ctx context.Context, endpoint string) Result {
	dialer := &net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			slog.Debug("health probe timed out", "endpoint", endpoint)
			return TimedOut
		}
		slog.Debug("health probe failed", "endpoint", endpoint, "error", err)
		return Unreachable
	}
	_ = conn.Close()
	return Healthy
}
