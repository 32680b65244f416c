package model

import (
	"fmt"
	"time"

	"github.com/tunneld/tunneld/internal/util"
)

// ForwardMode selects the direction of an SSH port forward.
type ForwardMode string

const (
	// ForwardLocal maps to ssh -L: the local machine listens and forwards
	// through the SSH connection to the remote side.
	ForwardLocal ForwardMode = "local"
	// ForwardRemote maps to ssh -R: the SSH server listens and forwards back
	// to an endpoint reachable from the local machine.
	ForwardRemote ForwardMode = "remote"
)

// Flag returns the ssh command-line flag for the mode.
func (m ForwardMode) Flag() string {
	if m == ForwardRemote {
		return "-R"
	}
	return "-L"
}

// ForwardingSpec is one validated tunnel endpoint description. It is immutable
// once constructed; its identity is its own field tuple.
type ForwardingSpec struct {
	Mode       ForwardMode `json:"mode"`
	BindAddr   string      `json:"bind_addr,omitempty"`
	LocalPort  int         `json:"local_port"`
	RemoteHost string      `json:"remote_host"`
	RemotePort int         `json:"remote_port"`
}

// Arg renders the spec in ssh -L/-R argument form:
// [bind_addr:]local_port:remote_host:remote_port.
func (f ForwardingSpec) Arg() string {
	if f.BindAddr != "" {
		return fmt.Sprintf("%s:%d:%s:%d", f.BindAddr, f.LocalPort, f.RemoteHost, f.RemotePort)
	}
	return fmt.Sprintf("%d:%s:%d", f.LocalPort, f.RemoteHost, f.RemotePort)
}

// BindEndpoint is the address/port pair the local machine binds for a -L
// forward, and the key used for duplicate-bind detection.
func (f ForwardingSpec) BindEndpoint() string {
	return fmt.Sprintf("%s:%d", util.NormalizeAddr(f.BindAddr, "127.0.0.1"), f.LocalPort)
}

// ProbeEndpoint is the endpoint the health probe dials: the side of the tunnel
// that this machine owns. For a -L forward that is the locally bound listener;
// for a -R forward the listener lives on the SSH server, so the probe targets
// the local endpoint the tunnel forwards into.
func (f ForwardingSpec) ProbeEndpoint() string {
	if f.Mode == ForwardRemote {
		return fmt.Sprintf("%s:%d", util.NormalizeAddr(f.RemoteHost, "127.0.0.1"), f.RemotePort)
	}
	return f.BindEndpoint()
}

// TunnelStatus is the supervisor-derived health state of one tunnel.
type TunnelStatus string

const (
	StatusStarting TunnelStatus = "starting"
	StatusHealthy  TunnelStatus = "healthy"
	StatusDegraded TunnelStatus = "degraded"
	StatusFailed   TunnelStatus = "failed"
	StatusStopped  TunnelStatus = "stopped"
)

// TunnelSnapshot is a read-only view of one supervised tunnel, for logging and
// status consumers. Mutating a snapshot has no effect on the supervisor.
type TunnelSnapshot struct {
	Index               int            `json:"index"`
	Spec                ForwardingSpec `json:"spec"`
	Status              TunnelStatus   `json:"status"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Attempt             int            `json:"attempt"`
	PID                 int            `json:"pid,omitempty"`
	LastError           string         `json:"last_error,omitempty"`
	LastCheckedAt       time.Time      `json:"last_checked_at,omitzero"`
}
