// Package sshclient spawns and controls the external SSH processes that back
// supervised tunnels.
//
// This package is responsible for launching SSH processes — it does NOT
// implement the SSH protocol itself. It shells out to the system's "ssh"
// binary, which means tunnels automatically inherit the user's full SSH
// configuration (keys, agents, ProxyJump chains, etc.) without reimplementing
// any of that logic.
//
// Every tunnel process is started with:
//
//	ssh -N -o ServerAliveInterval=30 -o StrictHostKeyChecking=no \
//	    -o ExitOnForwardFailure=yes -L|-R <spec> [-i key] [-p port] user@host
//
// ExitOnForwardFailure is load-bearing: without it, ssh happily stays alive
// with the forwarding dead, and the supervisor would see a live process whose
// port probe never succeeds. With it, a failed forward kills the process and
// the liveness check catches the failure on the next tick.
//
// Security note: all SSH arguments are passed via exec.Command's argv (not via
// shell interpolation), which prevents injection from forwarding specs that
// contain shell metacharacters.
package sshclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/tunneld/tunneld/internal/model"
)

// SpawnError reports that an SSH process could not be created. The supervisor
// treats it as a failed health check, never as a fatal condition.
type SpawnError struct {
	Spec model.ForwardingSpec
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn tunnel %s: %v", e.Spec.Arg(), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Client builds and launches SSH tunnel processes for a single remote
// endpoint.
//
// Client is stateless apart from its configuration and safe for concurrent
// use — each Start call creates an independent exec.Cmd, so supervisors for
// different tunnels may spawn simultaneously.
type Client struct {
	remote model.Remote
}

// New creates a client that tunnels through the given remote.
func New(remote model.Remote) *Client {
	return &Client{remote: remote}
}

// EnsureSSHBinary checks that the "ssh" binary is available on the system
// PATH. Called during preflight so a missing client surfaces as a clear error
// before any tunnel is attempted.
func EnsureSSHBinary() error {
	if _, err := exec.LookPath("ssh"); err != nil {
		return fmt.Errorf("ssh binary not found in PATH")
	}
	return nil
}

// BuildArgs constructs the SSH command-line arguments for a tunnel without
// starting a process. Exposed separately so argument composition is testable
// on its own and so the CLI can print the exact command it would run.
func (c *Client) BuildArgs(spec model.ForwardingSpec) []string {
	args := []string{
		"-N",
		"-o", "ServerAliveInterval=30",
		"-o", "StrictHostKeyChecking=no",
		"-o", "ExitOnForwardFailure=yes",
		spec.Mode.Flag(), spec.Arg(),
	}
	if key := c.remote.IdentityFile; key != "" {
		if _, err := os.Stat(key); err == nil {
			args = append(args, "-i", key)
		}
	}
	if c.remote.Port != 0 && c.remote.Port != 22 {
		args = append(args, "-p", strconv.Itoa(c.remote.Port))
	}
	return append(args, c.remote.Target())
}

// Start launches one SSH tunnel process for the given spec.
//
// The process runs in the background: stdin is nil, stdout is discarded (-N
// produces none), and stderr is drained by the returned Process so the child
// can never block on a full pipe buffer. The ctx parameter is wired through
// exec.CommandContext, so cancelling it kills the process — this ties every
// tunnel's lifetime to its supervisor.
//
// The caller owns the returned Process and must eventually call Terminate
// exactly once, whether for a restart or for shutdown.
func (c *Client) Start(ctx context.Context, spec model.ForwardingSpec) (*Process, error) {
	cmd := exec.CommandContext(ctx, "ssh", c.BuildArgs(spec)...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Spec: spec, Err: err}
	}
	cmd.Stdout = io.Discard
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Spec: spec, Err: err}
	}
	return newProcess(cmd, stderr), nil
}
