package sshclient

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Process wraps one running SSH child process with the three operations the
// supervision core needs: liveness, last diagnostic output, and bounded
// termination.
//
// A goroutine started at construction reaps the child (Cmd.Wait) and closes
// the done channel, so Alive is a non-blocking channel check rather than a
// kill(0) race, and the child can never be left a zombie.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu         sync.Mutex
	lastStderr string
	terminated bool
}

func newProcess(cmd *exec.Cmd, stderr io.ReadCloser) *Process {
	p := &Process{cmd: cmd, done: make(chan struct{})}

	// Drain stderr and remember the last non-empty line. SSH writes its
	// failure reason there ("Permission denied", "bind: Address already in
	// use") and that line is worth having in the failure log.
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			p.mu.Lock()
			p.lastStderr = line
			p.mu.Unlock()
		}
	}()

	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p
}

// Pid returns the OS process id of the child.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Alive reports whether the child has not yet exited. It never blocks.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// LastStderr returns the most recent non-empty line the child wrote to
// stderr, or "" if it has written nothing.
func (p *Process) LastStderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastStderr
}

// Terminate stops the child: SIGTERM first, then SIGKILL once the grace
// window elapses, then waits for the exit to be reaped. It returns an error
// only when the process ignored SIGTERM and had to be killed — callers log
// that, they do not propagate it.
//
// Terminate is idempotent; the second and later calls return immediately.
func (p *Process) Terminate(grace time.Duration) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil
	}
	p.terminated = true
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil // already exited on its own
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	_ = p.cmd.Process.Kill()
	<-p.done
	return &ShutdownError{Pid: p.Pid(), Grace: grace}
}

// ShutdownError reports that a process did not exit within the termination
// grace window and was forcibly killed. It is logged, never fatal.
type ShutdownError struct {
	Pid   int
	Grace time.Duration
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("process %d did not exit within %s, killed", e.Pid, e.Grace)
}
