// Package tunnel contains the supervision core: per-tunnel supervisors owning
// process handles and health history, and the manager that drives them on a
// shared schedule.
package tunnel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tunneld/tunneld/internal/events"
	"github.com/tunneld/tunneld/internal/health"
	"github.com/tunneld/tunneld/internal/model"
	"github.com/tunneld/tunneld/internal/policy"
)

// Process is the handle contract the supervisor requires from the process
// layer. Exactly one live Process exists per tunnel at any time, or none while
// a restart is pending.
type Process interface {
	Pid() int
	Alive() bool
	LastStderr() string
	Terminate(grace time.Duration) error
}

// ProcessStarter abstracts SSH tunnel process creation for testing.
type ProcessStarter interface {
	Start(ctx context.Context, spec model.ForwardingSpec) (Process, error)
}

// HealthProber abstracts the reachability check for testing.
type HealthProber interface {
	Check(ctx context.Context, endpoint string) health.Result
}

// Supervisor owns one tunnel end to end: its process handle, health history
// and restart policy state. Side effects are confined to this tunnel's own
// process; supervisors never observe each other.
type Supervisor struct {
	index   int
	spec    model.ForwardingSpec
	starter ProcessStarter
	prober  HealthProber
	policy  policy.Policy
	warmup  time.Duration
	grace   time.Duration
	rec     events.Recorder

	// ctx bounds every process spawned for this tunnel; cancelled on
	// shutdown as a backstop against orphans.
	ctx    context.Context
	cancel context.CancelFunc

	// busy serializes ticks: if the shared interval fires again while this
	// tunnel's previous tick is still probing, the new tick is dropped.
	busy atomic.Bool

	mu          sync.Mutex
	proc        Process
	tracker     *policy.Tracker
	notBefore   time.Time // no health check before this instant (spawn warmup)
	lastChecked time.Time
	lastError   string
	stopped     bool
}

func newSupervisor(index int, spec model.ForwardingSpec, starter ProcessStarter, prober HealthProber, pol policy.Policy, warmup, grace time.Duration, rec events.Recorder) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		index:   index,
		spec:    spec,
		starter: starter,
		prober:  prober,
		policy:  pol,
		warmup:  warmup,
		grace:   grace,
		rec:     rec,
		ctx:     ctx,
		cancel:  cancel,
		tracker: policy.NewTracker(),
	}
}

// Start spawns the tunnel's initial process. A spawn failure is recorded as a
// failed health check, not returned: the supervision loop will accumulate
// failures and restart on the usual schedule.
func (s *Supervisor) Start(now time.Time) {
	proc, err := s.starter.Start(s.ctx, s.spec)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if proc != nil {
			_ = proc.Terminate(s.grace)
		}
		return
	}
	if err != nil {
		s.lastError = err.Error()
		s.policy.Observe(s.tracker, false, now)
		s.mu.Unlock()
		slog.Error("failed to start tunnel", "tunnel", s.index, "forward", s.spec.Arg(), "error", err)
		return
	}
	s.proc = proc
	s.notBefore = now.Add(s.warmup)
	s.mu.Unlock()

	slog.Info("started tunnel", "tunnel", s.index, "forward", s.spec.Arg(), "pid", proc.Pid())
	s.rec.Record(events.Event{
		TunnelIndex: s.index,
		Forward:     s.spec.Arg(),
		EventType:   events.TypeStarted,
		Status:      model.StatusStarting,
		PID:         proc.Pid(),
	})
}

// Tick runs one health evaluation if due and acts on the resulting policy
// decision. Order within a tick is fixed: liveness, then (only for a live
// process) the port probe, then the policy update, then the action. Ticks for
// one tunnel never overlap; a tick arriving while the previous one still runs
// is dropped.
func (s *Supervisor) Tick(ctx context.Context, now time.Time) {
	if !s.busy.CompareAndSwap(false, true) {
		return
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	if s.stopped || now.Before(s.notBefore) {
		s.mu.Unlock()
		return
	}
	proc := s.proc
	s.mu.Unlock()

	// Health evaluation runs without the lock so a slow probe cannot block
	// Shutdown or Snapshot. A dead process is an immediate failure and
	// short-circuits the port probe: a stale listener on the bind port must
	// not mask a dead tunnel as healthy.
	ok := false
	reason := ""
	switch {
	case proc == nil || !proc.Alive():
		reason = "process not running"
		if proc != nil {
			if line := proc.LastStderr(); line != "" {
				reason = line
			}
		}
	default:
		res := s.prober.Check(ctx, s.spec.ProbeEndpoint())
		ok = res.OK()
		if !ok {
			reason = "probe " + res.String()
		}
	}
	if ctx.Err() != nil {
		// Shutdown arrived mid-probe; the outcome no longer matters.
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.lastChecked = now
	prev := s.tracker.Status
	dec := s.policy.Observe(s.tracker, ok, now)
	if ok {
		s.lastError = ""
		if prev != model.StatusHealthy {
			slog.Info("tunnel healthy", "tunnel", s.index, "forward", s.spec.Arg())
			if prev == model.StatusFailed || prev == model.StatusDegraded {
				s.rec.Record(events.Event{
					TunnelIndex: s.index,
					Forward:     s.spec.Arg(),
					EventType:   events.TypeRecovered,
					Status:      model.StatusHealthy,
				})
			}
		}
		s.mu.Unlock()
		return
	}

	s.lastError = reason
	failures := s.tracker.ConsecutiveFailures
	status := s.tracker.Status
	var old Process
	if dec.RestartScheduled {
		// The failed process is killed at decision time; the respawn waits
		// for the backoff window.
		old = s.proc
		s.proc = nil
	}
	restart := old == nil && s.proc == nil && s.policy.RestartDue(s.tracker, now)
	s.mu.Unlock()

	switch {
	case dec.RestartScheduled:
		slog.Warn("tunnel failed, restart scheduled",
			"tunnel", s.index, "forward", s.spec.Arg(),
			"failures", failures, "reason", reason, "delay", dec.Delay)
		s.rec.Record(events.Event{
			TunnelIndex: s.index,
			Forward:     s.spec.Arg(),
			EventType:   events.TypeRestartScheduled,
			Status:      model.StatusFailed,
			Message:     reason,
		})
	case status == model.StatusDegraded:
		slog.Warn("tunnel check failed",
			"tunnel", s.index, "forward", s.spec.Arg(),
			"failures", failures, "threshold", s.policy.Threshold, "reason", reason)
		if prev != model.StatusDegraded {
			s.rec.Record(events.Event{
				TunnelIndex: s.index,
				Forward:     s.spec.Arg(),
				EventType:   events.TypeDegraded,
				Status:      model.StatusDegraded,
				Message:     reason,
			})
		}
	}

	if old != nil {
		if err := old.Terminate(s.grace); err != nil {
			slog.Warn("error terminating failed tunnel process", "tunnel", s.index, "error", err)
		}
	}
	if restart {
		s.restart(now)
	}
}

// restart spawns the replacement process once the backoff window has elapsed.
// The failed process was already terminated at decision time. Runs off the
// supervisor lock; only the state hand-over is locked.
func (s *Supervisor) restart(now time.Time) {
	proc, err := s.starter.Start(s.ctx, s.spec)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if proc != nil {
			_ = proc.Terminate(s.grace)
		}
		return
	}
	if err != nil {
		dec := s.policy.RestartFailed(s.tracker, now)
		s.lastError = err.Error()
		s.mu.Unlock()
		slog.Error("failed to restart tunnel",
			"tunnel", s.index, "forward", s.spec.Arg(), "error", err, "next_attempt_in", dec.Delay)
		s.rec.Record(events.Event{
			TunnelIndex: s.index,
			Forward:     s.spec.Arg(),
			EventType:   events.TypeRestartFailed,
			Status:      model.StatusFailed,
			Message:     err.Error(),
		})
		return
	}
	s.proc = proc
	s.policy.RestartSpawned(s.tracker)
	s.notBefore = now.Add(s.warmup)
	attempt := s.tracker.Attempt
	s.mu.Unlock()

	slog.Info("restarted tunnel", "tunnel", s.index, "forward", s.spec.Arg(), "pid", proc.Pid(), "attempt", attempt)
	s.rec.Record(events.Event{
		TunnelIndex: s.index,
		Forward:     s.spec.Arg(),
		EventType:   events.TypeRestarted,
		Status:      model.StatusStarting,
		PID:         proc.Pid(),
	})
}

// Shutdown terminates the underlying process and marks the supervisor inert.
// It is idempotent and safe to call concurrently with an in-progress Tick.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	old := s.proc
	s.proc = nil
	s.tracker.Status = model.StatusStopped
	s.mu.Unlock()

	if old != nil {
		if err := old.Terminate(s.grace); err != nil {
			slog.Warn("tunnel process did not exit cleanly", "tunnel", s.index, "error", err)
		}
	}
	s.cancel()
	slog.Info("stopped tunnel", "tunnel", s.index, "forward", s.spec.Arg())
	s.rec.Record(events.Event{
		TunnelIndex: s.index,
		Forward:     s.spec.Arg(),
		EventType:   events.TypeStopped,
		Status:      model.StatusStopped,
	})
}

// Snapshot returns a read-only view of the tunnel's current state.
func (s *Supervisor) Snapshot() model.TunnelSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := model.TunnelSnapshot{
		Index:               s.index,
		Spec:                s.spec,
		Status:              s.tracker.Status,
		ConsecutiveFailures: s.tracker.ConsecutiveFailures,
		Attempt:             s.tracker.Attempt,
		LastError:           s.lastError,
		LastCheckedAt:       s.lastChecked,
	}
	if s.proc != nil {
		snap.PID = s.proc.Pid()
	}
	return snap
}
