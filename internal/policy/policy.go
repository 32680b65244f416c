// Package policy implements the restart decision state machine for a
// supervised tunnel.
//
// The policy is pure: it never reads the clock, spawns processes, or performs
// I/O. Each health outcome is fed in together with the current time, and the
// policy answers with whether a restart was scheduled and when it becomes
// eligible. This keeps the whole restart/backoff behavior unit-testable with
// constructed timestamps, no real tunnels involved.
//
// State transitions:
//
//	starting/healthy --failure--> degraded --threshold reached--> failed
//	any state        --success--> healthy
//
// A failed tunnel keeps being probed; the restart only executes once the
// backoff window has elapsed. There is no terminal state — a tunnel that never
// recovers is retried forever at the capped interval.
package policy

import (
	"time"

	"github.com/tunneld/tunneld/internal/model"
	"github.com/tunneld/tunneld/internal/util"
)

// Policy holds the tunable thresholds shared by all tunnels.
type Policy struct {
	// Threshold is the number of consecutive failed checks that moves a
	// tunnel from degraded to failed and schedules a restart.
	Threshold int
	// BackoffBase and BackoffMax bound the exponential restart delay:
	// min(base << attempt, max).
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Default returns the stock policy: threshold 3, backoff 1s doubling up to 60s.
func Default() Policy {
	return Policy{
		Threshold:   util.DefaultFailureThreshold,
		BackoffBase: util.DefaultBackoffBase,
		BackoffMax:  util.DefaultBackoffMax,
	}
}

// Tracker is one tunnel's health history. It is owned exclusively by the
// tunnel's supervisor and mutated only through Policy methods.
type Tracker struct {
	Status              model.TunnelStatus
	ConsecutiveFailures int

	// Attempt counts restarts since the last sustained healthy period and
	// drives the backoff exponent. NextEligibleAt is the earliest instant the
	// pending restart may execute; it is meaningful only while Status is
	// failed.
	Attempt        int
	NextEligibleAt time.Time

	// recovering is set between a restart spawn and the next successful
	// check; that first success resets Attempt so backoff does not stay
	// escalated after a transient outage.
	recovering bool
}

// NewTracker returns a tracker for a freshly spawned tunnel.
func NewTracker() *Tracker {
	return &Tracker{Status: model.StatusStarting}
}

// Decision describes the outcome of feeding one event into the policy.
type Decision struct {
	// RestartScheduled is true when this event crossed the failure threshold
	// and a restart was placed on the backoff schedule.
	RestartScheduled bool
	// Delay and At describe the scheduled restart window when
	// RestartScheduled is true.
	Delay time.Duration
	At    time.Time
}

// Observe feeds one health-check outcome into the tracker.
//
// Success resets the consecutive-failure count to zero immediately and, if the
// tunnel was in post-restart recovery, resets the backoff attempt as well.
// Failure increments the count; crossing the threshold transitions the tunnel
// to failed and schedules a restart. Failures beyond the threshold while a
// restart is already pending change nothing — the existing schedule stands.
func (p Policy) Observe(t *Tracker, ok bool, now time.Time) Decision {
	if ok {
		t.ConsecutiveFailures = 0
		t.Status = model.StatusHealthy
		if t.recovering {
			t.Attempt = 0
			t.recovering = false
		}
		return Decision{}
	}

	t.ConsecutiveFailures++
	if t.ConsecutiveFailures < p.Threshold {
		t.Status = model.StatusDegraded
		return Decision{}
	}
	if t.ConsecutiveFailures > p.Threshold {
		// Already failed and waiting out the backoff window.
		return Decision{}
	}
	return p.schedule(t, now)
}

// RestartDue reports whether a scheduled restart may execute now. Checks keep
// running on schedule while this is false; the tunnel simply sits in the
// failed state until its window elapses.
func (p Policy) RestartDue(t *Tracker, now time.Time) bool {
	return t.Status == model.StatusFailed && !now.Before(t.NextEligibleAt)
}

// RestartSpawned records that a replacement process was started. The failure
// count starts fresh for the new process, and the next successful check will
// reset the backoff attempt.
func (p Policy) RestartSpawned(t *Tracker) {
	t.ConsecutiveFailures = 0
	t.Status = model.StatusStarting
	t.recovering = true
}

// RestartFailed records that the respawn itself failed. This counts as an
// immediate additional failure: the consecutive-failure count is not reset and
// the restart is rescheduled with the next backoff step, so the system can
// never respawn-loop faster than the schedule even when the process refuses to
// start at all.
func (p Policy) RestartFailed(t *Tracker, now time.Time) Decision {
	t.ConsecutiveFailures++
	return p.schedule(t, now)
}

func (p Policy) schedule(t *Tracker, now time.Time) Decision {
	delay := p.Delay(t.Attempt)
	t.Status = model.StatusFailed
	t.NextEligibleAt = now.Add(delay)
	t.Attempt++
	t.recovering = false
	return Decision{RestartScheduled: true, Delay: delay, At: t.NextEligibleAt}
}

// Delay computes the backoff delay for the given restart attempt:
// min(base * 2^attempt, max).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffMax || d <= 0 {
			return p.BackoffMax
		}
	}
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}
