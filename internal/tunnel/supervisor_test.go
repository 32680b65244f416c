// Tests in this file drive a single supervisor through explicit tick
// timestamps with fake processes and probers, so every timing property of the
// restart policy is verified without real ssh processes or real clocks.
package tunnel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunneld/tunneld/internal/events"
	"github.com/tunneld/tunneld/internal/health"
	"github.com/tunneld/tunneld/internal/model"
	"github.com/tunneld/tunneld/internal/policy"
)

// fakeProc is a Process test double. Tests flip alive to simulate a dying ssh
// process and count terminations to assert the exactly-once contract.
type fakeProc struct {
	mu           sync.Mutex
	alive        bool
	stderr       string
	terminations int
}

func (p *fakeProc) Pid() int { return 4242 }

func (p *fakeProc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProc) LastStderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr
}

func (p *fakeProc) Terminate(grace time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminations++
	p.alive = false
	return nil
}

func (p *fakeProc) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
}

// fakeStarter hands out fakeProcs and can be told to fail the next n spawns.
type fakeStarter struct {
	mu       sync.Mutex
	procs    map[string][]*fakeProc
	failNext int
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{procs: map[string][]*fakeProc{}}
}

func (s *fakeStarter) Start(ctx context.Context, spec model.ForwardingSpec) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return nil, errors.New("spawn: connection refused")
	}
	p := &fakeProc{alive: true}
	s.procs[spec.Arg()] = append(s.procs[spec.Arg()], p)
	return p, nil
}

func (s *fakeStarter) starts(spec model.ForwardingSpec) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs[spec.Arg()])
}

func (s *fakeStarter) latest(spec model.ForwardingSpec) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.procs[spec.Arg()]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

// fakeProber returns queued results per endpoint and healthy once the queue
// is drained.
type fakeProber struct {
	mu      sync.Mutex
	results map[string][]health.Result
}

func newFakeProber() *fakeProber {
	return &fakeProber{results: map[string][]health.Result{}}
}

func (f *fakeProber) queue(endpoint string, results ...health.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[endpoint] = append(f.results[endpoint], results...)
}

func (f *fakeProber) Check(ctx context.Context, endpoint string) health.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.results[endpoint]
	if len(q) == 0 {
		return health.Healthy
	}
	f.results[endpoint] = q[1:]
	return q[0]
}

func testSpec(port int) model.ForwardingSpec {
	return model.ForwardingSpec{Mode: model.ForwardLocal, LocalPort: port, RemoteHost: "db", RemotePort: 5432}
}

func testSupervisor(starter *fakeStarter, prober *fakeProber, pol policy.Policy) *Supervisor {
	return newSupervisor(0, testSpec(8080), starter, prober, pol, time.Second, time.Second, events.Nop{})
}

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestSupervisorWarmupSkipsEarlyCheck(t *testing.T) {
	starter := newFakeStarter()
	prober := newFakeProber()
	s := testSupervisor(starter, prober, policy.Default())
	ctx := context.Background()

	s.Start(t0)
	require.Equal(t, model.StatusStarting, s.Snapshot().Status)

	// Still inside the warmup window: the tick is a no-op.
	s.Tick(ctx, t0.Add(500*time.Millisecond))
	assert.Equal(t, model.StatusStarting, s.Snapshot().Status)
	assert.True(t, s.Snapshot().LastCheckedAt.IsZero())

	s.Tick(ctx, t0.Add(5*time.Second))
	snap := s.Snapshot()
	assert.Equal(t, model.StatusHealthy, snap.Status)
	assert.Equal(t, t0.Add(5*time.Second), snap.LastCheckedAt)
}

func TestSupervisorDeadProcessRestartCycle(t *testing.T) {
	starter := newFakeStarter()
	prober := newFakeProber()
	s := testSupervisor(starter, prober, policy.Default())
	ctx := context.Background()
	spec := testSpec(8080)

	s.Start(t0)
	s.Tick(ctx, t0.Add(5*time.Second))
	require.Equal(t, model.StatusHealthy, s.Snapshot().Status)

	// The ssh process dies; three consecutive failed checks reach the
	// threshold and schedule a restart with the base 1s delay.
	proc1 := starter.latest(spec)
	proc1.kill()

	s.Tick(ctx, t0.Add(10*time.Second))
	require.Equal(t, model.StatusDegraded, s.Snapshot().Status)
	require.Equal(t, 1, s.Snapshot().ConsecutiveFailures)

	s.Tick(ctx, t0.Add(15*time.Second))
	require.Equal(t, 2, s.Snapshot().ConsecutiveFailures)

	s.Tick(ctx, t0.Add(20*time.Second))
	snap := s.Snapshot()
	require.Equal(t, model.StatusFailed, snap.Status)
	require.Equal(t, 3, snap.ConsecutiveFailures)
	require.Equal(t, 1, snap.Attempt)
	assert.Equal(t, 1, proc1.terminations, "failed process is terminated at decision time")
	require.Equal(t, 1, starter.starts(spec), "no respawn before the backoff window")

	// Next tick is past next_eligible_at (t+21s): the restart executes.
	s.Tick(ctx, t0.Add(25*time.Second))
	require.Equal(t, 2, starter.starts(spec))
	require.Equal(t, model.StatusStarting, s.Snapshot().Status)

	// One successful check after the restart: healthy, counters reset.
	s.Tick(ctx, t0.Add(30*time.Second))
	snap = s.Snapshot()
	assert.Equal(t, model.StatusHealthy, snap.Status)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, 0, snap.Attempt)
}

func TestSupervisorNoRestartBeforeEligible(t *testing.T) {
	starter := newFakeStarter()
	prober := newFakeProber()
	// Large base delay so several intervals pass inside the backoff window.
	pol := policy.Policy{Threshold: 3, BackoffBase: 30 * time.Second, BackoffMax: time.Minute}
	s := testSupervisor(starter, prober, pol)
	ctx := context.Background()
	spec := testSpec(8080)

	s.Start(t0)
	starter.latest(spec).kill()

	s.Tick(ctx, t0.Add(5*time.Second))
	s.Tick(ctx, t0.Add(10*time.Second))
	s.Tick(ctx, t0.Add(15*time.Second)) // threshold: eligible at t+45s

	for _, offset := range []time.Duration{20, 25, 30, 35, 40} {
		s.Tick(ctx, t0.Add(offset*time.Second))
		require.Equal(t, 1, starter.starts(spec), "no restart at t+%ds", offset)
		require.Equal(t, model.StatusFailed, s.Snapshot().Status)
	}

	s.Tick(ctx, t0.Add(45*time.Second))
	assert.Equal(t, 2, starter.starts(spec))
}

func TestSupervisorPortProbeFailureWithLiveProcess(t *testing.T) {
	starter := newFakeStarter()
	prober := newFakeProber()
	s := testSupervisor(starter, prober, policy.Default())
	ctx := context.Background()
	spec := testSpec(8080)

	s.Start(t0)
	// Process stays alive but the forwarded port never answers: the tunnel
	// must still degrade and restart. This is the wedged-tunnel case that a
	// liveness-only check would miss.
	prober.queue(spec.ProbeEndpoint(),
		health.TimedOut, health.Unreachable, health.TimedOut)

	s.Tick(ctx, t0.Add(5*time.Second))
	s.Tick(ctx, t0.Add(10*time.Second))
	require.Equal(t, model.StatusDegraded, s.Snapshot().Status)

	s.Tick(ctx, t0.Add(15*time.Second))
	require.Equal(t, model.StatusFailed, s.Snapshot().Status)
	assert.Equal(t, 1, starter.latest(spec).terminations)
}

func TestSupervisorSpawnFailureKeepsBackoffSchedule(t *testing.T) {
	starter := newFakeStarter()
	prober := newFakeProber()
	s := testSupervisor(starter, prober, policy.Default())
	ctx := context.Background()
	spec := testSpec(8080)

	s.Start(t0)
	starter.latest(spec).kill()

	s.Tick(ctx, t0.Add(5*time.Second))
	s.Tick(ctx, t0.Add(10*time.Second))
	s.Tick(ctx, t0.Add(15*time.Second)) // scheduled, eligible t+16s

	// The respawn itself fails: rescheduled with the doubled delay
	// (eligible t+22s), failures not reset.
	starter.mu.Lock()
	starter.failNext = 1
	starter.mu.Unlock()
	s.Tick(ctx, t0.Add(20*time.Second))
	snap := s.Snapshot()
	require.Equal(t, model.StatusFailed, snap.Status)
	require.Equal(t, 2, snap.Attempt)
	require.GreaterOrEqual(t, snap.ConsecutiveFailures, 4)

	// Before the new window elapses nothing spawns, even though ticks keep
	// firing.
	s.Tick(ctx, t0.Add(21*time.Second))
	require.Equal(t, 1, starter.starts(spec))

	s.Tick(ctx, t0.Add(25*time.Second))
	assert.Equal(t, 2, starter.starts(spec))
}

func TestSupervisorShutdownTerminatesExactlyOnce(t *testing.T) {
	starter := newFakeStarter()
	prober := newFakeProber()
	s := testSupervisor(starter, prober, policy.Default())
	spec := testSpec(8080)

	s.Start(t0)
	proc := starter.latest(spec)

	s.Shutdown()
	s.Shutdown()
	assert.Equal(t, 1, proc.terminations)
	assert.Equal(t, model.StatusStopped, s.Snapshot().Status)

	// Ticks after shutdown are inert: no checks, no spawns.
	s.Tick(context.Background(), t0.Add(time.Minute))
	assert.Equal(t, 1, starter.starts(spec))
	assert.Equal(t, model.StatusStopped, s.Snapshot().Status)
}

func TestSupervisorShutdownConcurrentWithTicks(t *testing.T) {
	starter := newFakeStarter()
	prober := newFakeProber()
	s := testSupervisor(starter, prober, policy.Default())
	spec := testSpec(8080)

	s.Start(t0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Tick(context.Background(), t0.Add(time.Duration(5+i)*time.Second))
		}(i)
	}
	s.Shutdown()
	wg.Wait()

	assert.Equal(t, 1, starter.latest(spec).terminations)
	assert.Equal(t, model.StatusStopped, s.Snapshot().Status)
}

func TestSupervisorInitialSpawnFailure(t *testing.T) {
	starter := newFakeStarter()
	starter.failNext = 1
	prober := newFakeProber()
	s := testSupervisor(starter, prober, policy.Default())
	ctx := context.Background()
	spec := testSpec(8080)

	s.Start(t0)
	snap := s.Snapshot()
	require.Equal(t, model.StatusDegraded, snap.Status)
	require.Equal(t, 1, snap.ConsecutiveFailures)
	require.NotEmpty(t, snap.LastError)

	// The missing process keeps failing checks until the threshold is
	// reached and the normal restart path brings the tunnel up.
	s.Tick(ctx, t0.Add(5*time.Second))
	s.Tick(ctx, t0.Add(10*time.Second))
	require.Equal(t, model.StatusFailed, s.Snapshot().Status)

	s.Tick(ctx, t0.Add(15*time.Second))
	require.Equal(t, 1, starter.starts(spec))
	s.Tick(ctx, t0.Add(20*time.Second))
	assert.Equal(t, model.StatusHealthy, s.Snapshot().Status)
}
