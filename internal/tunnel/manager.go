package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/tunneld/tunneld/internal/events"
	"github.com/tunneld/tunneld/internal/model"
	"github.com/tunneld/tunneld/internal/policy"
	"github.com/tunneld/tunneld/internal/util"
)

// ConfigError reports an invalid tunnel set at manager construction. It is
// the only error class that aborts startup; everything after construction is
// contained per tunnel.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "tunnel configuration: " + e.Reason
}

// Options tunes a Manager. Zero fields fall back to the package defaults.
type Options struct {
	Interval time.Duration
	Warmup   time.Duration
	Grace    time.Duration
	Policy   policy.Policy
	Clock    clock.Clock
	Recorder events.Recorder
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = util.DefaultCheckInterval
	}
	if o.Warmup < 0 {
		o.Warmup = util.DefaultWarmup
	}
	if o.Grace <= 0 {
		o.Grace = util.DefaultShutdownGrace
	}
	if o.Policy.Threshold == 0 {
		o.Policy = policy.Default()
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	if o.Recorder == nil {
		o.Recorder = events.Nop{}
	}
}

// Manager owns the set of tunnel supervisors and the shared scheduling loop.
type Manager struct {
	supervisors []*Supervisor
	interval    time.Duration
	clk         clock.Clock

	// tickCtx is observed by in-flight probes; cancelled first on shutdown
	// so a stuck dial never delays termination beyond the probe timeout.
	tickCtx    context.Context
	cancelTick context.CancelFunc

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	started bool
}

// NewManager builds one supervisor per forwarding spec. It fails with a
// *ConfigError if the spec set is empty or two specs claim the same local
// bind address/port — duplicate bindings cannot both succeed, so they are
// rejected before any process spawns.
func NewManager(starter ProcessStarter, prober HealthProber, specs []model.ForwardingSpec, opts Options) (*Manager, error) {
	if len(specs) == 0 {
		return nil, &ConfigError{Reason: "no forwarding specs"}
	}
	seen := make(map[string]int, len(specs))
	for i, spec := range specs {
		bind := spec.BindEndpoint()
		if prev, ok := seen[bind]; ok {
			return nil, &ConfigError{Reason: fmt.Sprintf(
				"forwards %d and %d both bind %s", prev, i, bind)}
		}
		seen[bind] = i
	}
	opts.applyDefaults()

	tickCtx, cancelTick := context.WithCancel(context.Background())
	m := &Manager{
		interval:   opts.Interval,
		clk:        opts.Clock,
		tickCtx:    tickCtx,
		cancelTick: cancelTick,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for i, spec := range specs {
		m.supervisors = append(m.supervisors,
			newSupervisor(i, spec, starter, prober, opts.Policy, opts.Warmup, opts.Grace, opts.Recorder))
	}
	return m, nil
}

// Run starts every supervisor and then drives the shared supervision loop:
// once per interval it fires a Tick for each supervisor in its own goroutine,
// so one tunnel's slow probe never delays its siblings. Run blocks until ctx
// is cancelled or Shutdown is called, terminates all tunnels, and returns.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	select {
	case <-m.stop:
		m.mu.Unlock()
		return nil
	default:
	}
	m.started = true
	m.mu.Unlock()
	defer close(m.done)

	slog.Info("starting tunnel manager", "tunnels", len(m.supervisors), "interval", m.interval)
	now := m.clk.Now()
	for _, s := range m.supervisors {
		s.Start(now)
	}

	for {
		select {
		case <-ctx.Done():
			m.signalStop()
			m.shutdownSupervisors()
			return nil
		case <-m.stop:
			m.shutdownSupervisors()
			return nil
		case now := <-m.clk.After(m.interval):
			for _, s := range m.supervisors {
				go s.Tick(m.tickCtx, now)
			}
		}
	}
}

// Shutdown signals the supervision loop to stop and waits until every tunnel
// process has been terminated. Safe to call concurrently with Run, from any
// goroutine, any number of times.
func (m *Manager) Shutdown() {
	m.signalStop()

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
		return
	}
	// Run never started; there is no loop to unwind but supervisors may
	// still exist without processes.
	m.shutdownSupervisors()
}

func (m *Manager) signalStop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.cancelTick()
	})
}

func (m *Manager) shutdownSupervisors() {
	slog.Info("stopping tunnel manager")
	var wg sync.WaitGroup
	for _, s := range m.supervisors {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			s.Shutdown()
		}(s)
	}
	wg.Wait()
	slog.Info("tunnel manager stopped")
}

// Snapshot returns a read-only status view of every tunnel, ordered by index.
func (m *Manager) Snapshot() []model.TunnelSnapshot {
	out := make([]model.TunnelSnapshot, 0, len(m.supervisors))
	for _, s := range m.supervisors {
		out = append(out, s.Snapshot())
	}
	return out
}
