// Package netmon tracks whether the task server is reachable and signals
// listeners when connectivity returns.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/tasksync/internal/core/eventbus"
)

// Prober checks reachability once. Any error means unreachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Options tunes polling and debounce.
type Options struct {
	// Interval between probes in Run.
	Interval time.Duration
	// Debounce is how long a new state must hold before it is committed.
	// Zero commits immediately.
	Debounce time.Duration
	// ProbeTimeout bounds a single probe. Defaults to Interval.
	ProbeTimeout time.Duration
}

// Monitor holds the committed reachability state. The zero state is
// unreachable until the first observation, which commits without debounce.
type Monitor struct {
	prober Prober
	opts   Options
	bus    *eventbus.EventBus
	log    zerolog.Logger

	mu        sync.Mutex
	reachable bool
	observed  bool
	pending   *bool
	gen       uint64
	timer     *time.Timer
	subs      []chan struct{}
}

// New creates a Monitor. prober may be nil when state is only fed by Set.
func New(prober Prober, opts Options, bus *eventbus.EventBus, log zerolog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = opts.Interval
	}
	return &Monitor{
		prober: prober,
		opts:   opts,
		bus:    bus,
		log:    log,
	}
}

// Reachable returns the committed state.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Subscribe returns a channel that receives a value each time the committed
// state goes from unreachable to reachable. Signals coalesce: a slow reader
// sees at most one pending signal.
func (m *Monitor) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Set feeds an observation. A change is committed once it has held for the
// debounce window; an observation matching the committed state cancels any
// pending change.
func (m *Monitor) Set(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.observed {
		m.observed = true
		m.commitLocked(reachable)
		return
	}

	if reachable == m.reachable {
		m.cancelLocked()
		return
	}

	if m.pending != nil && *m.pending == reachable {
		return
	}

	if m.opts.Debounce <= 0 {
		m.cancelLocked()
		m.commitLocked(reachable)
		return
	}

	m.cancelLocked()
	m.gen++
	gen := m.gen
	m.pending = &reachable
	m.timer = time.AfterFunc(m.opts.Debounce, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen || m.pending == nil {
			return
		}
		state := *m.pending
		m.pending = nil
		m.timer = nil
		m.commitLocked(state)
	})
}

// Check probes once and feeds the result to Set. It returns the observed
// state, which may differ from the committed one while debouncing.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.Reachable()
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	err := m.prober.Probe(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("probe failed")
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.cancelLocked()
			m.mu.Unlock()
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) cancelLocked() {
	m.gen++
	m.pending = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) commitLocked(reachable bool) {
	was := m.reachable
	m.reachable = reachable

	if was == reachable {
		return
	}

	m.log.Info().Bool("reachable", reachable).Msg("connectivity changed")
	m.bus.PublishNetworkChanged(eventbus.NetworkChangedPayload{Reachable: reachable})

	if !reachable {
		return
	}
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
