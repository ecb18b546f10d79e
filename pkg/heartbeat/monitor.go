package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Session is the per-connection surface the monitor drives.
// Satisfied by wsproto.Session.
type Session interface {
	ID() string
	Alive() bool
	ClearAlive()
	Ping() error
	Terminate()
}

// Lister snapshots the currently open sessions.
type Lister interface {
	Sessions() []Session
}

// Monitor detects dead connections with a clear-then-ping sweep. Every
// interval it terminates sessions whose liveness flag is still false from
// the previous tick, then clears the flag on the survivors and pings them.
// A healthy client answers the transport ping with a pong, which sets the
// flag again before the next tick. Detection latency is therefore bounded
// by two intervals.
type Monitor struct {
	lister   Lister
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	evicted atomic.Int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the logger for eviction events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a heartbeat monitor over the given session lister.
func New(lister Lister, opts ...Option) (*Monitor, error) {
	if lister == nil {
		return nil, ErrListerNil
	}

	cfg := DefaultConfig()
	m := &Monitor{
		lister:   lister,
		interval: cfg.Interval,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewFromConfig creates a Monitor from configuration.
// Additional options override config values.
func NewFromConfig(cfg Config, lister Lister, opts ...Option) (*Monitor, error) {
	allOpts := append([]Option{WithInterval(cfg.Interval)}, opts...)
	return New(lister, allOpts...)
}

// Evicted returns the lifetime count of terminated dead connections.
func (m *Monitor) Evicted() int64 {
	return m.evicted.Load()
}

// Start launches the sweep loop. Returns ErrAlreadyStarted if running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()

	return nil
}

// Stop halts the sweep loop and waits for it to exit. Safe to call on a
// monitor that was never started.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	m.cancel()
	<-m.done
	m.started = false
	return nil
}

// Run returns a function suitable for errgroup
// that starts the monitor and blocks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) func() error {
	return func() error {
		if err := m.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		if err := m.Stop(); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// sweep runs one heartbeat pass over every open session.
func (m *Monitor) sweep() {
	for _, s := range m.lister.Sessions() {
		if !s.Alive() {
			m.evicted.Add(1)
			m.logger.Info("terminating unresponsive connection",
				logger.ConnectionID(s.ID()))
			s.Terminate()
			continue
		}

		s.ClearAlive()
		if err := s.Ping(); err != nil {
			// Write failure means the socket is already gone.
			m.evicted.Add(1)
			m.logger.Debug("ping failed, terminating connection",
				logger.ConnectionID(s.ID()),
				logger.Error(err))
			s.Terminate()
		}
	}
}
