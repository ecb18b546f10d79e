package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/apikey"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/queue"
)

// KeyValidator authenticates submissions. Satisfied by apikey.Store.
type KeyValidator interface {
	Validate(secret string) error
}

// Resolver maps a channel to its current subscriber connection IDs.
// A returned error marks the whole item as failed and eligible for retry;
// an empty set is not an error.
type Resolver interface {
	ConnectionsForChannel(channel string) ([]string, error)
}

// Dispatcher pushes one notification to one connection. Errors are
// connection-level: counted, never fatal to the batch. Implementations
// must not block on peer network I/O; the fanout runs them in sequence on
// the processing goroutine.
type Dispatcher interface {
	Send(ctx context.Context, connID string, n *queue.Notification) error
}

// StatsRecorder attributes accepted submissions to their key.
// Satisfied by registry.Registry.
type StatsRecorder interface {
	RecordNotificationSent(secret string)
}

// SubmitRequest is one producer submission.
type SubmitRequest struct {
	Channel           string `json:"channel"`
	Data              any    `json:"data"`
	Priority          int    `json:"priority,omitempty"`
	APIKey            string `json:"-"`
	ExcludeConnection string `json:"exclude_connection,omitempty"`
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	NotificationID string `json:"notification_id"`
	QueueSize      int    `json:"queue_size"`
}

// Stats provides observability metrics for the engine.
type Stats struct {
	Queue      queue.Stats `json:"queue"`
	Processing bool        `json:"processing"`
	Delivered  int64       `json:"delivered"` // Successful per-connection sends.
	Failed     int64       `json:"failed"`    // Failed per-connection sends.
	Dropped    int64       `json:"dropped"`   // Items discarded after exhausting retries or on overflow.
	Timestamp  time.Time   `json:"timestamp"`
}

// Engine drives notifications from the queue to subscriber connections with
// bounded retries. The processing loop is single-flight: at most one pass
// runs at a time per engine, which prevents duplicate delivery attempts on
// the same item and keeps retry bookkeeping simple. The loop starts on
// demand from Submit and exits once the queue drains.
type Engine struct {
	queue      *queue.Queue
	keys       KeyValidator
	resolver   Resolver
	dispatcher Dispatcher
	stats      StatsRecorder

	maxAttempts int
	retryDelay  time.Duration
	batchSize   int
	yield       time.Duration
	logger      *slog.Logger

	processing atomic.Bool
	closed     atomic.Bool
	wg         sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxAttempts sets the retry cap for item-level failures.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the delay before a failed item re-enters the queue.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryDelay = d
		}
	}
}

// WithBatchSize sets how many items one processing pass pulls at a time.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithYield sets the pause between batches, giving submitters a chance to
// interleave with a long drain.
func WithYield(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.yield = d
		}
	}
}

// WithLogger sets the logger for internal operations.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates a delivery engine. All collaborators are required.
func New(q *queue.Queue, keys KeyValidator, resolver Resolver, dispatcher Dispatcher, stats StatsRecorder, opts ...Option) (*Engine, error) {
	if q == nil {
		return nil, ErrQueueNil
	}
	if keys == nil || resolver == nil || dispatcher == nil || stats == nil {
		return nil, ErrDependencyNil
	}

	cfg := DefaultConfig()
	e := &Engine{
		queue:       q,
		keys:        keys,
		resolver:    resolver,
		dispatcher:  dispatcher,
		stats:       stats,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		batchSize:   cfg.BatchSize,
		yield:       cfg.Yield,
		logger:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewFromConfig creates an Engine from configuration.
// Additional options override config values.
func NewFromConfig(cfg Config, q *queue.Queue, keys KeyValidator, resolver Resolver, dispatcher Dispatcher, stats StatsRecorder, opts ...Option) (*Engine, error) {
	allOpts := append([]Option{
		WithMaxAttempts(cfg.MaxAttempts),
		WithRetryDelay(cfg.RetryDelay),
		WithBatchSize(cfg.BatchSize),
		WithYield(cfg.Yield),
	}, opts...)
	return New(q, keys, resolver, dispatcher, stats, allOpts...)
}

// Submit validates, enqueues, and acknowledges one notification, then kicks
// the processing loop if it is idle. Fire-and-forget past this point: once
// accepted, delivery failures are retried internally and never surface to
// the submitter.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Receipt, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := e.keys.Validate(req.APIKey); err != nil {
		return nil, err
	}

	n := queue.NewNotification(req.Channel, req.Data, req.Priority, req.APIKey)
	n.ExcludeConnection = req.ExcludeConnection

	if _, err := e.queue.Enqueue(n); err != nil {
		return nil, err
	}
	e.stats.RecordNotificationSent(req.APIKey)

	e.logger.DebugContext(ctx, "notification accepted",
		logger.NotificationID(n.ID),
		logger.Channel(n.Channel),
		logger.Priority(n.Priority),
		logger.APIKey(apikey.Mask(req.APIKey)))

	e.kick()

	return &Receipt{
		NotificationID: n.ID,
		QueueSize:      e.queue.Size(),
	}, nil
}

// ClearQueue drops all pending items and returns how many were removed.
func (e *Engine) ClearQueue() int {
	return e.queue.Clear()
}

// Stats returns current engine and queue counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Queue:      e.queue.Stats(),
		Processing: e.processing.Load(),
		Delivered:  e.delivered.Load(),
		Failed:     e.failed.Load(),
		Dropped:    e.dropped.Load(),
		Timestamp:  time.Now(),
	}
}

// Close stops accepting submissions and waits for the in-flight processing
// pass to finish. Pending retry timers become no-ops.
func (e *Engine) Close() {
	e.closed.Store(true)
	e.wg.Wait()
}

// kick starts a processing pass unless one is already running.
func (e *Engine) kick() {
	if e.closed.Load() {
		return
	}
	if e.processing.CompareAndSwap(false, true) {
		e.wg.Add(1)
		go e.processLoop()
	}
}

// processLoop drains the queue batch by batch, then clears the running flag.
// The re-check after clearing closes the race with a submitter that saw the
// flag still set and skipped starting a new pass.
func (e *Engine) processLoop() {
	defer e.wg.Done()

	ctx := context.Background()
	for {
		for !e.closed.Load() {
			batch := e.queue.DequeueBatch(e.batchSize)
			if len(batch) == 0 {
				break
			}
			for _, item := range batch {
				e.processItem(ctx, item)
			}
			time.Sleep(e.yield)
		}

		e.processing.Store(false)
		if e.closed.Load() || e.queue.IsEmpty() {
			return
		}
		if !e.processing.CompareAndSwap(false, true) {
			return
		}
	}
}

// processItem fans one item out to the channel's current subscribers.
//
// Failure domains are kept separate: a resolver error or a handler panic
// fails the whole item and schedules a retry, while per-connection send
// errors are only counted. Retries re-resolve the full subscriber set at
// retry time; since an item-level failure means no connection received the
// item, re-resolving cannot double-deliver.
func (e *Engine) processItem(ctx context.Context, item *queue.Item) {
	n := item.Notification

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "panic while processing notification",
				logger.NotificationID(n.ID),
				logger.Channel(n.Channel),
				slog.Any("panic", r))
			e.retryItem(fmt.Errorf("panic: %v", r), n)
		}
	}()

	conns, err := e.resolver.ConnectionsForChannel(n.Channel)
	if err != nil {
		e.retryItem(err, n)
		return
	}

	// No subscribers is a steady state, not a fault. Drop without retry.
	if len(conns) == 0 {
		e.logger.DebugContext(ctx, "no subscribers for channel, dropping",
			logger.NotificationID(n.ID),
			logger.Channel(n.Channel))
		return
	}

	for _, connID := range conns {
		if connID == n.ExcludeConnection {
			continue
		}
		if err := e.dispatcher.Send(ctx, connID, n); err != nil {
			e.failed.Add(1)
			e.logger.DebugContext(ctx, "delivery to connection failed",
				logger.NotificationID(n.ID),
				logger.ConnectionID(connID),
				logger.Error(err))
			continue
		}
		e.delivered.Add(1)
	}
}

// retryItem re-enqueues a failed item after the retry delay, or drops it
// once the attempt cap is reached.
func (e *Engine) retryItem(cause error, n *queue.Notification) {
	n.Attempts++
	if n.Attempts >= e.maxAttempts {
		e.dropped.Add(1)
		e.logger.Warn("notification dropped after max attempts",
			logger.NotificationID(n.ID),
			logger.Channel(n.Channel),
			logger.Attempts(n.Attempts),
			logger.Error(cause))
		return
	}

	e.logger.Debug("notification delivery will be retried",
		logger.NotificationID(n.ID),
		logger.Attempts(n.Attempts),
		logger.Error(cause))

	time.AfterFunc(e.retryDelay, func() {
		if e.closed.Load() {
			return
		}
		if _, err := e.queue.Enqueue(n); err != nil {
			e.dropped.Add(1)
			e.logger.Warn("failed to re-enqueue notification for retry",
				logger.NotificationID(n.ID),
				logger.Error(err))
			return
		}
		e.kick()
	})
}
