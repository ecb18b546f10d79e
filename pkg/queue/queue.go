package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Item wraps a queued notification with its queue residency window.
// Items belong exclusively to the queue until dequeued.
type Item struct {
	Notification *Notification
	EnqueuedAt   time.Time
	ExpiresAt    time.Time

	seq uint64 // Monotonic insertion order for FIFO tie-breaking.
}

// Stats is a point-in-time snapshot of queue occupancy.
type Stats struct {
	Size                 int           `json:"size"`
	MaxSize              int           `json:"max_size"`
	UtilizationPercent   float64       `json:"utilization_percent"`
	PriorityDistribution map[int]int   `json:"priority_distribution"`
	OldestMessageAge     time.Duration `json:"oldest_message_age_ms"`
	Expired              int64         `json:"expired"` // Lifetime count of items discarded by expiry.
}

// Queue is an admission-controlled, priority-ordered, time-bounded buffer of
// pending notifications. Dequeue order is priority-descending with FIFO
// inside a priority band. All methods are safe for concurrent use; the
// capacity bound is exact because admission and insertion share one mutex.
type Queue struct {
	mu    sync.Mutex
	items itemHeap
	seq   uint64

	maxSize       int
	ttl           time.Duration
	sweepInterval time.Duration
	batchSize     int
	logger        *slog.Logger

	// Sweep lifecycle.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	expired atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxSize sets the admission capacity bound.
func WithMaxSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxSize = n
		}
	}
}

// WithTTL sets the expiry window applied at enqueue time.
func WithTTL(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.ttl = d
		}
	}
}

// WithSweepInterval sets the background expiry sweep period.
func WithSweepInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.sweepInterval = d
		}
	}
}

// WithBatchSize sets the default DequeueBatch size.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithLogger sets the logger for internal operations.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates an empty queue. Call Start to run the background expiry sweep.
func New(opts ...Option) *Queue {
	cfg := DefaultConfig()
	q := &Queue{
		maxSize:       cfg.MaxSize,
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		batchSize:     cfg.BatchSize,
		logger:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(q)
	}
	heap.Init(&q.items)
	return q
}

// NewFromConfig creates a Queue from configuration.
// Additional options override config values.
func NewFromConfig(cfg Config, opts ...Option) *Queue {
	allOpts := append([]Option{
		WithMaxSize(cfg.MaxSize),
		WithTTL(cfg.TTL),
		WithSweepInterval(cfg.SweepInterval),
		WithBatchSize(cfg.BatchSize),
	}, opts...)
	return New(allOpts...)
}

// Enqueue validates and admits a notification. Expired items are discarded
// before the capacity check so a full-of-garbage queue does not refuse live
// traffic. Returns ErrQueueFull when the bound is reached.
func (q *Queue) Enqueue(n *Notification) (*Item, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.expireLocked(time.Now())

	if len(q.items) >= q.maxSize {
		return nil, ErrQueueFull
	}

	q.seq++
	now := time.Now()
	item := &Item{
		Notification: n,
		EnqueuedAt:   now,
		ExpiresAt:    now.Add(q.ttl),
		seq:          q.seq,
	}
	heap.Push(&q.items, item)
	return item, nil
}

// Dequeue discards expired items, then removes and returns the
// highest-priority item; ties break FIFO. Returns nil when the queue is
// empty after expiry cleanup.
func (q *Queue) Dequeue() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked(time.Now())
}

// DequeueBatch removes up to size items in dequeue order. A non-positive
// size uses the configured default batch size.
func (q *Queue) DequeueBatch(size int) []*Item {
	if size <= 0 {
		size = q.batchSize
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var batch []*Item
	for len(batch) < size {
		item := q.popLocked(now)
		if item == nil {
			break
		}
		batch = append(batch, item)
	}
	return batch
}

// Peek returns the next item without removing it, or nil when empty.
func (q *Queue) Peek() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.expireLocked(time.Now())
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Size returns the current number of queued items, including any that have
// expired but not yet been swept.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether the queue holds no items.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Clear drops everything and returns the number of removed items.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	// Drop the backing array references so cleared items become collectable.
	for i := range q.items {
		q.items[i] = nil
	}
	q.items = q.items[:0]
	return n
}

// Stats returns a snapshot of queue occupancy. The background sweep keeps
// this honest even when nothing is dequeuing.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	dist := make(map[int]int)
	var oldest time.Time
	for _, item := range q.items {
		dist[item.Notification.Priority]++
		if oldest.IsZero() || item.EnqueuedAt.Before(oldest) {
			oldest = item.EnqueuedAt
		}
	}

	var age time.Duration
	if !oldest.IsZero() {
		age = time.Since(oldest)
	}

	return Stats{
		Size:                 len(q.items),
		MaxSize:              q.maxSize,
		UtilizationPercent:   float64(len(q.items)) / float64(q.maxSize) * 100,
		PriorityDistribution: dist,
		OldestMessageAge:     age,
		Expired:              q.expired.Load(),
	}
}

// Start runs the background expiry sweep. Blocking; runs until the context
// is cancelled. Use Run for errgroup wiring or call in a goroutine.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		return fmt.Errorf("queue sweep already started")
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	q.logger.InfoContext(q.ctx, "queue expiry sweep started",
		slog.Duration("interval", q.sweepInterval))

	ticker := time.NewTicker(q.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			q.logger.InfoContext(context.Background(), "queue expiry sweep stopping")
			return q.ctx.Err()
		case <-ticker.C:
			q.sweep()
		}
	}
}

// Stop cancels the background sweep and waits for the current pass.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.cancel == nil {
		q.mu.Unlock()
		return fmt.Errorf("queue sweep not started")
	}
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
	return nil
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (q *Queue) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- q.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = q.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// sweep runs one expiry pass with WaitGroup tracking for Stop.
func (q *Queue) sweep() {
	q.wg.Add(1)
	defer q.wg.Done()

	q.mu.Lock()
	freed := q.expireLocked(time.Now())
	q.mu.Unlock()

	if freed > 0 {
		q.logger.Debug("expired notifications discarded", slog.Int("count", freed))
	}
}

// popLocked implements the discard-then-pop rule. Caller must hold q.mu.
func (q *Queue) popLocked(now time.Time) *Item {
	q.expireLocked(now)
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Item)
}

// expireLocked removes every item past its expiry and returns the count.
// Caller must hold q.mu.
func (q *Queue) expireLocked(now time.Time) int {
	freed := 0
	kept := q.items[:0]
	for _, item := range q.items {
		if item.ExpiresAt.After(now) {
			kept = append(kept, item)
		} else {
			freed++
		}
	}
	if freed == 0 {
		return 0
	}

	q.items = kept
	heap.Init(&q.items)
	q.expired.Add(int64(freed))
	return freed
}

// itemHeap orders items priority-descending, then by insertion sequence for
// stable FIFO inside a priority band.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Notification.Priority != h[j].Notification.Priority {
		return h[i].Notification.Priority > h[j].Notification.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(*Item))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
