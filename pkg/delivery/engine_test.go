package delivery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/apikey"
	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/queue"
)

type fakeValidator struct {
	err error
}

func (f *fakeValidator) Validate(string) error { return f.err }

type fakeResolver struct {
	mu    sync.Mutex
	conns []string
	errs  []error // Consumed one per call, then nil.
	calls int
}

func (f *fakeResolver) ConnectionsForChannel(string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.conns, nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDispatcher struct {
	mu      sync.Mutex
	sent    map[string][]*queue.Notification
	failFor map[string]error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		sent:    make(map[string][]*queue.Notification),
		failFor: make(map[string]error),
	}
}

func (f *fakeDispatcher) Send(_ context.Context, connID string, n *queue.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[connID]; ok {
		return err
	}
	f.sent[connID] = append(f.sent[connID], n)
	return nil
}

func (f *fakeDispatcher) sentTo(connID string) []*queue.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*queue.Notification(nil), f.sent[connID]...)
}

type fakeStats struct {
	mu    sync.Mutex
	count int
}

func (f *fakeStats) RecordNotificationSent(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
}

func (f *fakeStats) recorded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func newEngine(t *testing.T, resolver *fakeResolver, dispatcher *fakeDispatcher, opts ...delivery.Option) (*delivery.Engine, *fakeStats) {
	t.Helper()

	stats := &fakeStats{}
	base := []delivery.Option{
		delivery.WithRetryDelay(5 * time.Millisecond),
		delivery.WithYield(time.Millisecond),
	}
	engine, err := delivery.New(queue.New(), &fakeValidator{}, resolver, dispatcher, stats, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine, stats
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("requires queue", func(t *testing.T) {
		t.Parallel()

		_, err := delivery.New(nil, &fakeValidator{}, &fakeResolver{}, newFakeDispatcher(), &fakeStats{})
		require.ErrorIs(t, err, delivery.ErrQueueNil)
	})

	t.Run("requires collaborators", func(t *testing.T) {
		t.Parallel()

		_, err := delivery.New(queue.New(), nil, &fakeResolver{}, newFakeDispatcher(), &fakeStats{})
		require.ErrorIs(t, err, delivery.ErrDependencyNil)
	})
}

func TestEngine_Submit(t *testing.T) {
	t.Parallel()

	t.Run("delivers to subscribed connections", func(t *testing.T) {
		t.Parallel()

		resolver := &fakeResolver{conns: []string{"conn-1", "conn-2"}}
		dispatcher := newFakeDispatcher()
		engine, stats := newEngine(t, resolver, dispatcher)

		receipt, err := engine.Submit(context.Background(), delivery.SubmitRequest{
			Channel:  "updates",
			Data:     map[string]any{"title": "x"},
			Priority: 8,
			APIKey:   "key-a",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, receipt.NotificationID)

		require.Eventually(t, func() bool {
			return len(dispatcher.sentTo("conn-1")) == 1 && len(dispatcher.sentTo("conn-2")) == 1
		}, time.Second, 5*time.Millisecond)

		sent := dispatcher.sentTo("conn-1")[0]
		assert.Equal(t, receipt.NotificationID, sent.ID)
		assert.Equal(t, "updates", sent.Channel)
		assert.Equal(t, 1, stats.recorded())

		require.Eventually(t, func() bool {
			return engine.Stats().Queue.Size == 0
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, int64(2), engine.Stats().Delivered)
	})

	t.Run("rejects invalid key without enqueueing", func(t *testing.T) {
		t.Parallel()

		stats := &fakeStats{}
		q := queue.New()
		engine, err := delivery.New(q, &fakeValidator{err: apikey.ErrKeyNotFound}, &fakeResolver{}, newFakeDispatcher(), stats)
		require.NoError(t, err)
		t.Cleanup(engine.Close)

		_, err = engine.Submit(context.Background(), delivery.SubmitRequest{
			Channel: "updates",
			Data:    "x",
			APIKey:  "bogus",
		})
		require.ErrorIs(t, err, apikey.ErrKeyNotFound)
		assert.True(t, q.IsEmpty())
		assert.Equal(t, 0, stats.recorded())
	})

	t.Run("rejects malformed submissions", func(t *testing.T) {
		t.Parallel()

		engine, _ := newEngine(t, &fakeResolver{}, newFakeDispatcher())

		_, err := engine.Submit(context.Background(), delivery.SubmitRequest{Data: "x", APIKey: "k"})
		require.ErrorIs(t, err, queue.ErrMissingChannel)

		_, err = engine.Submit(context.Background(), delivery.SubmitRequest{Channel: "c", APIKey: "k"})
		require.ErrorIs(t, err, queue.ErrMissingData)

		_, err = engine.Submit(context.Background(), delivery.SubmitRequest{Channel: "c", Data: "x", Priority: 99, APIKey: "k"})
		require.ErrorIs(t, err, queue.ErrInvalidPriority)
	})

	t.Run("surfaces queue overflow", func(t *testing.T) {
		t.Parallel()

		q := queue.New(queue.WithMaxSize(1))
		engine, err := delivery.New(q, &fakeValidator{}, &fakeResolver{}, newFakeDispatcher(), &fakeStats{})
		require.NoError(t, err)
		t.Cleanup(engine.Close)

		// Fill the queue directly so the processing loop never starts.
		_, err = q.Enqueue(queue.NewNotification("c", "x", 5, "k"))
		require.NoError(t, err)

		_, err = engine.Submit(context.Background(), delivery.SubmitRequest{Channel: "c", Data: "x", APIKey: "k"})
		require.ErrorIs(t, err, queue.ErrQueueFull)
	})

	t.Run("rejects after close", func(t *testing.T) {
		t.Parallel()

		engine, _ := newEngine(t, &fakeResolver{}, newFakeDispatcher())
		engine.Close()

		_, err := engine.Submit(context.Background(), delivery.SubmitRequest{Channel: "c", Data: "x", APIKey: "k"})
		require.ErrorIs(t, err, delivery.ErrEngineClosed)
	})
}

func TestEngine_Fanout(t *testing.T) {
	t.Parallel()

	t.Run("zero subscribers drops without retry", func(t *testing.T) {
		t.Parallel()

		resolver := &fakeResolver{}
		engine, _ := newEngine(t, resolver, newFakeDispatcher())

		_, err := engine.Submit(context.Background(), delivery.SubmitRequest{Channel: "empty", Data: "x", APIKey: "k"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return engine.Stats().Queue.Size == 0
		}, time.Second, 5*time.Millisecond)

		// Settle time for any wrongly scheduled retry.
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, 1, resolver.callCount())
		assert.Equal(t, int64(0), engine.Stats().Dropped)
	})

	t.Run("excluded connection is skipped", func(t *testing.T) {
		t.Parallel()

		resolver := &fakeResolver{conns: []string{"conn-1", "conn-2"}}
		dispatcher := newFakeDispatcher()
		engine, _ := newEngine(t, resolver, dispatcher)

		_, err := engine.Submit(context.Background(), delivery.SubmitRequest{
			Channel:           "updates",
			Data:              "x",
			APIKey:            "k",
			ExcludeConnection: "conn-1",
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(dispatcher.sentTo("conn-2")) == 1
		}, time.Second, 5*time.Millisecond)
		assert.Empty(t, dispatcher.sentTo("conn-1"))
	})

	t.Run("send failure does not block other connections", func(t *testing.T) {
		t.Parallel()

		resolver := &fakeResolver{conns: []string{"dead", "alive"}}
		dispatcher := newFakeDispatcher()
		dispatcher.failFor["dead"] = errors.New("socket closed")
		engine, _ := newEngine(t, resolver, dispatcher)

		_, err := engine.Submit(context.Background(), delivery.SubmitRequest{Channel: "c", Data: "x", APIKey: "k"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(dispatcher.sentTo("alive")) == 1
		}, time.Second, 5*time.Millisecond)

		stats := engine.Stats()
		assert.Equal(t, int64(1), stats.Delivered)
		assert.Equal(t, int64(1), stats.Failed)
		assert.Equal(t, int64(0), stats.Dropped)
	})
}

func TestEngine_Retry(t *testing.T) {
	t.Parallel()

	t.Run("resolution failure retries and then delivers", func(t *testing.T) {
		t.Parallel()

		resolver := &fakeResolver{
			conns: []string{"conn-1"},
			errs:  []error{errors.New("transient")},
		}
		dispatcher := newFakeDispatcher()
		engine, _ := newEngine(t, resolver, dispatcher)

		_, err := engine.Submit(context.Background(), delivery.SubmitRequest{Channel: "c", Data: "x", APIKey: "k"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(dispatcher.sentTo("conn-1")) == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 2, resolver.callCount())
		assert.Equal(t, int64(0), engine.Stats().Dropped)
	})

	t.Run("drops after exhausting attempts", func(t *testing.T) {
		t.Parallel()

		resolver := &fakeResolver{
			conns: []string{"conn-1"},
			errs:  []error{errors.New("down"), errors.New("down"), errors.New("down")},
		}
		dispatcher := newFakeDispatcher()
		engine, _ := newEngine(t, resolver, dispatcher, delivery.WithMaxAttempts(3))

		_, err := engine.Submit(context.Background(), delivery.SubmitRequest{Channel: "c", Data: "x", APIKey: "k"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return engine.Stats().Dropped == 1
		}, time.Second, 5*time.Millisecond)
		assert.Empty(t, dispatcher.sentTo("conn-1"))
		assert.Equal(t, 3, resolver.callCount())
	})
}

func TestEngine_ClearQueue(t *testing.T) {
	t.Parallel()

	q := queue.New()
	engine, err := delivery.New(q, &fakeValidator{}, &fakeResolver{}, newFakeDispatcher(), &fakeStats{})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(queue.NewNotification("c", "x", 5, "k"))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, engine.ClearQueue())
	assert.Equal(t, 0, engine.Stats().Queue.Size)
}
