package registry_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/apikey"
	"github.com/dmitrymomot/notifykit/pkg/registry"
)

// fakeKeyStore accepts every key and records accounting calls.
type fakeKeyStore struct {
	mu            sync.Mutex
	validateErr   error
	active        map[string]int
	notifications map[string]int
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{
		active:        make(map[string]int),
		notifications: make(map[string]int),
	}
}

func (f *fakeKeyStore) Validate(string) error {
	return f.validateErr
}

func (f *fakeKeyStore) RecordConnection(secret string, delta int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[secret] += delta
}

func (f *fakeKeyStore) RecordNotification(secret string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications[secret]++
}

func (f *fakeKeyStore) activeFor(secret string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[secret]
}

func TestRegistry_RegisterConnection(t *testing.T) {
	t.Parallel()

	t.Run("registers and counts toward key", func(t *testing.T) {
		t.Parallel()

		keys := newFakeKeyStore()
		reg, err := registry.New(keys)
		require.NoError(t, err)

		require.NoError(t, reg.RegisterConnection("conn-1", "key-a"))
		assert.Equal(t, 1, keys.activeFor("key-a"))

		key, ok := reg.KeyFor("conn-1")
		require.True(t, ok)
		assert.Equal(t, "key-a", key)
	})

	t.Run("rejects empty connection id", func(t *testing.T) {
		t.Parallel()

		reg, err := registry.New(newFakeKeyStore())
		require.NoError(t, err)
		require.ErrorIs(t, reg.RegisterConnection("", "key-a"), registry.ErrEmptyConnectionID)
	})

	t.Run("propagates key validation failure", func(t *testing.T) {
		t.Parallel()

		keys := newFakeKeyStore()
		keys.validateErr = apikey.ErrKeyNotFound
		reg, err := registry.New(keys)
		require.NoError(t, err)

		require.ErrorIs(t, reg.RegisterConnection("conn-1", "bogus"), apikey.ErrKeyNotFound)
		assert.Equal(t, 0, reg.Stats().Connections)
	})

	t.Run("rejects duplicate connection id", func(t *testing.T) {
		t.Parallel()

		reg, err := registry.New(newFakeKeyStore())
		require.NoError(t, err)

		require.NoError(t, reg.RegisterConnection("conn-1", "key-a"))
		require.ErrorIs(t, reg.RegisterConnection("conn-1", "key-b"), registry.ErrDuplicateConnection)
	})

	t.Run("enforces per-key cap without registering", func(t *testing.T) {
		t.Parallel()

		keys := newFakeKeyStore()
		reg, err := registry.New(keys, registry.WithMaxConnectionsPerKey(2))
		require.NoError(t, err)

		require.NoError(t, reg.RegisterConnection("conn-1", "key-a"))
		require.NoError(t, reg.RegisterConnection("conn-2", "key-a"))
		require.ErrorIs(t, reg.RegisterConnection("conn-3", "key-a"), registry.ErrConnectionLimit)

		assert.Equal(t, 2, reg.Stats().Connections)
		assert.Equal(t, 2, keys.activeFor("key-a"))

		// Other keys are unaffected by one key's cap.
		require.NoError(t, reg.RegisterConnection("conn-3", "key-b"))
	})

	t.Run("cap frees up after unregister", func(t *testing.T) {
		t.Parallel()

		reg, err := registry.New(newFakeKeyStore(), registry.WithMaxConnectionsPerKey(1))
		require.NoError(t, err)

		require.NoError(t, reg.RegisterConnection("conn-1", "key-a"))
		require.ErrorIs(t, reg.RegisterConnection("conn-2", "key-a"), registry.ErrConnectionLimit)

		require.True(t, reg.UnregisterConnection("conn-1"))
		require.NoError(t, reg.RegisterConnection("conn-2", "key-a"))
	})
}

func TestRegistry_Subscribe(t *testing.T) {
	t.Parallel()

	t.Run("subscribed connection appears in channel index", func(t *testing.T) {
		t.Parallel()

		reg, err := registry.New(newFakeKeyStore())
		require.NoError(t, err)

		require.NoError(t, reg.RegisterConnection("conn-1", "key-a"))
		require.NoError(t, reg.Subscribe("conn-1", "updates"))

		assert.Equal(t, []string{"conn-1"}, reg.ConnectionsForChannel("updates"))
		assert.Equal(t, []string{"updates"}, reg.Subscriptions("conn-1"))
	})

	t.Run("resubscribe is a no-op success", func(t *testing.T) {
		t.Parallel()

		reg, err := registry.New(newFakeKeyStore())
		require.NoError(t, err)

		require.NoError(t, reg.RegisterConnection("conn-1", "key-a"))
		require.NoError(t, reg.Subscribe("conn-1", "updates"))
		require.NoError(t, reg.Subscribe("conn-1", "updates"))

		assert.Len(t, reg.ConnectionsForChannel("updates"), 1)
		assert.Equal(t, 1, reg.Stats().Subscriptions)
	})

	t.Run("rejects unknown connection and empty channel", func(t *testing.T) {
		t.Parallel()

		reg, err := registry.New(newFakeKeyStore())
		require.NoError(t, err)

		require.ErrorIs(t, reg.Subscribe("ghost", "updates"), registry.ErrUnknownConnection)

		require.NoError(t, reg.RegisterConnection("conn-1", "key-a"))
		require.ErrorIs(t, reg.Subscribe("conn-1", ""), registry.ErrEmptyChannel)
	})
}

func TestRegistry_Unsubscribe(t *testing.T) {
	t.Parallel()

	reg, err := registry.New(newFakeKeyStore())
	require.NoError(t, err)

	require.NoError(t, reg.RegisterConnection("conn-1", "key-a"))
	require.NoError(t, reg.Subscribe("conn-1", "updates"))

	reg.Unsubscribe("conn-1", "updates")
	assert.Empty(t, reg.ConnectionsForChannel("updates"))
	assert.Equal(t, 0, reg.Stats().Channels)

	// Unsubscribing again, or for unknown connections, never fails.
	reg.Unsubscribe("conn-1", "updates")
	reg.Unsubscribe("ghost", "updates")
}

func TestRegistry_UnregisterConnection(t *testing.T) {
	t.Parallel()

	t.Run("removes connection from every channel", func(t *testing.T) {
		t.Parallel()

		keys := newFakeKeyStore()
		reg, err := registry.New(keys)
		require.NoError(t, err)

		require.NoError(t, reg.RegisterConnection("conn-1", "key-a"))
		require.NoError(t, reg.Subscribe("conn-1", "updates"))
		require.NoError(t, reg.Subscribe("conn-1", "alerts"))

		require.True(t, reg.UnregisterConnection("conn-1"))
		assert.Empty(t, reg.ConnectionsForChannel("updates"))
		assert.Empty(t, reg.ConnectionsForChannel("alerts"))
		assert.Equal(t, 0, keys.activeFor("key-a"))

		stats := reg.Stats()
		assert.Equal(t, 0, stats.Connections)
		assert.Equal(t, 0, stats.Channels)
	})

	t.Run("idempotent for unknown ids", func(t *testing.T) {
		t.Parallel()

		reg, err := registry.New(newFakeKeyStore())
		require.NoError(t, err)
		assert.False(t, reg.UnregisterConnection("ghost"))
	})
}

func TestRegistry_RevokeKey(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	reg, err := registry.New(keys)
	require.NoError(t, err)

	require.NoError(t, reg.RegisterConnection("conn-1", "key-a"))
	require.NoError(t, reg.RegisterConnection("conn-2", "key-a"))
	require.NoError(t, reg.RegisterConnection("conn-3", "key-b"))
	require.NoError(t, reg.Subscribe("conn-1", "updates"))
	require.NoError(t, reg.Subscribe("conn-2", "alerts"))
	require.NoError(t, reg.Subscribe("conn-3", "updates"))

	removed := reg.RevokeKey("key-a")
	assert.ElementsMatch(t, []string{"conn-1", "conn-2"}, removed)

	// Only key-b's connection survives, channel indexes included.
	assert.Equal(t, []string{"conn-3"}, reg.ConnectionsForChannel("updates"))
	assert.Empty(t, reg.ConnectionsForChannel("alerts"))
	assert.Equal(t, 1, reg.Stats().Connections)
	assert.Equal(t, 0, keys.activeFor("key-a"))

	assert.Empty(t, reg.RevokeKey("key-a"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	reg, err := registry.New(newFakeKeyStore())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			if err := reg.RegisterConnection(id, "key-a"); err != nil {
				return
			}
			_ = reg.Subscribe(id, "updates")
			reg.Unsubscribe(id, "updates")
			reg.UnregisterConnection(id)
		}(i)
	}
	wg.Wait()

	stats := reg.Stats()
	assert.Equal(t, 0, stats.Connections)
	assert.Equal(t, 0, stats.Subscriptions)
}
