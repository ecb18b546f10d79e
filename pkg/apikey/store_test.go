package apikey_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/apikey"
)

var signingKey = []byte("test-signing-key")

func TestNewStore(t *testing.T) {
	t.Parallel()

	t.Run("requires signing key", func(t *testing.T) {
		t.Parallel()

		_, err := apikey.NewStore(nil)
		require.ErrorIs(t, err, apikey.ErrSigningKeyRequired)

		_, err = apikey.NewStore([]byte{})
		require.ErrorIs(t, err, apikey.ErrSigningKeyRequired)
	})
}

func TestStore_IssueAndValidate(t *testing.T) {
	t.Parallel()

	t.Run("issued key validates", func(t *testing.T) {
		t.Parallel()

		store, err := apikey.NewStore(signingKey)
		require.NoError(t, err)

		key, err := store.Issue("producer", "owner-1")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(key, apikey.Prefix))

		require.NoError(t, store.Validate(key))
		assert.Equal(t, 1, store.Count())
	})

	t.Run("requires label", func(t *testing.T) {
		t.Parallel()

		store, err := apikey.NewStore(signingKey)
		require.NoError(t, err)

		_, err = store.Issue("", "owner-1")
		require.ErrorIs(t, err, apikey.ErrLabelRequired)
	})

	t.Run("rejects malformed keys without store lookup", func(t *testing.T) {
		t.Parallel()

		store, err := apikey.NewStore(signingKey)
		require.NoError(t, err)

		for _, key := range []string{"", "garbage", "nk_nodot", "nk_.sig"} {
			require.ErrorIs(t, store.Validate(key), apikey.ErrInvalidKeyFormat, key)
		}
	})

	t.Run("rejects tampered keys", func(t *testing.T) {
		t.Parallel()

		store, err := apikey.NewStore(signingKey)
		require.NoError(t, err)

		key, err := store.Issue("producer", "")
		require.NoError(t, err)

		payload, _, ok := strings.Cut(strings.TrimPrefix(key, apikey.Prefix), ".")
		require.True(t, ok)
		tampered := apikey.Prefix + payload + ".AAAAAAAAAAA"
		require.ErrorIs(t, store.Validate(tampered), apikey.ErrInvalidKeyFormat)
	})

	t.Run("rejects well-formed unknown keys", func(t *testing.T) {
		t.Parallel()

		issuer, err := apikey.NewStore(signingKey)
		require.NoError(t, err)
		other, err := apikey.NewStore(signingKey)
		require.NoError(t, err)

		key, err := issuer.Issue("producer", "")
		require.NoError(t, err)
		require.ErrorIs(t, other.Validate(key), apikey.ErrKeyNotFound)
	})
}

func TestStore_Revoke(t *testing.T) {
	t.Parallel()

	store, err := apikey.NewStore(signingKey)
	require.NoError(t, err)

	key, err := store.Issue("producer", "owner-1")
	require.NoError(t, err)

	require.NoError(t, store.Revoke(key))
	require.ErrorIs(t, store.Validate(key), apikey.ErrKeyNotFound)
	require.ErrorIs(t, store.Revoke(key), apikey.ErrKeyNotFound)
	assert.Equal(t, 0, store.Count())
}

func TestStore_ListKeys(t *testing.T) {
	t.Parallel()

	store, err := apikey.NewStore(signingKey)
	require.NoError(t, err)

	keyA, err := store.Issue("service-a", "owner-1")
	require.NoError(t, err)
	_, err = store.Issue("service-b", "owner-1")
	require.NoError(t, err)
	_, err = store.Issue("service-c", "owner-2")
	require.NoError(t, err)

	t.Run("filters by owner", func(t *testing.T) {
		t.Parallel()

		keys := store.ListKeys("owner-1")
		require.Len(t, keys, 2)
		for _, info := range keys {
			assert.Equal(t, "owner-1", info.OwnerID)
			assert.Contains(t, info.Key, "...")
		}
	})

	t.Run("empty owner returns nothing", func(t *testing.T) {
		t.Parallel()

		assert.Empty(t, store.ListKeys(""))
	})

	t.Run("masked key matches original", func(t *testing.T) {
		t.Parallel()

		keys := store.ListKeys("owner-1")
		masked := apikey.Mask(keyA)
		var found bool
		for _, info := range keys {
			if info.Key == masked {
				found = true
			}
		}
		assert.True(t, found)
	})
}

func TestStore_Stats(t *testing.T) {
	t.Parallel()

	store, err := apikey.NewStore(signingKey)
	require.NoError(t, err)

	key, err := store.Issue("producer", "owner-1")
	require.NoError(t, err)

	store.RecordConnection(key, 1)
	store.RecordConnection(key, 1)
	store.RecordConnection(key, -1)
	store.RecordNotification(key)

	info, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Stats.TotalConnections)
	assert.Equal(t, 1, info.Stats.ActiveConnections)
	assert.Equal(t, int64(1), info.Stats.TotalNotifications)
	assert.False(t, info.Stats.LastActivityAt.IsZero())

	t.Run("active never goes negative", func(t *testing.T) {
		store.RecordConnection(key, -5)
		info, err := store.Get(key)
		require.NoError(t, err)
		assert.Equal(t, 0, info.Stats.ActiveConnections)
	})

	t.Run("unknown key is a no-op", func(t *testing.T) {
		store.RecordConnection("nk_missing.sig", 1)
		store.RecordNotification("nk_missing.sig")
	})
}

func TestMask(t *testing.T) {
	t.Parallel()

	t.Run("keeps prefix and tail", func(t *testing.T) {
		t.Parallel()

		masked := apikey.Mask("nk_abcdefghijklmnop.qrstuvwx")
		assert.Equal(t, "nk_abcd...uvwx", masked)
	})

	t.Run("short values fully masked", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, "nk_***", apikey.Mask("nk_short"))
		assert.Equal(t, "nk_***", apikey.Mask(""))
	})
}
