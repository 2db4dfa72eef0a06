package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPebbleStore(t *testing.T) *PebbleStore {
	store, err := NewPebbleStore(PebbleStoreOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPebbleStore_SaveThenLoad(t *testing.T) {
	store := newTestPebbleStore(t)
	now := time.Now().Truncate(time.Millisecond)
	bucket := Bucket{Count: 4, WindowStart: now, ExpiresAt: now.Add(time.Minute)}

	require.NoError(t, store.Save("sync_push", "user:1:vault:2", bucket))

	loaded, ok, err := store.Load("sync_push", "user:1:vault:2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bucket.Count, loaded.Count)
	assert.True(t, bucket.ExpiresAt.Equal(loaded.ExpiresAt))
}

func TestPebbleStore_LoadMissingReturnsNotOK(t *testing.T) {
	store := newTestPebbleStore(t)
	_, ok, err := store.Load("login", "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPebbleStore_SweepRemovesExpiredOnly(t *testing.T) {
	store := newTestPebbleStore(t)
	now := time.Now()

	require.NoError(t, store.Save("login", "expired", Bucket{Count: 1, ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, store.Save("login", "live", Bucket{Count: 1, ExpiresAt: now.Add(time.Minute)}))

	removed, err := store.Sweep(now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, err := store.Load("login", "live")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = store.Load("login", "expired")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLimiter_WithPebbleStore(t *testing.T) {
	store := newTestPebbleStore(t)
	limiter := New(store)

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow("register", "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := limiter.Allow("register", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}
