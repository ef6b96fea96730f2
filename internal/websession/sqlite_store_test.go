package websession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	key := storeKey("session-a")
	payload := []byte(`{"cookies":[{"name":"zbx_session","value":"abc"}]}`)
	require.NoError(t, store.Save(ctx, key, payload, time.Now().Add(time.Hour)))

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Survives reopening
	store.Stop()
	store, err = NewSQLiteStore(dir)
	require.NoError(t, err)
	t.Cleanup(store.Stop)

	got, err = store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreExpiry(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(store.Stop)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "old", []byte("0123456789ab"), time.Now().Add(-time.Minute)))
	require.NoError(t, store.Save(ctx, "new", []byte("0123456789ab"), time.Now().Add(time.Hour)))

	_, err = store.Load(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := store.DeleteExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.Load(ctx, "new")
	assert.NoError(t, err)
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore("  ")
	require.Error(t, err)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", []byte("value"), now.Add(time.Minute)))
	got, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	now = now.Add(2 * time.Minute)
	_, err = store.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestStoreKeyHashesSessionID(t *testing.T) {
	key := storeKey("raw-session-id")
	assert.Len(t, key, 64)
	assert.NotContains(t, key, "raw-session-id")
	assert.Equal(t, key, storeKey("raw-session-id"))
}
