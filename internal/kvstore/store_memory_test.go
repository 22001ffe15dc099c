package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finvault/internal/sentinel"
)

func TestInMemoryStoreOperations(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	// Set and get
	require.NoError(t, store.Set(ctx, "finvault:assets", "ciphertext-a"))
	v, err := store.Get(ctx, "finvault:assets")
	require.NoError(t, err)
	assert.Equal(t, "ciphertext-a", v)

	// Overwrite
	require.NoError(t, store.Set(ctx, "finvault:assets", "ciphertext-b"))
	v, err = store.Get(ctx, "finvault:assets")
	require.NoError(t, err)
	assert.Equal(t, "ciphertext-b", v)

	// Missing key
	_, err = store.Get(ctx, "finvault:missing")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	// Prefix listing ignores foreign keys
	require.NoError(t, store.Set(ctx, "finvault:settings", "x"))
	require.NoError(t, store.Set(ctx, "other-app:data", "y"))
	keys, err := store.ListKeys(ctx, "finvault:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"finvault:assets", "finvault:settings"}, keys)

	// Remove is idempotent
	require.NoError(t, store.Remove(ctx, "finvault:assets"))
	require.NoError(t, store.Remove(ctx, "finvault:assets"))
	_, err = store.Get(ctx, "finvault:assets")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStoreQuota(t *testing.T) {
	store := NewInMemoryStore(WithQuota(10))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "12345"))
	require.NoError(t, store.Set(ctx, "b", "12345"))

	err := store.Set(ctx, "c", "x")
	require.ErrorIs(t, err, sentinel.ErrQuotaExceeded)

	// Overwriting with a shorter value frees budget.
	require.NoError(t, store.Set(ctx, "a", "1"))
	require.NoError(t, store.Set(ctx, "c", "x"))

	// Removal releases the key's bytes.
	require.NoError(t, store.Remove(ctx, "b"))
	require.NoError(t, store.Set(ctx, "d", "12345"))
}
