package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{})
	require.Error(t, err)
}

func TestRedisStorePrefixesKeys(t *testing.T) {
	store := &RedisStore{}
	require.Equal(t, "glavox:speaking:s1", store.prefixed("speaking:s1"))
	require.Equal(t, "glavox:speaking:s1", store.prefixed("glavox:speaking:s1"))
}

// Runs against a live server only when GLAVOX_TEST_REDIS_ADDR is set.
func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("GLAVOX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GLAVOX_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	store, err := NewRedisStore(ctx, RedisConfig{Address: addr, Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	key := "test:" + uuid.NewString()
	t.Cleanup(func() { _ = store.Delete(context.Background(), key) })

	require.NoError(t, store.Set(ctx, key, []byte("42"), time.Minute))
	value, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "42", string(value))

	require.NoError(t, store.Delete(ctx, key))
	count, ttl, err := store.IncrementWithTTL(ctx, key, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, ttl)
}
