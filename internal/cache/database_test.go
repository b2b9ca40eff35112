package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glavox/glavox-server/internal/database/testutil"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestDatabaseStore(t *testing.T) (*DatabaseStore, *fakeClock) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &fakeClock{now: time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)}
	return NewDatabaseStore(db, WithDatabaseClock(clock.Now)), clock
}

func TestNewDatabaseStoreNil(t *testing.T) {
	require.Nil(t, NewDatabaseStore(nil))

	var store *DatabaseStore
	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	store, _ := newTestDatabaseStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "speaking:s1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "speaking:s1", []byte("12.5"), time.Minute))
	value, ok, err := store.Get(ctx, "speaking:s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "12.5", string(value))

	require.NoError(t, store.Set(ctx, "speaking:s1", []byte("20"), time.Minute))
	value, _, err = store.Get(ctx, "speaking:s1")
	require.NoError(t, err)
	require.Equal(t, "20", string(value))

	require.NoError(t, store.Delete(ctx, "speaking:s1"))
	_, ok, err = store.Get(ctx, "speaking:s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreExpiry(t *testing.T) {
	store, clock := newTestDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Second))
	require.NoError(t, store.Set(ctx, "forever", []byte("v"), 0))

	clock.now = clock.now.Add(time.Minute)

	_, ok, err := store.Get(ctx, "forever")
	require.NoError(t, err)
	require.True(t, ok)

	pruned, err := store.PruneExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)

	_, ok, err = store.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	store, clock := newTestDatabaseStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rate:upload", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, ttl)

	clock.now = clock.now.Add(10 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "rate:upload", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.Equal(t, 50*time.Second, ttl)

	clock.now = clock.now.Add(2 * time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "rate:upload", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
