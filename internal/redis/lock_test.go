package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithLockReleasesAfterRun(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, 30*time.Second)

	ran := false
	err := locker.WithLock(context.Background(), "expiry-sweep", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:expiry-sweep"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:expiry-sweep"))
}

func TestWithLockContended(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, 30*time.Second)

	require.NoError(t, mr.Set("lock:expiry-sweep", "other-holder"))

	err := locker.WithLock(context.Background(), "expiry-sweep", func(ctx context.Context) error {
		t.Fatal("fn must not run without the lease")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	got, err := mr.Get("lock:expiry-sweep")
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got, "a loser must not delete someone else's lease")
}

func TestWithLockPropagatesError(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, 30*time.Second)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "job", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:job"))
}

func TestWithLockExpiredLeaseNotStolen(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, time.Second)

	err := locker.WithLock(context.Background(), "job", func(ctx context.Context) error {
		// lease expires and another process takes it
		mr.FastForward(2 * time.Second)
		return mr.Set("lock:job", "new-holder")
	})
	require.NoError(t, err)

	got, err := mr.Get("lock:job")
	require.NoError(t, err)
	assert.Equal(t, "new-holder", got)
}

func TestDeduper(t *testing.T) {
	mr, client := newTestClient(t)
	d := NewRedisDeduper(client, "notif:", time.Hour)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "stripe:evt_1"))
	seen, err = d.Seen(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, time.Hour, mr.TTL("notif:stripe:evt_1"))

	mr.FastForward(2 * time.Hour)
	seen, err = d.Seen(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestNoopImplementations(t *testing.T) {
	called := false
	require.NoError(t, NoopLocker{}.WithLock(context.Background(), "x", func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)

	seen, err := NoopDeduper{}.Seen(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.NoError(t, NoopDeduper{}.Mark(context.Background(), "k"))
}
