package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticker-enricher/internal/common/logging"
	"ticker-enricher/internal/redis"
)

func setupStore(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(t *testing.T, store *redis.Client, rpm int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Now()}
	l := NewLimiter(store, rpm, time.Hour, logging.GetGlobalLogger())
	l.now = clock.now
	return l, clock
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	store, _ := setupStore(t)
	l, _ := newTestLimiter(t, store, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(ctx, "1.2.3.4"), "request %d should be admitted", i+1)
	}
	assert.False(t, l.Allow(ctx, "1.2.3.4"), "6th request should be denied")
}

func TestLimiter_RefillOverTime(t *testing.T) {
	store, _ := setupStore(t)
	l, clock := newTestLimiter(t, store, 5) // 5 tokens per minute = 1 per 12s
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow(ctx, "client"))
	}
	require.False(t, l.Allow(ctx, "client"))

	// 12 seconds credits exactly one token.
	clock.advance(12 * time.Second)
	assert.True(t, l.Allow(ctx, "client"))
	assert.False(t, l.Allow(ctx, "client"))

	// Refill never exceeds capacity.
	clock.advance(24 * time.Hour)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(ctx, "client"), "request %d after long idle", i+1)
	}
	assert.False(t, l.Allow(ctx, "client"))
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	store, _ := setupStore(t)
	l, _ := newTestLimiter(t, store, 2)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "alice"))
	require.True(t, l.Allow(ctx, "alice"))
	require.False(t, l.Allow(ctx, "alice"))

	assert.True(t, l.Allow(ctx, "bob"))
}

func TestLimiter_StateSurvivesRestart(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	l1, clock := newTestLimiter(t, store, 3)
	for i := 0; i < 3; i++ {
		require.True(t, l1.Allow(ctx, "client"))
	}
	require.False(t, l1.Allow(ctx, "client"))

	// A second limiter over the same store resumes from the drained bucket
	// instead of handing out a fresh one.
	l2 := NewLimiter(store, 3, time.Hour, logging.GetGlobalLogger())
	l2.now = clock.now
	assert.False(t, l2.Allow(ctx, "client"))
}

func TestLimiter_Reset(t *testing.T) {
	store, _ := setupStore(t)
	l, _ := newTestLimiter(t, store, 2)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "client"))
	require.True(t, l.Allow(ctx, "client"))
	require.False(t, l.Allow(ctx, "client"))

	require.NoError(t, l.Reset(ctx, "client"))

	assert.True(t, l.Allow(ctx, "client"))
}

func TestLimiter_IdleBucketExpiresInStore(t *testing.T) {
	store, mr := setupStore(t)
	l, _ := newTestLimiter(t, store, 5)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "client"))
	require.True(t, mr.Exists(bucketKeyPrefix+"client"))

	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists(bucketKeyPrefix+"client"))
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	store, mr := setupStore(t)
	l, _ := newTestLimiter(t, store, 1)
	ctx := context.Background()

	mr.Close()

	// With the store down every client gets a fresh local bucket.
	assert.True(t, l.Allow(ctx, "client"))
}
