// Package ratelimit implements per-client admission control with a durable
// token bucket: state lives in Redis keyed by client and survives restarts,
// with a process-local cache in front so the hot path rarely touches the
// store. Denial is a normal outcome, never an error, and any store trouble
// fails open.
package ratelimit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"ticker-enricher/internal/common/logging"
	"ticker-enricher/internal/redis"
)

const bucketKeyPrefix = "rate_limit:"

// Limiter admits or denies requests per client key. Buckets idle longer than
// the idle window expire both locally (go-cache janitor) and in the store
// (key TTL).
//
// The load-mutate-persist cycle is atomic within this process only; two
// replicas sharing a store can race and slightly over-admit, which is an
// accepted trade for keeping the store schema to a single JSON value.
type Limiter struct {
	store      *redis.Client
	logger     logging.Logger
	capacity   float64
	refillRate float64
	idleWindow time.Duration

	mu    sync.Mutex
	local *gocache.Cache

	now func() time.Time
}

// NewLimiter creates a limiter admitting requestsPerMinute sustained requests
// per client, with bursts up to the same value.
func NewLimiter(store *redis.Client, requestsPerMinute int, idleWindow time.Duration, logger logging.Logger) *Limiter {
	return &Limiter{
		store:      store,
		logger:     logger,
		capacity:   float64(requestsPerMinute),
		refillRate: float64(requestsPerMinute) / 60.0,
		idleWindow: idleWindow,
		local:      gocache.New(idleWindow, idleWindow),
		now:        time.Now,
	}
}

// Allow reports whether a request from clientKey may proceed, consuming one
// token when it does. Unknown clients start with a full bucket. The updated
// bucket is persisted after every call, admitted or not, so a restarted
// process resumes from the stored state.
func (l *Limiter) Allow(ctx context.Context, clientKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.loadBucket(ctx, clientKey)
	b.Refill(l.now())
	allowed := b.TryConsume()

	l.local.Set(clientKey, b, gocache.DefaultExpiration)
	l.persistBucket(ctx, clientKey, b)

	if !allowed {
		l.logger.Debug("request denied",
			logging.String("client", clientKey),
			logging.Field{Key: "tokens", Value: b.Tokens})
	}
	return allowed
}

// Reset drops all bucket state for clientKey, locally and in the store. The
// client's next request starts a fresh full bucket.
func (l *Limiter) Reset(ctx context.Context, clientKey string) error {
	l.mu.Lock()
	l.local.Delete(clientKey)
	l.mu.Unlock()

	return l.store.Delete(ctx, bucketKeyPrefix+clientKey)
}

// loadBucket resolves a client's bucket: local cache, then store, then a
// fresh full bucket. A store read failure fails open with a full bucket.
// Caller holds mu.
func (l *Limiter) loadBucket(ctx context.Context, clientKey string) *Bucket {
	if cached, ok := l.local.Get(clientKey); ok {
		return cached.(*Bucket)
	}

	data, ok, err := l.store.Get(ctx, bucketKeyPrefix+clientKey)
	if err != nil {
		l.logger.Warn("bucket load failed, admitting with fresh bucket",
			logging.String("client", clientKey), logging.Err(err))
		return NewBucket(l.capacity, l.refillRate, l.now())
	}
	if ok {
		var b Bucket
		if err := json.Unmarshal(data, &b); err == nil {
			return &b
		}
		l.logger.Warn("corrupt bucket state, replacing",
			logging.String("client", clientKey), logging.Err(err))
	}

	return NewBucket(l.capacity, l.refillRate, l.now())
}

func (l *Limiter) persistBucket(ctx context.Context, clientKey string, b *Bucket) {
	data, err := json.Marshal(b)
	if err != nil {
		l.logger.Error("failed to encode bucket state", err, logging.String("client", clientKey))
		return
	}
	if err := l.store.SetWithTTL(ctx, bucketKeyPrefix+clientKey, data, l.idleWindow); err != nil {
		l.logger.Warn("bucket persist failed",
			logging.String("client", clientKey), logging.Err(err))
	}
}
