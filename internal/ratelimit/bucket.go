package ratelimit

import "time"

// Bucket is the persisted token-bucket state for one client. Tokens refill
// continuously at RefillRate per second up to Capacity; a request consumes
// one whole token.
type Bucket struct {
	Capacity   float64   `json:"capacity"`
	Tokens     float64   `json:"tokens"`
	RefillRate float64   `json:"refill_rate"`
	LastRefill time.Time `json:"last_refill"`
}

// NewBucket returns a full bucket stamped at now.
func NewBucket(capacity, refillRate float64, now time.Time) *Bucket {
	return &Bucket{
		Capacity:   capacity,
		Tokens:     capacity,
		RefillRate: refillRate,
		LastRefill: now,
	}
}

// Refill credits tokens for the time elapsed since the last refill, capped at
// capacity. Non-monotonic clocks credit nothing.
func (b *Bucket) Refill(now time.Time) {
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed > 0 {
		b.Tokens += elapsed * b.RefillRate
		if b.Tokens > b.Capacity {
			b.Tokens = b.Capacity
		}
	}
	b.LastRefill = now
}

// TryConsume takes one token if at least one is available.
func (b *Bucket) TryConsume() bool {
	if b.Tokens >= 1 {
		b.Tokens--
		return true
	}
	return false
}
