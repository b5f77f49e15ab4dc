package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token bucket guarding one external API surface. Capacity equals
// maxRequests and tokens refill continuously at maxRequests per window.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	last       time.Time
	now        func() time.Time
}

// NewBucket creates a full bucket admitting maxRequests calls per window.
func NewBucket(maxRequests int, window time.Duration) *Bucket {
	b := &Bucket{
		capacity:   float64(maxRequests),
		tokens:     float64(maxRequests),
		refillRate: float64(maxRequests) / window.Seconds(),
		now:        time.Now,
	}
	b.last = b.now()
	return b
}

// take consumes a token if one is available; otherwise it reports how long to
// wait until the next token accrues.
func (b *Bucket) take() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit / b.refillRate * float64(time.Second))
	return false, wait
}

// Wait blocks until a token is consumed or the context is cancelled.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		ok, wait := b.take()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Limiter composes buckets of different granularities conjunctively: a call
// proceeds only once it holds a token from every configured bucket.
type Limiter struct {
	buckets []*Bucket
}

// NewLimiter creates a limiter over the given buckets.
func NewLimiter(buckets ...*Bucket) *Limiter {
	return &Limiter{buckets: buckets}
}

// NewChainLimiter creates the standard two-granularity limiter for a chain's
// RPC surface: a per-second bucket and a per-minute bucket.
func NewChainLimiter(requestsPerSecond, requestsPerMinute int) *Limiter {
	return NewLimiter(
		NewBucket(requestsPerSecond, time.Second),
		NewBucket(requestsPerMinute, time.Minute),
	)
}

// Execute runs fn once a token has been acquired from every bucket. The wait
// is cancellable through ctx so abandoned requests do not queue stale work.
// Tokens are not refunded when fn fails; failed calls still spent RPC budget.
func (l *Limiter) Execute(ctx context.Context, fn func() error) error {
	for _, bucket := range l.buckets {
		if err := bucket.Wait(ctx); err != nil {
			return err
		}
	}
	return fn()
}
