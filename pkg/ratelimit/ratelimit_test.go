package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBucketConservation verifies at most maxRequests tokens are admitted per window
func TestBucketConservation(t *testing.T) {
	now := time.Now()
	bucket := NewBucket(3, time.Minute)
	bucket.now = func() time.Time { return now }
	bucket.last = now

	// First three calls consume the full budget
	for i := 0; i < 3; i++ {
		ok, _ := bucket.take()
		assert.True(t, ok, "call %d should be admitted", i)
	}

	// Fourth call is rejected with a wait of one inter-token interval
	ok, wait := bucket.take()
	assert.False(t, ok)
	assert.InDelta(t, float64(20*time.Second), float64(wait), float64(time.Second))

	// Advance half a window: half the budget refills
	now = now.Add(30 * time.Second)
	admitted := 0
	for i := 0; i < 3; i++ {
		if ok, _ := bucket.take(); ok {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted, "30s at 3/min refills one token")
}

func TestBucketRefillCapped(t *testing.T) {
	now := time.Now()
	bucket := NewBucket(2, time.Second)
	bucket.now = func() time.Time { return now }
	bucket.last = now

	// Drain, then wait far longer than a window
	for i := 0; i < 2; i++ {
		ok, _ := bucket.take()
		require.True(t, ok)
	}
	now = now.Add(time.Hour)

	admitted := 0
	for i := 0; i < 5; i++ {
		if ok, _ := bucket.take(); ok {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted, "refill must not exceed capacity")
}

func TestWaitCancellation(t *testing.T) {
	bucket := NewBucket(1, time.Hour)
	ok, _ := bucket.take()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := bucket.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterExecute(t *testing.T) {
	t.Run("runs immediately when tokens are available", func(t *testing.T) {
		limiter := NewChainLimiter(10, 100)

		ran := false
		err := limiter.Execute(context.Background(), func() error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
	})

	t.Run("failed calls still consume budget", func(t *testing.T) {
		limiter := NewLimiter(NewBucket(1, time.Hour))

		err := limiter.Execute(context.Background(), func() error {
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		// Budget is spent; the next call must block until cancellation
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err = limiter.Execute(ctx, func() error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("conjunctive buckets", func(t *testing.T) {
		// Per-minute bucket is the tighter constraint here
		limiter := NewLimiter(
			NewBucket(100, time.Second),
			NewBucket(1, time.Minute),
		)

		err := limiter.Execute(context.Background(), func() error { return nil })
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err = limiter.Execute(ctx, func() error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
