// Package retry holds the one backoff policy shared by uploads, status
// polling and object storage calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy describes how often and how patiently an operation is retried.
// MaxAttempts counts the first try, so 3 means one call plus two retries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter spreads each delay by +/- this fraction (0.25 = 25%).
	Jitter float64
}

// Upload is the per-file upload policy: 3 attempts, 200ms doubling to at
// most 2s.
func Upload() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Second}
}

// Status is the policy for transient errors while polling deploy state:
// 3 attempts with a short fixed pause.
func Status() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Multiplier: 1, MaxDelay: 500 * time.Millisecond}
}

// Storage is used around object storage calls.
func Storage(maxRetries int) Policy {
	return Policy{
		MaxAttempts: maxRetries + 1,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      0.25,
	}
}

// Delay returns the pause before retry number n (0 is the first retry).
func (p Policy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(math.MaxInt64)
	if f := float64(p.BaseDelay) * math.Pow(mult, float64(n)); f < math.MaxInt64 {
		delay = time.Duration(f)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 && delay > 0 {
		spread := int64(float64(delay) * p.Jitter)
		if spread > 0 {
			delay += time.Duration(rand.Int63n(2*spread+1) - spread)
		}
		if delay < 0 {
			delay = p.BaseDelay
		}
	}
	return delay
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do calls op until it succeeds, returns an error retryable rejects, or
// the attempts run out. attempt passed to op starts at 1. When ctx ends
// while waiting between attempts, Do stops and returns ctx.Err() joined with
// the last failure.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, op func(attempt int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var lastErr error
	max := p.attempts()
	for attempt := 1; attempt <= max; attempt++ {
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == max {
			break
		}
		if err := Sleep(ctx, p.Delay(attempt-1)); err != nil {
			return errors.Join(err, lastErr)
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
