// Package retry provides a small explicit retry policy used by both the
// producer and the consumer. No struct tags, no framework, no hidden state:
// a policy is a value and Do is a loop, so it is independently testable.
package retry

import (
	"context"
	"fmt"
	"time"

	"relay-lab/errors"
)

// Policy describes a bounded exponential backoff.
// The first attempt runs immediately; a failed attempt n waits
// BaseDelay * Multiplier^(n-1) before attempt n+1.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultPolicy absorbs transient infrastructure errors:
// 4 attempts, 500ms/1s/2s waits, ~3.5s cumulative worst case.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, Multiplier: 2}
}

// Do runs fn until it succeeds, MaxAttempts is reached, or ctx is canceled.
// Every failure is retried identically: this layer does not distinguish a
// transient error from a poison one.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}

	return fmt.Errorf("%w after %d attempts: %w", errors.ErrRetriesExhausted, attempts, lastErr)
}
