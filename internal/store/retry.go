package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how failed flushes are retried with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns 3 attempts, 200ms initial delay, 2x multiplier,
// 5s max delay.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
}

// isRetryable classifies errors as retryable or permanent based on their message.
// Lock contention and connection errors are retryable; constraint and syntax
// errors are not. Unknown errors default to retryable.
func (p *RetryPolicy) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "bad connection") {
		return true
	}

	if strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "negative duration") {
		return false
	}

	return true
}

func (p *RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.2
	b.Reset()
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Execute runs fn up to MaxAttempts times with exponential backoff between
// attempts. onRetry is called before each retry and may be nil. Returns nil
// on success or the last error.
func (p *RetryPolicy) Execute(ctx context.Context, fn func() error, onRetry func(error, time.Duration)) error {
	op := func() error {
		err := fn()
		if err != nil && !p.isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		if onRetry != nil {
			onRetry(err, d)
		}
	}
	return backoff.RetryNotify(op, p.backOff(ctx), notify)
}
