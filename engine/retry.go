package engine

import (
	"context"
	"errors"
	"time"

	"github.com/JoshuaRamirez/ACS-sub000/db"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// RetryPolicy retries transient persistence failures with exponential
// backoff. Classified non-transient errors fail immediately; exhausting the
// budget converts the last error into a terminal one.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy returns the standard command retry budget
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// Execute runs fn up to MaxAttempts times. attempts reports how many runs
// happened, including the final one.
func (p RetryPolicy) Execute(ctx context.Context, label string, fn func(ctx context.Context) error) (attempts int, err error) {
	logger := slogging.Get()

	delay := p.BaseDelay
	for attempts = 1; ; attempts++ {
		err = fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if !Retryable(err) {
			return attempts, err
		}
		if attempts >= p.MaxAttempts {
			return attempts, Terminalf(err, "%s failed after %d attempts", label, attempts)
		}

		logger.Warn("Retrying %s after attempt %d/%d in %s: %v", label, attempts, p.MaxAttempts, delay, err)
		select {
		case <-ctx.Done():
			return attempts, Transientf(ctx.Err(), "%s interrupted during backoff", label)
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Retryable reports whether an error is worth another attempt. Errors the
// engine classified keep their verdict; unclassified errors count as
// transient, matching the connection-level heuristics.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransient
	}
	return db.IsRetryableError(err)
}
