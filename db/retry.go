package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// RetryConfig holds configuration for transaction retry behavior
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns reasonable defaults for transaction retries
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// WithRetryableTransaction executes a function within a GORM transaction with retry logic.
// It automatically retries on connection errors and other transient failures.
// The transaction is rolled back on error and committed on success.
func WithRetryableTransaction(ctx context.Context, gdb *gorm.DB, cfg RetryConfig, fn func(tx *gorm.DB) error) error {
	logger := slogging.Get()
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with cap
			delay := cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			logger.Debug("Retrying transaction in %v (attempt %d/%d)", delay, attempt+1, cfg.MaxRetries)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := gdb.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}

		if IsRetryableError(err) {
			lastErr = err
			logger.Warn("Transaction failed with retryable error (attempt %d/%d): %v",
				attempt+1, cfg.MaxRetries, err)
			continue
		}
		return err
	}

	return fmt.Errorf("transaction failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

// IsRetryableError determines if an error should trigger a retry.
// It checks for common database connection and transient errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"driver: bad connection",
		"connection refused",
		"connection reset by peer",
		"connection reset",
		"broken pipe",
		"eof",
		"i/o timeout",
		"no connection available",
		"connection timed out",
		"unexpected eof",
		"server closed",
		"ssl connection has been closed",
		"connection is shut down",
		"invalid connection",
		"context deadline exceeded",
		// PostgreSQL-specific transient errors
		"canceling statement due to conflict", // Serialization conflict
		"could not serialize access",          // Serialization failure
		"deadlock detected",                   // Deadlock
		"the database system is starting up",  // Database not ready
		"the database system is shutting down",
		"terminating connection due to administrator command",
		"connection unexpectedly closed",
		// Unique-constraint races resolve on replay because writes are upserts
		"duplicate key value violates unique constraint",
		"unique constraint failed",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsConnectionError is a convenience function that checks specifically for connection errors.
// This is a subset of IsRetryableError focused only on connection-related issues.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	connectionPatterns := []string{
		"driver: bad connection",
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"i/o timeout",
		"no connection",
		"connection timed out",
		"connection unexpectedly closed",
		"invalid connection",
	}

	for _, pattern := range connectionPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
