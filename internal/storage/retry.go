package storage

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// RetryConfig bounds how often a write transaction is retried after a
// transient failure.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig is used by all repositories.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// postgres SQLSTATEs worth a second attempt
var retryablePQCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// isTransient reports whether err is a lock or serialization conflict that a
// fresh transaction may not hit.
func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryablePQCodes[pqErr.Code]
	}
	return false
}

// backoff returns InitialBackoff * 2^attempt, capped at MaxBackoff.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(2, float64(attempt))
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	return time.Duration(d)
}

// withRetry runs fn until it succeeds, fails permanently, or the retries run
// out. fn must be safe to repeat; every caller wraps a whole transaction.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !isTransient(err) || attempt >= cfg.MaxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.backoff(attempt)):
		}
	}
}
