// Package util provides shared utility functions for mediamirror.
package util

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"mediamirror/internal/common"
)

// DatabaseRetryOptions returns retry options for state database operations.
// Linear backoff (100ms, 200ms, 300ms) is enough for transient lock errors
// between the CLI and a concurrently finishing run.
func DatabaseRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(300 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsDatabaseLocked),
		retry.Context(ctx),
	}
}

// HTTPRetryOptions returns retry options for remote requests. Only
// transient failures are retried; a NotFound response is final for
// the attempt and handed to the retry ledger instead.
func HTTPRetryOptions(ctx context.Context, attempts uint, wait time.Duration) []retry.Option {
	return []retry.Option{
		retry.Attempts(attempts),
		retry.Delay(wait),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.Context(ctx),
	}
}

// Retry executes fn with retry logic.
// Returns the last error if all attempts fail.
func Retry(ctx context.Context, fn func() error, opts ...retry.Option) error {
	if len(opts) == 0 {
		opts = DatabaseRetryOptions(ctx)
	}
	return retry.Do(fn, opts...)
}

// RetryWithResult executes fn with retry logic and returns the result.
func RetryWithResult[T any](ctx context.Context, fn func() (T, error), opts ...retry.Option) (T, error) {
	if len(opts) == 0 {
		opts = DatabaseRetryOptions(ctx)
	}
	return retry.DoWithData(fn, opts...)
}

// IsDatabaseLocked returns true if the error indicates a database lock.
func IsDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsTransient returns true for failures worth another attempt: timeouts,
// connection errors and 5xx-class responses, but never NotFound.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, common.ErrNotFound) {
		return false
	}
	if errors.Is(err, common.ErrTransient) || errors.Is(err, common.ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
