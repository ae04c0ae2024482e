package go_oscar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryWithBackoff executes a function with exponential backoff retry
// logic. It respects context cancellation and distinguishes between
// temporary and fatal errors.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - maxRetries: Maximum number of retry attempts (0 = no retries, negative = infinite)
//   - initialBackoff: Initial delay between retries (doubles each attempt)
//   - fn: Function to execute, should return nil on success
//
// The backoff doubles each attempt and caps at 5 minutes. Fatal errors
// cause immediate return without further retries: for login that means
// bad credentials, a suspended account, or a version rejection, none
// of which a retry can fix.
//
// Example:
//
//	err := RetryWithBackoff(ctx, 5, time.Second, func() error {
//	    return session.Connect(ctx, screenName, password)
//	})

// shouldRetryAfterError determines if a retry should occur based on the
// error type and attempt count.
func shouldRetryAfterError(err error, attempt int, maxRetries int) error {
	if !isTemporary(err) {
		Debug("encountered fatal error (not retrying): %v", err)
		return fmt.Errorf("fatal error: %w", err)
	}
	if maxRetries >= 0 && attempt > maxRetries {
		return &MaxRetriesExceededError{Attempts: attempt, LastErr: err}
	}
	return nil
}

// waitWithBackoff sleeps for the backoff duration while respecting
// context cancellation.
func waitWithBackoff(ctx context.Context, backoff time.Duration, attempt int, err error) error {
	Debug("retry attempt %d failed: %v (waiting %v before retry)", attempt, err, backoff)
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled during backoff after %d attempts: %w", attempt, ctx.Err())
	case <-time.After(backoff):
		return nil
	}
}

// calculateNextBackoff computes the next backoff duration using
// exponential backoff with a maximum cap.
func calculateNextBackoff(current time.Duration, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func RetryWithBackoff(ctx context.Context, maxRetries int, initialBackoff time.Duration, fn func() error) error {
	const maxBackoff = 5 * time.Minute

	attempt := 0
	backoff := initialBackoff

	for {
		err := fn()
		if err == nil {
			if attempt > 0 {
				Debug("retry succeeded after %d attempts", attempt)
			}
			return nil
		}

		attempt++
		if retryErr := shouldRetryAfterError(err, attempt, maxRetries); retryErr != nil {
			return retryErr
		}
		if waitErr := waitWithBackoff(ctx, backoff, attempt, err); waitErr != nil {
			return waitErr
		}
		backoff = calculateNextBackoff(backoff, maxBackoff)
	}
}

// isTemporary checks whether an error is worth retrying. Login errors
// carry their own verdict; anything implementing Temporary() bool is
// consulted; everything else retries by default.
func isTemporary(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		switch authErr.Kind {
		case AuthErrRateLimited, AuthErrTemporarilyUnavailable, AuthErrServiceUnavailable:
			return true
		default:
			return false
		}
	}

	type temporary interface {
		Temporary() bool
	}
	if temp, ok := err.(temporary); ok {
		return temp.Temporary()
	}
	return true
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// MaxRetriesExceededError is returned when the maximum number of
// retries is exceeded.
type MaxRetriesExceededError struct {
	Attempts int
	LastErr  error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("max retries (%d) exceeded: %v", e.Attempts, e.LastErr)
}

func (e *MaxRetriesExceededError) Unwrap() error {
	return e.LastErr
}
