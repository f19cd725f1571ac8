package util

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent marks a failure that will not improve on retry, such as a 4xx
// response. Wrap it with fmt.Errorf("...: %w", ErrPermanent) to stop the
// retry loop immediately.
var ErrPermanent = errors.New("permanent failure")

// Retry calls fn up to maxAttempts times with linear backoff: the wait after
// attempt i is (i+1)*baseDelay. It returns nil on the first successful call,
// stops early on ErrPermanent or context cancellation, and otherwise returns
// the last error.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			return err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt+1) * baseDelay):
			}
		}
	}

	return err
}
