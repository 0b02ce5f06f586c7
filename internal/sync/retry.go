package sync

import (
	"context"
	"fmt"
	"time"
)

// withRetry runs fn up to attempts times, doubling the backoff between
// tries. Intended for transient connectivity failures; callers treat an
// exhausted retry as fatal for the current job.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, op string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		delay := backoff << uint(i)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
}
