package store

import (
	"context"
	"fmt"
	"time"
)

// RetryConflicts runs attempt until it succeeds, fails with an error that
// is not a conflict, or uses up maxAttempts. Exhaustion is reported as
// ErrConflict.
func RetryConflicts(ctx context.Context, maxAttempts int, backoff time.Duration, isConflict func(error) bool, attempt func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for i := 1; i <= maxAttempts; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		lastErr = err

		if i == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(i)):
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrConflict, maxAttempts, lastErr)
}
