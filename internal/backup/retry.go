package backup

import (
	"context"
	"time"
)

const (
	retryAttempts = 3
	retryBase     = 500 * time.Millisecond
)

// retryDelay returns the backoff before the given retry (1-based), doubling
// from the base interval.
func retryDelay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	return retryBase * time.Duration(1<<(retry-1))
}

// withRetries runs fn up to retryAttempts times with exponential backoff,
// honoring ctx cancellation between attempts. onRetry is invoked before each
// re-attempt.
func withRetries(ctx context.Context, sleep func(context.Context, time.Duration) error, onRetry func(attempt int, err error), fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if sleepErr := sleep(ctx, retryDelay(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}

// sleepCtx is the default sleeper; tests replace it to avoid real delays.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
