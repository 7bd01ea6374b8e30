package registry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

const (
	retryAttempts   = 3
	retryBaseDelay  = 100 * time.Millisecond
	retryMaxDelay   = 2 * time.Second
	retryMultiplier = 2.0
	retryJitter     = 0.1
)

// withRetry wraps transient artifact I/O with bounded exponential backoff.
// Encoding and dimension errors never pass through here; only storage
// operations are retried before surfacing.
func withRetry(ctx context.Context, log *zap.Logger, op string, fn func() error) error {
	var lastErr error
	delay := retryBaseDelay

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if lastErr = fn(); lastErr == nil {
			if attempt > 1 {
				log.Info("operation succeeded after retry",
					zap.String("op", op),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		if attempt == retryAttempts {
			break
		}

		log.Warn("operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(addJitter(delay)):
		}

		delay = time.Duration(float64(delay) * retryMultiplier)
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}

	return lastErr
}

func addJitter(delay time.Duration) time.Duration {
	jitter := time.Duration(rand.Float64() * float64(delay) * retryJitter)
	if rand.Intn(2) == 0 {
		return delay - jitter
	}
	return delay + jitter
}
