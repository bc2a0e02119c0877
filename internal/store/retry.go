package store

import (
	"context"
	"errors"
	"math"
	"time"

	"hawkeye-pipeline/internal/model"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// isRetryableError reports lock contention that clears on its own.
func isRetryableError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

// isCorruptError reports an index file sqlite cannot use.
func isCorruptError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrCorrupt || se.Code == sqlite3.ErrNotADB
}

// calculateDelay returns the backoff before the given retry attempt (1-based).
func calculateDelay(cfg model.RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if ceiling := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && delay > ceiling {
		delay = ceiling
	}
	return time.Duration(delay)
}

// withRetry runs fn until it succeeds, fails permanently or attempts run out.
func withRetry(ctx context.Context, cfg model.RetryConfig, logger *zap.Logger, op string, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil || !isRetryableError(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := calculateDelay(cfg, attempt)
		logger.Debug("archive index busy, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		retriesTotal.WithLabelValues(op).Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
