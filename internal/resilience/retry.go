// Package resilience provides retry with exponential backoff for transient
// infrastructure failures, chiefly database connectivity at startup.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/campus-mobility/parkwatch/internal/store"
)

// RetryConfig controls retry behavior.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first try.
	// A value of 1 means no retries. Default: 5.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Default: 10s.
	MaxBackoff time.Duration

	// JitterFraction adds random jitter as a fraction of the computed
	// delay. Default: 0.25.
	JitterFraction float64

	// ShouldRetry overrides the default transient-error check. If nil,
	// IsTransient is used.
	ShouldRetry func(err error) bool
}

// DefaultRetryConfig suits database connection attempts during boot.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.25,
	}
}

// IsTransient reports whether err is worth retrying. Only availability
// failures qualify; validation and not-found errors never do.
func IsTransient(err error) bool {
	return eris.Is(err, store.ErrUnavailable)
}

// Do executes fn, retrying transient errors with exponential backoff and
// jitter. Context cancellation stops retries immediately and returns the
// last error observed.
func Do(ctx context.Context, cfg RetryConfig, op string, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts || !shouldRetry(err) {
			return err
		}

		delay := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt-1))
		if delay > float64(cfg.MaxBackoff) {
			delay = float64(cfg.MaxBackoff)
		}
		if cfg.JitterFraction > 0 {
			delay += delay * cfg.JitterFraction * (2*rand.Float64() - 1)
		}

		zap.L().Warn("retrying after transient failure",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", time.Duration(delay)),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return eris.Wrapf(err, "%s: canceled during retry", op)
		case <-time.After(time.Duration(delay)):
		}
	}
	return err
}
