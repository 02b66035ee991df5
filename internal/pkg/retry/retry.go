package retry

import (
	"context"
	"time"

	"github.com/lingobridge/lingobridge-backend/internal/platform/httpx"
)

// Config bounds a retry loop around one remote call.
type Config struct {
	// MaxRetries is the number of re-attempts after the initial call.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// IsRetryable decides whether a failure is worth another attempt.
	// Defaults to httpx.IsRetryableError (rate-limit / transient upstream).
	IsRetryable func(error) bool
	// OnRetry observes each scheduled retry (1-indexed attempt, computed
	// delay, triggering error). It has no control-flow effect and may not
	// abort the loop, even by panicking.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.IsRetryable == nil {
		c.IsRetryable = httpx.IsRetryableError
	}
	return c
}

// Do runs op, retrying retryable failures with exponential backoff and
// jitter. The delay before re-attempt n is min(MaxDelay, BaseDelay*2^(n-1)),
// jittered ±20%. When retries are exhausted the last error is returned
// unwrapped; callers triage the real cause, not a retry wrapper.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T
	cfg = cfg.withDefaults()

	delay := cfg.BaseDelay
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if !cfg.IsRetryable(err) || attempt == cfg.MaxRetries {
			return zero, err
		}

		sleepFor := delay
		if sleepFor > cfg.MaxDelay {
			sleepFor = cfg.MaxDelay
		}
		sleepFor = httpx.Jitter(sleepFor)

		notifyRetry(cfg, attempt+1, sleepFor, err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(sleepFor):
		}
		delay *= 2
	}
}

func notifyRetry(cfg Config, attempt int, delay time.Duration, err error) {
	if cfg.OnRetry == nil {
		return
	}
	defer func() { _ = recover() }()
	cfg.OnRetry(attempt, delay, err)
}
