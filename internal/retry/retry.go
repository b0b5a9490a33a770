// Package retry retries upstream calls that failed transiently.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	perrors "github.com/p-blackswan/issuemirror/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	// OnRetry, if set, is called before each wait with the 1-based attempt
	// that failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig suits GitHub's REST API: three attempts, up to 10s apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts are used up or ctx is done. The last error is returned as is.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := max(cfg.MaxAttempts, 1)

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !perrors.IsRetryable(err) {
			return err
		}

		delay := cfg.backoff(attempt, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}
		if werr := sleep(ctx, delay); werr != nil {
			return werr
		}
	}
}

// backoff is BaseDelay doubled per failed attempt, optionally jittered
// down to half, raised to the upstream's Retry-After. Never above MaxDelay.
func (c Config) backoff(attempt int, err error) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if c.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	if wait, ok := perrors.RetryAfter(err); ok && wait > delay {
		delay = wait
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
