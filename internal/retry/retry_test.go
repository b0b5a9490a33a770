package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	perrors "github.com/p-blackswan/issuemirror/internal/errors"
)

var fast = Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

// failing returns an fn that fails with err for the first n calls.
func failing(n int, err error, calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= n {
			return err
		}
		return nil
	}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   error
	}{
		{"first try", 0, nil, 1, nil},
		{"transient then success", 2, perrors.ErrTimeout, 3, nil},
		{"attempts exhausted", 5, perrors.ErrUnavailable, 3, perrors.ErrUnavailable},
		{"rate limit exhausted", 5, perrors.FromStatus("github", 429, "slow down"), 3, perrors.ErrRateLimit},
		{"auth is permanent", 5, perrors.ErrAuthFailure, 1, perrors.ErrAuthFailure},
		{"not found is permanent", 5, perrors.FromStatus("github", 404, "gone"), 1, perrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fast, failing(tt.failures, tt.err, &calls))
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDo_UnclassifiedErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, failing(5, errors.New("boom"), &calls))
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsStillCallsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, failing(5, perrors.ErrTimeout, &calls))
	assert.ErrorIs(t, err, perrors.ErrTimeout)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fast, failing(5, perrors.ErrTimeout, &calls))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	cfg := fast
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		attempts = append(attempts, attempt)
		assert.LessOrEqual(t, delay, cfg.MaxDelay)
		assert.ErrorIs(t, err, perrors.ErrTimeout)
	}
	calls := 0
	assert.NoError(t, Do(context.Background(), cfg, failing(2, perrors.ErrTimeout, &calls)))
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_HonorsRetryAfterWithinMaxDelay(t *testing.T) {
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond}
	limited := &perrors.APIError{Service: "github", StatusCode: 429, RetryAfter: time.Hour, Err: perrors.ErrRateLimit}

	calls := 0
	start := time.Now()
	assert.NoError(t, Do(context.Background(), cfg, failing(1, limited, &calls)))
	assert.Equal(t, 2, calls)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestBackoff(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, cfg.backoff(1, perrors.ErrTimeout))
	assert.Equal(t, 200*time.Millisecond, cfg.backoff(2, perrors.ErrTimeout))
	assert.Equal(t, 400*time.Millisecond, cfg.backoff(3, perrors.ErrTimeout))
	assert.Equal(t, time.Second, cfg.backoff(10, perrors.ErrTimeout))

	jittered := cfg
	jittered.Jitter = true
	for i := 0; i < 20; i++ {
		d := jittered.backoff(2, perrors.ErrTimeout)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}
