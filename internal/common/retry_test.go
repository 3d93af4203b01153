package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/service"
)

var errFlaky = errors.New("connection reset")

func fastRetry(attempts int) service.RetryOptions {
	return service.RetryOptions{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  []error
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{name: "first try", attempts: 3, wantCalls: 1},
		{name: "recovers", failures: []error{errFlaky, errFlaky}, attempts: 3, wantCalls: 3},
		{name: "exhausted", failures: []error{errFlaky, errFlaky, errFlaky}, attempts: 3, wantCalls: 3, wantErr: ErrMaxRetries},
		{
			name:      "permanent stops at once",
			failures:  []error{&RetryableError{Err: errFlaky, Retryable: false}},
			attempts:  5,
			wantCalls: 1,
			wantErr:   errFlaky,
		},
		{
			name:      "retryable tag keeps going",
			failures:  []error{&RetryableError{Err: errFlaky, Retryable: true}},
			attempts:  2,
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), func() error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			}, fastRetry(tt.attempts))

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		cancel()
		return errFlaky
	}, fastRetry(5))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errFlaky)
}

func TestBackoff(t *testing.T) {
	b := backoff{next: 10 * time.Millisecond, max: 35 * time.Millisecond, mult: 2}
	assert.Equal(t, 10*time.Millisecond, b.delay(errFlaky))
	assert.Equal(t, 20*time.Millisecond, b.delay(errFlaky))
	assert.Equal(t, 35*time.Millisecond, b.delay(errFlaky), "capped")
	assert.Equal(t, 35*time.Millisecond, b.delay(errFlaky))

	throttled := backoff{next: time.Millisecond, max: time.Second, mult: 2}
	assert.Equal(t, time.Second, throttled.delay(ErrRateLimit), "rate limits wait the longest delay")
}

func TestWithDefaults(t *testing.T) {
	opts := withDefaults(service.RetryOptions{MaxAttempts: 7})
	assert.Equal(t, 7, opts.MaxAttempts)
	assert.Equal(t, DefaultRetryOptions.InitialDelay, opts.InitialDelay)
	assert.Equal(t, DefaultRetryOptions.MaxDelay, opts.MaxDelay)
	assert.InDelta(t, DefaultRetryOptions.Multiplier, opts.Multiplier, 1e-9)
}
