package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/tally/internal/service"
)

var (
	// ErrRateLimit marks a throttled call. Retries after it wait the longest delay.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries is wrapped around the last error once attempts run out.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError tags an error from an external call with whether another
// attempt could succeed.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// DefaultRetryOptions fills the zero fields of RetryOptions.
var DefaultRetryOptions = service.RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     30 * time.Second,
	Multiplier:   2.0,
}

func withDefaults(opts service.RetryOptions) service.RetryOptions {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultRetryOptions.MaxAttempts
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultRetryOptions.InitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultRetryOptions.MaxDelay
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = DefaultRetryOptions.Multiplier
	}
	return opts
}

// backoff hands out the wait before each retry, growing geometrically up to max.
type backoff struct {
	next time.Duration
	max  time.Duration
	mult float64
}

func (b *backoff) delay(err error) time.Duration {
	d := b.next
	if errors.Is(err, ErrRateLimit) {
		d = b.max
	}
	b.next = min(time.Duration(float64(b.next)*b.mult), b.max)
	return d
}

// permanent reports errors explicitly marked as not worth another attempt.
func permanent(err error) bool {
	var re *RetryableError
	return errors.As(err, &re) && !re.Retryable
}

// WithRetry calls operation until it succeeds, returns a permanent error, or
// uses up opts.MaxAttempts. Cancelling ctx stops the wait between attempts;
// the returned error then matches both the context error and the last failure.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	opts = withDefaults(opts)
	b := backoff{next: opts.InitialDelay, max: opts.MaxDelay, mult: opts.Multiplier}

	for attempt := 1; ; attempt++ {
		err := operation()
		switch {
		case err == nil:
			return nil
		case permanent(err):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		case attempt >= opts.MaxAttempts:
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, attempt, err)
		}

		wait := b.delay(err)
		slog.Warn("Retrying after failure",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		case <-timer.C:
		}
	}
}
