package federation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// DelayPolicy returns the wait before retry number attempt (1-based).
type DelayPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedDelay waits the same duration before every retry.
type FixedDelay time.Duration

func (d FixedDelay) Delay(int) time.Duration {
	return time.Duration(d)
}

// ExponentialBackoff waits Initial * Multiplier^(attempt-1), capped at Max.
// Jitter spreads each delay by up to ±25%.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	delay := float64(b.Initial) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter {
		delay += (rand.Float64()*2 - 1) * delay * 0.25
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryPolicy bounds how often a failing repository call is repeated.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	Delay DelayPolicy

	// Retryable decides whether err warrants another attempt. Nil means IsRetryable.
	Retryable func(err error) bool

	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy retries repository unavailability three times in total,
// one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       FixedDelay(time.Second),
		Retryable:   IsRetryable,
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy's attempts are used up. Waits honour ctx.
func Retry[T any](ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			var delay time.Duration
			if policy.Delay != nil {
				delay = policy.Delay.Delay(attempt - 1)
			}
			logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr, delay)
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
				case <-timer.C:
				}
			}
		}

		v, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("retry succeeded", zap.Int("attempt", attempt))
			}
			return v, nil
		}
		lastErr = err
		if !retryable(err) {
			return zero, err
		}
	}

	if attempts == 1 {
		return zero, lastErr
	}
	logger.Warn("retry attempts exhausted", zap.Int("attempts", attempts), zap.Error(lastErr))
	return zero, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// RetryingHandle applies a RetryPolicy to every Identify and Invoke of the
// wrapped handle.
type RetryingHandle struct {
	inner  Handle
	policy RetryPolicy
	logger *zap.Logger
}

func NewRetryingHandle(h Handle, policy RetryPolicy, logger *zap.Logger) *RetryingHandle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingHandle{inner: h, policy: policy, logger: logger.With(zap.String("component", "retry"))}
}

func (h *RetryingHandle) Identify(ctx context.Context, callerID string) (RepositoryID, error) {
	return Retry(ctx, h.policy, h.logger, func(ctx context.Context) (RepositoryID, error) {
		return h.inner.Identify(ctx, callerID)
	})
}

func (h *RetryingHandle) Invoke(ctx context.Context, req Request) (Response, error) {
	return Retry(ctx, h.policy, h.logger, func(ctx context.Context) (Response, error) {
		return h.inner.Invoke(ctx, req)
	})
}

// HandleKey forwards the wrapped handle's key so identity caching still applies.
func (h *RetryingHandle) HandleKey() string {
	if k, ok := h.inner.(Keyed); ok {
		return k.HandleKey()
	}
	return ""
}

// Unwrap returns the wrapped handle.
func (h *RetryingHandle) Unwrap() Handle {
	return h.inner
}
