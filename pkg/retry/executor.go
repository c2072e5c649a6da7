package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/creatorscout/searchjobs/pkg/errors"
)

// Strategy defines retry strategy interface
type Strategy interface {
	NextDelay(attempt int) time.Duration
	ShouldRetry(attempt int, err error) bool
}

// Config defines retry configuration
type Config struct {
	MaxAttempts int
	Strategy    Strategy
	Jitter      float64
	OnRetry     func(attempt int, err error)
}

// ExponentialBackoff implements exponential backoff strategy
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextDelay calculates next delay for exponential backoff
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialDelay) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxDelay) {
		return e.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry determines if retry should continue
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) bool {
	return retryable(err)
}

// RampBackoff grows the delay by Step per attempt until CapAttempts,
// then holds it flat: Base + Step*min(attempt, CapAttempts).
type RampBackoff struct {
	Base        time.Duration
	Step        time.Duration
	CapAttempts int
}

// NextDelay returns the ramped delay for the given attempt
func (r *RampBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if r.CapAttempts > 0 && attempt > r.CapAttempts {
		attempt = r.CapAttempts
	}
	return r.Base + time.Duration(attempt)*r.Step
}

// ShouldRetry determines if retry should continue
func (r *RampBackoff) ShouldRetry(attempt int, err error) bool {
	return retryable(err)
}

// retryable treats coded errors according to the taxonomy and
// everything else as transient.
func retryable(err error) bool {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}

// ExecuteWithRetry executes operation with retry logic
func ExecuteWithRetry[T any](
	ctx context.Context,
	operation func() (T, error),
	config Config,
) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		res, err := operation()
		if err == nil {
			return res, nil
		}
		result = res
		lastErr = err

		if attempt == config.MaxAttempts-1 || !config.Strategy.ShouldRetry(attempt, err) {
			break
		}

		delay := config.Strategy.NextDelay(attempt)
		if config.Jitter > 0 {
			delay = applyJitter(delay, config.Jitter)
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result, fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}

	return result, fmt.Errorf("gave up after %d attempts: %w", config.MaxAttempts, lastErr)
}

// applyJitter adds random jitter to delay
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	jitter := float64(delay) * jitterFactor
	randomJitter := (rand.Float64() - 0.5) * 2 * jitter
	finalDelay := float64(delay) + randomJitter

	if finalDelay < 0 {
		return 0
	}

	return time.Duration(finalDelay)
}

// Publish is the configuration used for queue publishes.
var Publish = Config{
	MaxAttempts: 3,
	Strategy: &ExponentialBackoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
	},
	Jitter: 0.2,
}
