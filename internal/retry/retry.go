package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is wrapped by Do when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Config holds retry configuration
type Config struct {
	MaxRetries     int           // Retries after the first attempt; total attempts = MaxRetries+1
	InitialBackoff time.Duration // Pause before the first retry, zero retries immediately
	MaxBackoff     time.Duration // Upper bound for the pause
	Multiplier     float64       // Backoff multiplier, 1 keeps the pause fixed

	// OnRetry is called after a failed attempt that will be retried.
	// attempt counts from 1.
	OnRetry func(attempt int, err error)
}

// DefaultConfig is the connection policy of a session: 15 retries with no
// pause, each attempt being paced by its own dial timeout.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     15,
		InitialBackoff: 0,
		MaxBackoff:     0,
		Multiplier:     1.0,
	}
}

// Do runs fn until it succeeds or MaxRetries+1 attempts have failed.
// It returns the number of attempts made.
func Do(ctx context.Context, config Config, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxRetries+1; attempt++ {
		select {
		case <-ctx.Done():
			return attempt - 1, fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		// Don't sleep after last attempt
		if attempt == config.MaxRetries+1 {
			break
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		if backoff > 0 {
			select {
			case <-ctx.Done():
				return attempt, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(backoff):
			}

			if config.Multiplier > 0 {
				backoff = time.Duration(float64(backoff) * config.Multiplier)
			}
			if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	return config.MaxRetries + 1, fmt.Errorf("%w after %d retries: %w", ErrExhausted, config.MaxRetries, lastErr)
}
