package mcp

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig tunes the read-only retry loop.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first (default: 3).
	MaxRetries int

	// BaseDelay is the initial delay between attempts (default: 200ms).
	BaseDelay time.Duration

	// MaxDelay caps the backoff (default: 5s).
	MaxDelay time.Duration

	// JitterFactor adds randomness to delays (0.0-1.0, default: 0.1).
	JitterFactor float64
}

// DefaultRetryConfig returns the gateway defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.1,
	}
}

// retryablePatterns marks transport-level failures worth another attempt.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"429",
	"500",
	"502",
	"503",
	"504",
	"temporarily unavailable",
}

type retryer struct {
	config RetryConfig
	log    *slog.Logger
}

func newRetryer(cfg RetryConfig, log *slog.Logger) *retryer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = 0.1
	}
	if log == nil {
		log = slog.Default()
	}
	return &retryer{config: cfg, log: log}
}

// do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent.
func (r *retryer) do(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt >= r.config.MaxRetries {
			r.log.Warn("retries exhausted",
				"operation", operation,
				"attempts", attempt+1,
				"error", err)
			return lastErr
		}

		delay := r.calculateDelay(attempt)
		r.log.Debug("retrying operation",
			"operation", operation,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		// Validation and lookup failures are deterministic.
		switch toolErr.Code {
		case "InvalidArguments", "NotFound":
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func (r *retryer) calculateDelay(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * r.config.BaseDelay

	jitter := time.Duration(rand.Float64() * float64(delay) * r.config.JitterFactor)
	if rand.Float64() < 0.5 {
		delay -= jitter
	} else {
		delay += jitter
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	return delay
}
