package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

const (
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	defaultJitterFactor   = 0.3

	metricRetries           = "pricingexport_retries_total"
	metricRetryDelay        = "pricingexport_retry_delay_seconds"
	metricMaxRetriesReached = "pricingexport_max_retries_reached_total"
	labelOperation          = "operation"
	labelAttempt            = "attempt_number"
	labelErrorType          = "error_type"

	operationOpen  = "open"
	operationFetch = "fetch"
)

var (
	errInvalidMaxAttempts  = errors.New("max attempts must be positive")
	errNegativeBaseDelay   = errors.New("base delay must not be negative")
	errInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
	errNilMetricsCollector = errors.New("metrics collector must not be nil")
	errEmptyRetryOperation = errors.New("retry operation must not be empty")
)

// retryableFunc represents a function that can be retried.
type retryableFunc func(ctx context.Context) error

type retryConfig struct {
	maxAttempts      int
	baseDelay        time.Duration
	jitterFactor     float64
	metricsCollector exportsource.MetricsCollector
	operation        string
}

// retryWithExponentialBackoff runs fn until it succeeds, fails with an error that is not retryable,
// or maxAttempts is reached. Between attempts it waits baseDelay * 2^(attempt-1) plus jitter.
//
// Retrying a page fetch is safe because a failed FetchNextPage leaves the cursor unchanged.
func retryWithExponentialBackoff(ctx context.Context, fn retryableFunc, options ...retryOption) error {
	config := &retryConfig{
		maxAttempts:  defaultRetryAttempts,
		baseDelay:    defaultRetryBaseDelay,
		jitterFactor: defaultJitterFactor,
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return err
		}
	}

	var lastErr error

	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := config.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec // math/rand is sufficient for jitter
			backoffDelay := delay + time.Duration(jitter)

			config.recordDuration(ctx, metricRetryDelay, backoffDelay, map[string]string{
				labelOperation: config.operation,
				labelAttempt:   fmt.Sprintf("%d", attempt),
			})

			timer := time.NewTimer(backoffDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !isRetryableError(lastErr) {
			return lastErr
		}

		if attempt < config.maxAttempts-1 {
			config.incrementCounter(ctx, metricRetries, map[string]string{
				labelOperation: config.operation,
				labelAttempt:   fmt.Sprintf("%d", attempt+1),
				labelErrorType: getErrorType(lastErr),
			})
		}
	}

	config.incrementCounter(ctx, metricMaxRetriesReached, map[string]string{
		labelOperation: config.operation,
		labelErrorType: getErrorType(lastErr),
	})

	return lastErr
}

// isRetryableError reports whether err is a failed database round trip.
// Cancellations and deadlines fail fast, as do errors in building queries or decoding rows.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return errors.Is(err, exportsource.ErrQueryingFailed)
}

func getErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "context_deadline_exceeded"
	case errors.Is(err, exportsource.ErrQueryingFailed):
		return "database_query"
	default:
		return "other"
	}
}

func (c *retryConfig) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := c.metricsCollector.(exportsource.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metric, d, labels)
	} else {
		c.metricsCollector.RecordDuration(metric, d, labels)
	}
}

func (c *retryConfig) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := c.metricsCollector.(exportsource.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metric, labels)
	} else {
		c.metricsCollector.IncrementCounter(metric, labels)
	}
}

// retryOption configures retry behavior using the functional options pattern.
type retryOption func(*retryConfig) error

func withMaxAttempts(attempts int) retryOption {
	return func(config *retryConfig) error {
		if attempts <= 0 {
			return errInvalidMaxAttempts
		}

		config.maxAttempts = attempts

		return nil
	}
}

// withBaseDelay sets the first backoff delay; later ones double.
func withBaseDelay(delay time.Duration) retryOption {
	return func(config *retryConfig) error {
		if delay < 0 {
			return errNegativeBaseDelay
		}

		config.baseDelay = delay

		return nil
	}
}

// withJitterFactor adds up to factor * delay of random jitter. Valid range: 0.0 to 1.0.
func withJitterFactor(factor float64) retryOption {
	return func(config *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return errInvalidJitterFactor
		}

		config.jitterFactor = factor

		return nil
	}
}

// withRetryMetrics sets the metrics collector; operation labels the recorded metrics.
func withRetryMetrics(collector exportsource.MetricsCollector, operation string) retryOption {
	return func(config *retryConfig) error {
		if collector == nil {
			return errNilMetricsCollector
		}

		if operation == "" {
			return errEmptyRetryOperation
		}

		config.metricsCollector = collector
		config.operation = operation

		return nil
	}
}
