package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

// ErrRetryExhausted is returned when every upstream attempt failed.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// ErrorClass classifies a failed upstream attempt.
type ErrorClass string

const (
	// ErrorClassNetwork covers transport failures without a response.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassServer covers 5xx responses.
	ErrorClassServer ErrorClass = "server"
)

// RetryConfig holds the configuration for upstream retries.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the first one.
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration: one attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       1,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// idempotentMethods may be sent again after a failed attempt.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// classify returns the error class of an attempt, or "" on success and for
// client errors, which are never retried.
func classify(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}
	if resp.StatusCode >= 500 {
		return ErrorClassServer
	}
	return ""
}

// retryWithBackoff runs attempt until it succeeds, the method is not
// idempotent or cfg.MaxAttempts is reached. A final 5xx response is returned
// as is so that the Collector can reject it.
func (p *Pipeline) retryWithBackoff(ctx context.Context, method string, attempt func() (*http.Response, []byte, error)) (*http.Response, []byte, error) {
	cfg := p.retry
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	cacheID := p.CacheID()
	backoff := cfg.InitialBackoff

	var (
		resp  *http.Response
		body  []byte
		err   error
		class ErrorClass
	)
	for n := 1; n <= cfg.MaxAttempts; n++ {
		resp, body, err = attempt()
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, nil, err
		}
		class = classify(resp, err)
		if class == "" {
			if n > 1 {
				p.logger.Info().Int("attempt", n).Msg("Upstream request succeeded after retry")
			}
			return resp, body, nil
		}
		if !idempotentMethods[method] || n >= cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		UpstreamRetries.WithLabelValues(cacheID, string(class)).Inc()

		// ±20% jitter
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		UpstreamRetryBackoff.WithLabelValues(cacheID, string(class)).Observe(jitter.Seconds())

		p.logger.Debug().
			Str("error_class", string(class)).
			Int("attempt", n).
			Dur("backoff", jitter).
			Msg("Retrying upstream request after backoff")

		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("upstream retry: %w", ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	if cfg.MaxAttempts > 1 && idempotentMethods[method] {
		UpstreamRetryExhausted.WithLabelValues(cacheID, string(class)).Inc()
	}
	if err != nil {
		if cfg.MaxAttempts > 1 && idempotentMethods[method] {
			return nil, nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, cfg.MaxAttempts, err)
		}
		return nil, nil, err
	}
	return resp, body, nil
}
