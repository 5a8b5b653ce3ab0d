// Package reliability provides the shared resilience policy for upstream
// calls and scheduled protection of the ledger (backups). The retry policy is
// injected into each exchange client instead of being reimplemented per
// integration.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrorKind classifies an upstream API failure. Only rate limits and
// transient transport errors are worth retrying; authentication and
// geo-restriction failures will not heal on their own and abort the
// exchange's sync immediately.
type ErrorKind string

const (
	KindRateLimit     ErrorKind = "rate_limit"
	KindAuth          ErrorKind = "auth"
	KindGeoRestricted ErrorKind = "geo_restricted"
	KindTransient     ErrorKind = "transient"
	KindFatal         ErrorKind = "fatal"
)

// UpstreamError wraps an exchange or FX API failure with its classification
type UpstreamError struct {
	Exchange   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream error (%s, status %d): %v", e.Exchange, e.Kind, e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth another attempt
func (e *UpstreamError) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindTransient
}

// KindFromStatus classifies an HTTP status code
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == 429 || status == 418:
		return KindRateLimit
	case status == 401 || status == 403:
		return KindAuth
	case status == 451:
		return KindGeoRestricted
	case status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

// RetryPolicy retries an operation with exponential backoff: base delay
// doubling per attempt, a bounded number of attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	log         zerolog.Logger
}

// NewRetryPolicy creates the standard policy: 3 attempts, 1s base delay
func NewRetryPolicy(log zerolog.Logger) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		log:         log.With().Str("component", "retry").Logger(),
	}
}

// Do runs op, retrying retryable upstream failures. Non-retryable failures
// and unclassified errors return immediately.
func (p *RetryPolicy) Do(ctx context.Context, name string, op func() error) error {
	delay := p.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		var upstream *UpstreamError
		if !errors.As(lastErr, &upstream) || !upstream.Retryable() {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		p.log.Warn().
			Err(lastErr).
			Str("op", name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Retryable upstream failure, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, p.MaxAttempts, lastErr)
}
