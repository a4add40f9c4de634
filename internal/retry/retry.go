// Package retry decides whether a classified failure is worth another attempt
// and how long to wait before it. It performs no I/O.
//
// Exponential backs the transport-level retries inside the fetch client.
// Linear backs the top-level reload loop that re-runs a whole batch load.
package retry

import (
	"time"

	"github.com/kjstillabower/weather-aggregator/internal/apperror"
)

const (
	// DefaultMaxRetries bounds total attempts regardless of classification.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the first backoff delay.
	DefaultBaseDelay = time.Second
)

// Policy bundles the retry cap and base delay.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultPolicy returns the policy used when config leaves retry settings unset.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// Normalize fills zero or negative fields with defaults.
func (p Policy) Normalize() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Attempts clamps a requested retry budget to [0, MaxRetries].
func (p Policy) Attempts(requested int) int {
	max := p.Normalize().MaxRetries
	if requested < 0 {
		return 0
	}
	if requested > max {
		return max
	}
	return requested
}

// IsRetryable reports whether err may succeed on a later attempt.
// Network failures and Backend 5xx are retryable. Client errors are not: the
// request itself is wrong. Cache, Validation and unclassified errors are not.
func IsRetryable(err error) bool {
	e, ok := apperror.As(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case apperror.KindNetwork:
		return true
	case apperror.KindBackend:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// Exponential returns base * 2^attempt. attempt 0 yields base.
func Exponential(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base << uint(attempt)
}

// Linear returns base * attempt. The reload loop counts attempts from 1.
func Linear(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base * time.Duration(attempt)
}
