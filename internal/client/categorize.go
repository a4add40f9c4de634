package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/kjstillabower/weather-aggregator/internal/apperror"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey ErrorCategory = "invalid_api_key"
	ErrorCategoryNotFound      ErrorCategory = "not_found"
	ErrorCategoryRateLimited   ErrorCategory = "rate_limited"
	ErrorCategoryClientError   ErrorCategory = "client_error"
	ErrorCategoryUpstream5xx   ErrorCategory = "upstream_5xx"
	ErrorCategoryValidation    ErrorCategory = "validation"
	ErrorCategoryCache         ErrorCategory = "cache"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, ErrInvalidAPIKey) {
		return ErrorCategoryInvalidAPIKey
	}

	e, ok := apperror.As(err)
	if !ok {
		return ErrorCategoryUnknown
	}
	switch e.Kind {
	case apperror.KindNetwork:
		return ErrorCategoryNetwork
	case apperror.KindBackend:
		switch {
		case e.StatusCode == http.StatusUnauthorized:
			return ErrorCategoryInvalidAPIKey
		case e.StatusCode == http.StatusNotFound:
			return ErrorCategoryNotFound
		case e.StatusCode == http.StatusTooManyRequests:
			return ErrorCategoryRateLimited
		case e.StatusCode >= 500:
			return ErrorCategoryUpstream5xx
		default:
			return ErrorCategoryClientError
		}
	case apperror.KindValidation:
		return ErrorCategoryValidation
	case apperror.KindCache:
		return ErrorCategoryCache
	}
	return ErrorCategoryUnknown
}
