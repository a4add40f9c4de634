// Package apperror classifies failures into the kinds the fetch, cache and
// retry layers reason about. A classified error is created where the raw
// failure is observed and is never mutated afterwards.
package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the failure class of an Error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork means no response reached us (dial, TLS, timeout, breaker open).
	KindNetwork
	// KindBackend means the upstream answered with a non-2xx status.
	KindBackend
	// KindCache means the cache medium failed to read, write or decode.
	KindCache
	// KindValidation means input or payload data was malformed.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindBackend:
		return "backend"
	case KindCache:
		return "cache"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Only the fields relevant to Kind are set:
// StatusCode and Body for Backend, Field for Validation, Cause for the rest.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Body       []byte
	Field      string
	Cause      error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindValidation && e.Field != "":
		return fmt.Sprintf("%s: %s (field %s)", e.Kind, e.Message, e.Field)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// DecodeBody unmarshals the upstream response body of a Backend error into v.
func (e *Error) DecodeBody(v any) error {
	if len(e.Body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(e.Body, v)
}

// Network returns a KindNetwork error for a request that got no response.
func Network(message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Cause: cause}
}

// Backend returns a KindBackend error carrying the status code and raw body.
func Backend(statusCode int, body []byte) *Error {
	return &Error{
		Kind:       KindBackend,
		Message:    fmt.Sprintf("HTTP error! status: %d", statusCode),
		StatusCode: statusCode,
		Body:       body,
	}
}

// Cache returns a KindCache error wrapping the storage failure.
func Cache(message string, cause error) *Error {
	return &Error{Kind: KindCache, Message: message, Cause: cause}
}

// Validation returns a KindValidation error naming the offending field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

// InvalidField returns a KindValidation error for field that wraps cause,
// typically a sentinel the caller checks with errors.Is.
func InvalidField(field string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: cause.Error(), Field: field, Cause: cause}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain holds a classified error of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// StatusCode returns the upstream status of a Backend error, or 0.
func StatusCode(err error) int {
	if e, ok := As(err); ok && e.Kind == KindBackend {
		return e.StatusCode
	}
	return 0
}

// UserMessage translates err into the message shown to end users.
func UserMessage(err error) string {
	e, ok := As(err)
	if !ok {
		return "An unexpected error occurred. Please try again later."
	}
	switch e.Kind {
	case KindNetwork:
		return "No internet connection. Please check your connection and try again."
	case KindBackend:
		return fmt.Sprintf("Server error (%d). Please try again later.", e.StatusCode)
	case KindCache:
		return "Error accessing cached data. Please try again."
	case KindValidation:
		return "Invalid data: " + e.Message
	default:
		return "An unexpected error occurred. Please try again later."
	}
}
