// Package errors defines the sentinel errors shared by the index, doc
// metadata and scoring layers, plus the AppError wrapper used by the serving
// shell to map failures onto HTTP status codes.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMetadataLoad marks malformed or missing index/doc metadata. It is
	// fatal at startup.
	ErrMetadataLoad = errors.New("metadata load failed")
	// ErrShardNotFound is returned for reads against an unknown shard.
	ErrShardNotFound = errors.New("shard not found")
	// ErrShardRange is returned when a read exceeds the shard's size.
	ErrShardRange = errors.New("shard range out of bounds")
	// ErrUnknownDocument is returned when a doc id has no dense position.
	ErrUnknownDocument = errors.New("unknown document")
	// ErrQueryTimeout is returned when a query exceeds its deadline under
	// the fail timeout policy.
	ErrQueryTimeout = errors.New("query timed out")
	// ErrEncodingRange is returned by the offline writer when a doc id or
	// term frequency does not fit the configured bit width.
	ErrEncodingRange = errors.New("value exceeds encoding range")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternal      = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IsShardFailure reports whether err came from a shard read rather than
// from the caller's context.
func IsShardFailure(err error) bool {
	return errors.Is(err, ErrShardNotFound) || errors.Is(err, ErrShardRange)
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	return IsShardFailure(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrInvalidInput)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrUnknownDocument):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueryTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrShardNotFound), errors.Is(err, ErrShardRange):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
