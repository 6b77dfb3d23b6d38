// Package errors defines the sentinel errors shared by the corpus loaders,
// the ranking engine and the HTTP layer, plus an AppError carrying an HTTP
// status code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSourceUnavailable means a corpus store could not be reached or the
	// expected table is missing.
	ErrSourceUnavailable = errors.New("corpus source unavailable")
	// ErrSnapshotNotFound means the fallback snapshot file does not exist.
	ErrSnapshotNotFound = errors.New("index snapshot not found")
	// ErrIndexUnavailable is the terminal load failure: every source failed.
	ErrIndexUnavailable = errors.New("index unavailable")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
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

// InvalidArgument builds a 400 AppError around ErrInvalidArgument.
func InvalidArgument(format string, args ...any) *AppError {
	return Newf(ErrInvalidArgument, http.StatusBadRequest, format, args...)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexUnavailable),
		errors.Is(err, ErrSourceUnavailable),
		errors.Is(err, ErrSnapshotNotFound),
		errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
