// Package errors holds the retrieval error vocabulary. Components wrap one
// of the sentinels with %w, and transports turn the chain into a status
// code with HTTPStatusCode.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Request and transport failures.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("operation timed out")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// Retrieval pipeline failures. Only ErrBothSignalsUnavailable and
// ErrSnapshotNotFound normally reach a client; the others are absorbed as
// degradation.
var (
	ErrEmbeddingUnavailable    = errors.New("embedding unavailable")
	ErrLexicalIndexUnavailable = errors.New("lexical index unavailable")
	ErrBothSignalsUnavailable  = errors.New("both retrieval signals unavailable")
	ErrDimensionMismatch       = errors.New("embedding dimension mismatch")
	ErrRerankTimeout           = errors.New("rerank timed out")
	ErrRerankMalformedResponse = errors.New("rerank response malformed")
	ErrNoResults               = errors.New("no results")
	ErrSnapshotNotFound        = errors.New("corpus snapshot not found")
)

// statusTable is checked in order; the first sentinel found in the chain
// decides the code.
var statusTable = []struct {
	sentinel error
	code     int
}{
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrDimensionMismatch, http.StatusBadRequest},
	{ErrSnapshotNotFound, http.StatusNotFound},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrBothSignalsUnavailable, http.StatusServiceUnavailable},
	{ErrTimeout, http.StatusServiceUnavailable},
}

// AppError pins an explicit status onto a sentinel, for the few places
// where the table's answer is wrong for the context.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string { return e.Err.Error() + ": " + e.Message }

func (e *AppError) Unwrap() error { return e.Err }

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusCode}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return New(sentinel, statusCode, fmt.Sprintf(format, args...))
}

// DimensionMismatch reports a query embedding of length want scored
// against a chunk embedding of length got.
func DimensionMismatch(want, got int) error {
	return fmt.Errorf("%w: query has %d dimensions, chunk has %d", ErrDimensionMismatch, want, got)
}

// HTTPStatusCode maps err to a status. An AppError anywhere in the chain
// wins; unknown errors are 500.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	for _, row := range statusTable {
		if errors.Is(err, row.sentinel) {
			return row.code
		}
	}
	return http.StatusInternalServerError
}
