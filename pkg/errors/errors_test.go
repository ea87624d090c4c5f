package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("decode: %w", ErrInvalidInput), http.StatusBadRequest},
		{"both signals", fmt.Errorf("retrieve: %w", ErrBothSignalsUnavailable), http.StatusServiceUnavailable},
		{"timeout", ErrTimeout, http.StatusServiceUnavailable},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"snapshot missing", ErrSnapshotNotFound, http.StatusNotFound},
		{"app error wins", New(ErrInternal, http.StatusTeapot, "short and stout"), http.StatusTeapot},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrInvalidInput, http.StatusBadRequest, "field %q missing", "query")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, `invalid input: field "query" missing`, err.Error())
}

func TestDimensionMismatch(t *testing.T) {
	err := DimensionMismatch(768, 384)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "768")
	assert.Contains(t, err.Error(), "384")
}

func TestHTTPStatusCodeWrappedAppError(t *testing.T) {
	inner := New(ErrInternal, http.StatusServiceUnavailable, "chunk store down")
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusCode(fmt.Errorf("retrieve: %w", inner)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(DimensionMismatch(3, 4)))
}
