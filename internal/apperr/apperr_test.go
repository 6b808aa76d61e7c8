package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := InsufficientStock(42, 3)
	wrapped := fmt.Errorf("checkout: %w", base)

	assert.Equal(t, KindInsufficientStock, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindInsufficientStock))

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, int64(42), e.Details["product_id"])
	assert.Equal(t, 3, e.Details["available"])
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause, "load order")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:              http.StatusBadRequest,
		KindInsufficientStock:       http.StatusBadRequest,
		KindInvalidCoupon:           http.StatusBadRequest,
		KindCouponMinimumNotMet:     http.StatusBadRequest,
		KindUnauthenticated:         http.StatusUnauthorized,
		KindPermissionDenied:        http.StatusForbidden,
		KindNotFound:                http.StatusNotFound,
		KindConflict:                http.StatusConflict,
		KindInvalidStatusTransition: http.StatusConflict,
		KindInternal:                http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), string(kind))
	}
}
