package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable error category returned to clients.
type Kind string

const (
	KindValidation              Kind = "validation"
	KindNotFound                Kind = "not_found"
	KindConflict                Kind = "conflict"
	KindInsufficientStock       Kind = "insufficient_stock"
	KindPermissionDenied        Kind = "permission_denied"
	KindInvalidCoupon           Kind = "invalid_coupon"
	KindCouponMinimumNotMet     Kind = "coupon_minimum_not_met"
	KindInvalidStatusTransition Kind = "invalid_status_transition"
	KindUnauthenticated         Kind = "unauthenticated"
	KindInternal                Kind = "internal"
)

// Error is a domain error carrying a kind, a client-safe message and optional details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an error of the given kind with an underlying cause.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithDetail attaches a detail field and returns the same error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func Validation(msg string) *Error {
	return New(KindValidation, msg)
}

func NotFound(msg string) *Error {
	return New(KindNotFound, msg)
}

func Conflict(msg string) *Error {
	return New(KindConflict, msg)
}

func Unauthenticated(msg string) *Error {
	return New(KindUnauthenticated, msg)
}

func PermissionDenied(msg string) *Error {
	return New(KindPermissionDenied, msg)
}

func InvalidCoupon(msg string) *Error {
	return New(KindInvalidCoupon, msg)
}

func CouponMinimumNotMet(minimum string) *Error {
	return New(KindCouponMinimumNotMet, "order subtotal is below the coupon minimum").
		WithDetail("min_order_amount", minimum)
}

// InsufficientStock reports how many units of the product are still available.
func InsufficientStock(productID int64, available int) *Error {
	return New(KindInsufficientStock, fmt.Sprintf("insufficient stock for product %d", productID)).
		WithDetail("product_id", productID).
		WithDetail("available", available)
}

func InvalidStatusTransition(from, to string) *Error {
	return New(KindInvalidStatusTransition, fmt.Sprintf("cannot move order from %s to %s", from, to)).
		WithDetail("from", from).
		WithDetail("to", to)
}

func Internal(err error, msg string) *Error {
	return Wrap(KindInternal, err, msg)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps an error kind to a response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindInsufficientStock, KindInvalidCoupon, KindCouponMinimumNotMet:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalidStatusTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
