package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/boltlink/api/internal/repositories"
)

// Shared service sentinels.
var (
	ErrInvalidInput       = errors.New("services: invalid input")
	ErrQuoteNotFound      = errors.New("services: quote not found")
	ErrOrderNotFound      = errors.New("services: order not found")
	ErrStorageUnavailable = errors.New("services: storage unavailable")
	ErrStorageConflict    = errors.New("services: storage conflict")
)

// Order creation failure sub-codes, stable across the webhook API.
const (
	OrderCreateErrGeneral         = 2001001
	OrderCreateErrOrderExists     = 2001002
	OrderCreateErrCartExpired     = 2001003
	OrderCreateErrItemPriceChange = 2001004
	OrderCreateErrOutOfInventory  = 2001005
	OrderCreateErrDiscountApply   = 2001006
	OrderCreateErrDiscountMissing = 2001007
)

// OrderCreationError is the typed failure returned while materialising an
// order. Code is one of the OrderCreateErr constants; Details carries the
// structured payload echoed back to the platform.
type OrderCreationError struct {
	Code    int
	Reason  string
	Details map[string]any
	cause   error
}

// NewOrderCreationError builds a typed order creation failure.
func NewOrderCreationError(code int, reason string) *OrderCreationError {
	return &OrderCreationError{Code: code, Reason: reason}
}

// WithDetails attaches structured detail fields.
func (e *OrderCreationError) WithDetails(details map[string]any) *OrderCreationError {
	if e == nil {
		return nil
	}
	if len(details) > 0 {
		copied := make(map[string]any, len(details))
		for k, v := range details {
			copied[k] = v
		}
		e.Details = copied
	}
	return e
}

// WithCause records the underlying error for unwrapping.
func (e *OrderCreationError) WithCause(cause error) *OrderCreationError {
	if e == nil {
		return nil
	}
	e.cause = cause
	return e
}

func (e *OrderCreationError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("order creation failed (%d): %s: %v", e.Code, e.Reason, e.cause)
	}
	return fmt.Sprintf("order creation failed (%d): %s", e.Code, e.Reason)
}

// Unwrap exposes the underlying cause.
func (e *OrderCreationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Discount hook failure codes, stable across the discount API.
const (
	CouponErrService           = 6001
	CouponErrInsufficientInfo  = 6200
	CouponErrInvalidCode       = 6201
	CouponErrExpired           = 6202
	CouponErrNotAvailable      = 6203
	CouponErrLimitReached      = 6204
	CouponErrMinimumCartAmount = 6205
	CouponErrUniqueEmailOnly   = 6206
	CouponErrItemsNotEligible  = 6207
)

// CouponError is the typed failure for discount code application. Totals,
// when present, snapshot the unmodified cart so the platform can keep its
// display consistent.
type CouponError struct {
	Code    int
	Message string
	Totals  *DiscountTotalsSnapshot
	cause   error
}

// NewCouponError builds a typed discount failure.
func NewCouponError(code int, message string) *CouponError {
	return &CouponError{Code: code, Message: message}
}

// WithTotals snapshots the cart totals on the error.
func (e *CouponError) WithTotals(totals DiscountTotalsSnapshot) *CouponError {
	if e == nil {
		return nil
	}
	e.Totals = &totals
	return e
}

// WithCause records the underlying error for unwrapping.
func (e *CouponError) WithCause(cause error) *CouponError {
	if e == nil {
		return nil
	}
	e.cause = cause
	return e
}

func (e *CouponError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("discount rejected (%d): %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("discount rejected (%d): %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *CouponError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// mapRepositoryError translates categorised persistence failures into
// service-level sentinels.
func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			if notFound != nil {
				return fmt.Errorf("%w: %v", notFound, err)
			}
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrStorageConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return err
}

// isNotFound reports whether err is a categorised missing-document failure.
func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// isConflict reports whether err is a categorised conflicting-write failure.
func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
