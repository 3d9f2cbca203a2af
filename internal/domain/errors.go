package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error that crosses a package boundary wraps one of these.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrUpstream   = errors.New("upstream provider error")
	ErrInternal   = errors.New("internal error")
)

var (
	ErrOrderNotFound     = fmt.Errorf("order %w", ErrNotFound)
	ErrPaymentNotFound   = fmt.Errorf("payment %w", ErrNotFound)
	ErrReceiptNotFound   = fmt.Errorf("receipt %w", ErrNotFound)
	ErrEmptyCart         = fmt.Errorf("%w: cart is empty, nothing to checkout", ErrValidation)
	ErrInvalidPhone      = fmt.Errorf("%w: phone number is not a valid M-Pesa number", ErrValidation)
	ErrPayerNameRequired = fmt.Errorf("%w: payer name is required for M-Pesa payments", ErrValidation)
	ErrMalformedCallback = fmt.Errorf("%w: malformed callback envelope", ErrValidation)
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrConflict)
	ErrAlreadyPaid       = fmt.Errorf("%w: payment already completed", ErrConflict)

	ErrIllegalTransition      = fmt.Errorf("%w: illegal payment status transition", ErrInternal)
	ErrReceiptNumberExhausted = fmt.Errorf("%w: could not allocate a unique receipt number", ErrInternal)
)

// Validationf builds a VALIDATION error with a custom message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Storage-level uniqueness outcomes for receipts.
var (
	ErrReceiptNumberTaken = fmt.Errorf("%w: receipt number already taken", ErrConflict)
	ErrReceiptExists      = fmt.Errorf("%w: receipt already issued for payment", ErrConflict)
)
