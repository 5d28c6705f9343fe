package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrProductNotFound         = errors.New("product not found")
	ErrProductInactive         = errors.New("product inactive")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidReservation      = errors.New("invalid reservation")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOrderNotFound           = errors.New("order not found")
	ErrConcurrencyConflict     = errors.New("concurrency conflict")

	// ErrAlreadyExists reports a second order under the same external id.
	ErrAlreadyExists = errors.New("order already exists")
)

func InvalidRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// StockError names the first product that could not cover its request.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Unwrap reports the transition sentinel. Cancelling a cancelled order also
// matches ErrInvalidReservation: its stock was already given back.
func (e *TransitionError) Unwrap() []error {
	if e.From == StatusCancelled && e.To == StatusCancelled {
		return []error{ErrInvalidStatusTransition, ErrInvalidReservation}
	}
	return []error{ErrInvalidStatusTransition}
}

// ProductNotFound wraps ErrProductNotFound with the missing id.
func ProductNotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrProductNotFound, id)
}

func ProductInactive(id, name string) error {
	return fmt.Errorf("%w: %s (%s) is not available", ErrProductInactive, id, name)
}

func OrderNotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
}
