package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidTransition       = errors.New("invalid order transition")
	ErrOrderNotCancellable     = errors.New("order not cancellable")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrLockAcquisition         = errors.New("lock acquisition failed")
	ErrProductNotFound         = errors.New("product not found")
	ErrValidation              = errors.New("validation failed")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrNegativeStock           = errors.New("stock would go negative")
)

type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type NotCancellableError struct {
	Status Status
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("order cannot be cancelled in status %s", e.Status)
}

func (e *NotCancellableError) Is(target error) bool { return target == ErrOrderNotCancellable }

type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d. requested: %d, available: %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product not found: %d", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

// LockAcquisitionError is retryable: the caller should try again later.
type LockAcquisitionError struct {
	ProductIDs []int64
}

func (e *LockAcquisitionError) Error() string {
	ids := make([]string, len(e.ProductIDs))
	for i, id := range e.ProductIDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("could not acquire lock for products: [%s]", strings.Join(ids, ", "))
}

func (e *LockAcquisitionError) Is(target error) bool { return target == ErrLockAcquisition }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
