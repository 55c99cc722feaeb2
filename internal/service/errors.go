package service

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionViolation is returned for bad input: unknown pay method,
	// foreign or deleted address, empty or inconsistent cart selection.
	ErrPreconditionViolation = errors.New("precondition violation")

	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrSettlementFailed hides any unexpected failure during settlement.
	// Details are logged, never returned.
	ErrSettlementFailed = errors.New("settlement failed")

	ErrSignatureInvalid = errors.New("payment signature invalid")
	ErrOrderNotPayable  = errors.New("order not payable")

	// ErrReserveContention means the retry budget for a single item ran out
	ErrReserveContention = errors.New("inventory reservation contention")
)

// InsufficientStockError names the item that could not be reserved
type InsufficientStockError struct {
	SKUID     int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %d: requested %d, available %d", e.SKUID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPreconditionViolation, fmt.Sprintf(format, args...))
}
