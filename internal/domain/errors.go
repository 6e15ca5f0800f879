package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidOperation marks arithmetic that is undefined, such as mixing currencies.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrGuardFailed marks a transition refused because a named precondition did not hold.
	ErrGuardFailed = errors.New("guard failed")
	// ErrInvalidTransition marks an event that is not defined for the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConcurrentModification marks a write that lost an optimistic concurrency race.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrInvariantViolation marks a write that would break an aggregate invariant.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrAlreadyCaptured marks a payment capture on an order that is already paid.
	ErrAlreadyCaptured = errors.New("payment already captured")
	// ErrNotFound marks a missing aggregate or entity.
	ErrNotFound = errors.New("not found")
)

// Guard names a transition precondition.
type Guard string

const (
	// GuardAllItemsMapped requires every fulfillable item to have complete, image-bearing mappings.
	GuardAllItemsMapped Guard = "all_items_have_variant_mappings"
	// GuardEligibleCustomer requires a customer identity for the order's country on platform orders.
	GuardEligibleCustomer Guard = "eligible_customer_for_country"
	// GuardFullyFulfilled requires every fulfillable item to be shipped in full.
	GuardFullyFulfilled Guard = "fully_fulfilled"
)

// GuardFailedError reports which guard refused a transition.
type GuardFailedError struct {
	Event OrderEvent
	Guard Guard
}

// Error implements the error interface.
func (e *GuardFailedError) Error() string {
	if e == nil {
		return ErrGuardFailed.Error()
	}
	return fmt.Sprintf("%s: %s refused by %s", ErrGuardFailed, e.Event, e.Guard)
}

// Is lets errors.Is(err, ErrGuardFailed) match.
func (e *GuardFailedError) Is(target error) bool {
	return target == ErrGuardFailed
}

// FailedGuard extracts the guard name from err when it carries one.
func FailedGuard(err error) (Guard, bool) {
	var guardErr *GuardFailedError
	if errors.As(err, &guardErr) && guardErr != nil {
		return guardErr.Guard, true
	}
	return "", false
}

// ConcurrentModificationError is returned when a transition loses a race for the same order.
// It matches both ErrConcurrentModification and ErrInvalidTransition.
type ConcurrentModificationError struct {
	OrderID         string
	ExpectedVersion int64
	Err             error
}

// Error implements the error interface.
func (e *ConcurrentModificationError) Error() string {
	if e == nil {
		return ErrConcurrentModification.Error()
	}
	msg := fmt.Sprintf("%s: order %s changed since version %d", ErrConcurrentModification, e.OrderID, e.ExpectedVersion)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrConcurrentModification and ErrInvalidTransition.
func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification || target == ErrInvalidTransition
}

// Unwrap exposes the underlying storage error.
func (e *ConcurrentModificationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
