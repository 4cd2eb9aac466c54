package domain

import (
	"errors"
	"fmt"
)

// Transient error kinds: recoverable by bounded retry inside the gateway.
var (
	ErrObjectStoreUnavailable = errors.New("object store unavailable")
	ErrRegistryConflict       = errors.New("registry write conflict")
)

// ErrAccountNotFound is returned for an id with no accounts row.
var ErrAccountNotFound = errors.New("account not found")

// InsufficientBalanceError is terminal and user-visible. Balance is read
// fresh at failure time so the client can render an accurate figure.
type InsufficientBalanceError struct {
	AccountID string
	Attempted int64
	Balance   int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: attempted to debit %d, balance is %d", e.Attempted, e.Balance)
}

// InsufficientStorageError is terminal and user-visible.
type InsufficientStorageError struct {
	AccountID string
	Requested int64
	Used      int64
	Quota     int64
}

func (e *InsufficientStorageError) Error() string {
	return fmt.Sprintf("insufficient storage: %d bytes requested, %d of %d used", e.Requested, e.Used, e.Quota)
}

// OrphanCompensationError records a failed best-effort blob deletion after
// a committed failure. It never reaches the user; the reconciler sweeps the
// orphan later.
type OrphanCompensationError struct {
	ObjectPath string
	Cause      error
}

func (e *OrphanCompensationError) Error() string {
	return fmt.Sprintf("failed to compensate orphan object %s: %v", e.ObjectPath, e.Cause)
}

func (e *OrphanCompensationError) Unwrap() error { return e.Cause }
