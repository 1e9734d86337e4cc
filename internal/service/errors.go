package service

import (
	"context"
	"errors"
	"fmt"

	"tokosamanda/backend/internal/store"
)

// Sentinels for errors.Is against the typed errors below.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflicting concurrent update")
	ErrNotFound          = errors.New("not found")
	ErrStore             = errors.New("store failure")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
	Shortfall int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d, short by %d",
		e.ProductID, e.Requested, e.Available, e.Shortfall)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ConflictError means the unit of work lost against a concurrent writer or
// waited too long for a lock. Nothing was applied; the caller may retry.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: conflicting concurrent update, retry: %v", e.Op, e.Err)
}

func (e *ConflictError) Unwrap() error         { return e.Err }
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StoreError wraps a persistence failure. The unit of work it came from has
// been rolled back.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: store failure: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error         { return e.Err }
func (e *StoreError) Is(target error) bool { return target == ErrStore }

// classify maps anything leaving a unit of work onto one of the typed errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		validationErr *ValidationError
		stockErr      *InsufficientStockError
		conflictErr   *ConflictError
		notFoundErr   *NotFoundError
		storeErr      *StoreError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &stockErr), errors.As(err, &conflictErr),
		errors.As(err, &notFoundErr), errors.As(err, &storeErr):
		return err
	case errors.Is(err, store.ErrConflict), errors.Is(err, context.DeadlineExceeded):
		return &ConflictError{Op: op, Err: err}
	case errors.Is(err, store.ErrInvalidReference):
		return &ValidationError{Message: err.Error()}
	default:
		return &StoreError{Op: op, Err: err}
	}
}
