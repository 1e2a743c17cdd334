// Package services holds the domain services behind the agent actions and
// the shared error taxonomy they report through.
package services

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services. Handlers map these onto HTTP
// status codes; agents wrap them with action context via %w so errors.Is
// still matches.
var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrValidation            = errors.New("validation failed")
	ErrForbidden             = errors.New("forbidden")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
)

// NotFoundError identifies a missing entity by type and lookup key.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError for the given entity and key.
func NewNotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// ValidationError reports a per-field validation failure set.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed"
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidation builds a ValidationError with optional field detail.
func NewValidation(message string, fields map[string]string) error {
	return &ValidationError{Message: message, Fields: fields}
}

// DuplicateSaleError reports a sale rejected by the duplicate window or by
// an idempotency-key replay with a different payload.
type DuplicateSaleError struct {
	ClientID   string
	ExistingID string
	Reason     string
}

func (e *DuplicateSaleError) Error() string {
	return fmt.Sprintf("duplicate sale for client %s (%s), existing sale %s", e.ClientID, e.Reason, e.ExistingID)
}

func (e *DuplicateSaleError) Unwrap() error { return ErrConflict }

// InsufficientStockError reports a stock allocation that could not be
// satisfied for a SKU.
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrConflict }

// InvalidTransitionError reports a delivery status change not permitted by
// the state machine.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrConflict }

// DuplicateProfileError reports a profile write that collided with a
// unique identity field.
type DuplicateProfileError struct {
	Field string
	Value string
}

func (e *DuplicateProfileError) Error() string {
	return fmt.Sprintf("profile with %s %q already exists", e.Field, e.Value)
}

func (e *DuplicateProfileError) Unwrap() error { return ErrConflict }
