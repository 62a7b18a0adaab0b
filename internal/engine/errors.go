package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrMalformedInput is wrapped by MalformedInputError.
	ErrMalformedInput = errors.New("malformed input")

	// ErrInvariantViolation is wrapped by InvariantViolationError.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNotFound is returned when a requested point ID is not known.
	ErrNotFound = errors.New("not found")

	// ErrNoStore is returned by snapshot operations when no blob store is configured.
	ErrNoStore = errors.New("no snapshot store configured")

	// ErrConfigMismatch is returned when a snapshot was taken with an
	// incompatible dimension or metric.
	ErrConfigMismatch = errors.New("snapshot configuration mismatch")

	// ErrEmitPending is returned by Close when assignments could not be
	// delivered to the emitter.
	ErrEmitPending = errors.New("assignments pending emission")
)

// MalformedInputError describes a rejected record.
type MalformedInputError struct {
	ID     string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed record %q: %s", e.ID, e.Reason)
}

func (e *MalformedInputError) Unwrap() error { return ErrMalformedInput }

// InvariantViolationError describes a broken structural invariant of the
// spanning forest. The engine recovers from it internally.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Reason
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }
