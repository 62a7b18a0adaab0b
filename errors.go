package fishdbc

import (
	"errors"
	"fmt"

	"github.com/hupe1980/fishdbc/internal/engine"
	"github.com/hupe1980/fishdbc/oracle"
	"github.com/hupe1980/fishdbc/snapshot"
)

var (
	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("fishdbc: closed")

	// ErrNotFound is returned when a point ID is not known.
	ErrNotFound = errors.New("fishdbc: not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrNoOracle is returned by Open when neither a precise scorer nor an
	// oracle is configured.
	ErrNoOracle = errors.New("fishdbc: no distance oracle configured")

	// ErrNoStore is returned by snapshot operations without a blob store.
	ErrNoStore = errors.New("fishdbc: no snapshot store configured")

	// ErrNoPointLog is returned by RebuildFromLog without a point log.
	ErrNoPointLog = errors.New("fishdbc: no point log configured")

	// ErrConfigMismatch is returned when a snapshot was written with another
	// dimension or metric.
	ErrConfigMismatch = errors.New("fishdbc: snapshot configuration mismatch")

	// ErrMalformedInput is matched by every *MalformedInputError.
	ErrMalformedInput = errors.New("fishdbc: malformed input")

	// ErrInvariantViolation is matched by every *InvariantViolationError.
	ErrInvariantViolation = errors.New("fishdbc: invariant violation")

	// ErrEmitPending is returned by Close when assignments could not be
	// delivered to the emitter before shutdown.
	ErrEmitPending = errors.New("fishdbc: assignments pending emission")

	// ErrSnapshotCorrupt is returned when a snapshot fails its integrity
	// checks. The DB refuses to resume from it.
	ErrSnapshotCorrupt = snapshot.ErrSnapshotCorrupt

	// ErrNoSnapshot is returned by Restore when the store holds no snapshot.
	ErrNoSnapshot = snapshot.ErrNoSnapshot

	// ErrOracleTimeout and ErrOracleUnavailable are the reasons recorded on
	// degraded scores. They are never returned by Insert.
	ErrOracleTimeout     = oracle.ErrOracleTimeout
	ErrOracleUnavailable = oracle.ErrOracleUnavailable
)

// MalformedInputError describes a rejected record.
//
// The original underlying error can be accessed via errors.Unwrap.
type MalformedInputError struct {
	ID     string
	Reason string
	cause  error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed record %q: %s", e.ID, e.Reason)
}

func (e *MalformedInputError) Is(target error) bool { return target == ErrMalformedInput }

func (e *MalformedInputError) Unwrap() error { return e.cause }

// InvariantViolationError describes a broken spanning forest invariant.
//
// The original underlying error can be accessed via errors.Unwrap.
type InvariantViolationError struct {
	Reason string
	cause  error
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Reason
}

func (e *InvariantViolationError) Is(target error) bool { return target == ErrInvariantViolation }

func (e *InvariantViolationError) Unwrap() error { return e.cause }

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var mi *engine.MalformedInputError
	if errors.As(err, &mi) {
		return &MalformedInputError{ID: mi.ID, Reason: mi.Reason, cause: err}
	}
	var iv *engine.InvariantViolationError
	if errors.As(err, &iv) {
		return &InvariantViolationError{Reason: iv.Reason, cause: err}
	}

	switch {
	case errors.Is(err, engine.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, engine.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, engine.ErrNoStore):
		return fmt.Errorf("%w: %w", ErrNoStore, err)
	case errors.Is(err, engine.ErrConfigMismatch):
		return fmt.Errorf("%w: %w", ErrConfigMismatch, err)
	case errors.Is(err, engine.ErrEmitPending):
		return fmt.Errorf("%w: %w", ErrEmitPending, err)
	}
	return err
}
