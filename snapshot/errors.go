package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrSnapshotCorrupt is returned for any snapshot that fails validation.
	ErrSnapshotCorrupt = errors.New("snapshot: corrupt")
	// ErrNoSnapshot is returned by Latest when the store holds no snapshot.
	ErrNoSnapshot = errors.New("snapshot: none found")
)

// ChecksumMismatchError is returned when checksum verification fails.
type ChecksumMismatchError struct {
	Section  string
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("snapshot: %s checksum mismatch: expected 0x%08x, got 0x%08x", e.Section, e.Expected, e.Actual)
}

// Is reports ErrSnapshotCorrupt as a match.
func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrSnapshotCorrupt
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSnapshotCorrupt}, args...)...)
}
