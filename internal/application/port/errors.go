package port

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage wraps every storage I/O failure; callers may retry the whole operation
	ErrStorage = errors.New("storage error")

	// ErrChainBroken is returned when a hash chain fails verification
	ErrChainBroken = errors.New("audit chain broken")

	// ErrUnsupportedFormat is returned for unknown export formats or option combinations
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrCorruptBackup is returned when a backup fails verification during restore
	ErrCorruptBackup = errors.New("corrupt backup")

	// ErrBackupNotFound is returned for an unknown backup id
	ErrBackupNotFound = errors.New("backup not found")
)

// IntegrityError locates the first entry that failed chain verification
type IntegrityError struct {
	RiskID   string
	Sequence int64
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s at sequence %d: %s", ErrChainBroken, e.RiskID, e.Sequence, e.Reason)
}

func (e *IntegrityError) Unwrap() error {
	return ErrChainBroken
}
