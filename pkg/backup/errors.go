package backup

import "errors"

// Common errors returned by the backup manager.
var (
	// ErrBackupNotFound is returned when a backup ID is absent from the
	// catalog.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrInvalidFormat is returned for an unknown archive format.
	ErrInvalidFormat = errors.New("invalid backup format")

	// ErrInvalidStrategy is returned for an unknown recovery strategy.
	ErrInvalidStrategy = errors.New("invalid recovery strategy")
)
