package system

import "errors"

// Common errors returned by the system package.
var (
	// ErrAlreadyStarted is returned when Start is called on a running
	// system.
	ErrAlreadyStarted = errors.New("system already started")

	// ErrClosed is returned when a closed system is used.
	ErrClosed = errors.New("system closed")

	// ErrInvalidSchedule is returned when the backup cron expression does
	// not parse.
	ErrInvalidSchedule = errors.New("invalid backup schedule")
)
