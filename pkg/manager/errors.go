package manager

import "errors"

// Common errors returned by the session manager.
var (
	// ErrParentNotFound is returned when creating a session under a parent
	// that does not exist.
	ErrParentNotFound = errors.New("parent session not found")

	// ErrAlreadyStarted is returned when Start is called on a running
	// manager.
	ErrAlreadyStarted = errors.New("manager is already started")

	// ErrNotStarted is returned when Stop is called on a manager that is
	// not running.
	ErrNotStarted = errors.New("manager is not started")
)
