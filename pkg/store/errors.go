package store

import "errors"

// Common errors returned by session stores.
var (
	// ErrNotFound is returned when a session does not exist. Lazy expiry
	// also reports ErrNotFound after evicting the session.
	ErrNotFound = errors.New("session not found")

	// ErrDuplicateID is returned when creating a session whose ID already
	// exists. The caller must generate a new ID.
	ErrDuplicateID = errors.New("session ID already exists")

	// ErrStoreClosed is returned when operations are attempted on a closed
	// store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrStorage wraps transient I/O failures from the file and database
	// backends. Background loops retry on the next tick; foreground callers
	// see it immediately.
	ErrStorage = errors.New("storage failure")
)
