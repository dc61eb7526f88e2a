package session

import "errors"

// Common errors returned by session validation.
var (
	// ErrInvalidSession is the base validation error; all validation
	// failures wrap it so callers can match with errors.Is.
	ErrInvalidSession = errors.New("invalid session")

	// ErrMissingID is returned when a session has no ID.
	ErrMissingID = errors.New("session ID cannot be empty")

	// ErrMissingChatID is returned when a session has no chat ID.
	ErrMissingChatID = errors.New("chat ID cannot be empty")

	// ErrMissingUserID is returned when a session has no user ID.
	ErrMissingUserID = errors.New("user ID cannot be empty")

	// ErrUnknownPlatform is returned for platforms outside the enumeration.
	ErrUnknownPlatform = errors.New("unknown platform")

	// ErrUnknownType is returned for session types outside the enumeration.
	ErrUnknownType = errors.New("unknown session type")

	// ErrUnknownStatus is returned for statuses outside the enumeration.
	ErrUnknownStatus = errors.New("unknown session status")

	// ErrActivityBeforeCreation is returned when last_activity precedes
	// created_at.
	ErrActivityBeforeCreation = errors.New("last activity precedes creation time")
)
