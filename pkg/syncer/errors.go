package syncer

import "errors"

// Common errors returned by the syncer.
var (
	// ErrNotRegistered is returned when a session has no identity link.
	ErrNotRegistered = errors.New("session not registered with an identity")

	// ErrInvalidIdentity is returned when registering an identity without
	// a platform or user.
	ErrInvalidIdentity = errors.New("invalid identity: platform and user_id are required")

	// ErrInvalidStrategy is returned for an unknown conflict strategy.
	ErrInvalidStrategy = errors.New("invalid conflict strategy")

	// ErrNoCandidates is returned when resolving conflicts over an empty
	// candidate list.
	ErrNoCandidates = errors.New("no candidate sessions to resolve")

	// ErrAlreadyStarted is returned when Start is called on a running
	// syncer.
	ErrAlreadyStarted = errors.New("syncer already started")

	// ErrNotStarted is returned when Stop is called on a stopped syncer.
	ErrNotStarted = errors.New("syncer not started")
)
