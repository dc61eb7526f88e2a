package tracker

import "errors"

// Common errors returned by the tracker.
var (
	// ErrInvalidRule is returned when registering a rule without an event
	// or target status.
	ErrInvalidRule = errors.New("invalid rule: event and target status are required")

	// ErrNoHistory is returned by PredictNext when no transitions out of
	// the current status have been observed.
	ErrNoHistory = errors.New("no transition history for prediction")
)
