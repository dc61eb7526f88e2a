package expiry

import "errors"

// Common errors returned by the expiry manager.
var (
	// ErrInvalidRule is returned when a rule is missing its ID, carries an
	// unknown strategy or action, or uses StrategyCustom without a
	// condition.
	ErrInvalidRule = errors.New("invalid expiry rule")

	// ErrRuleNotFound is returned when addressing a rule ID that is not
	// registered.
	ErrRuleNotFound = errors.New("expiry rule not found")

	// ErrDuplicateRule is returned when registering a rule whose ID is
	// already taken.
	ErrDuplicateRule = errors.New("expiry rule already registered")

	// ErrAlreadyStarted is returned when Start is called on a running
	// manager.
	ErrAlreadyStarted = errors.New("expiry manager already started")

	// ErrNotStarted is returned when Stop is called on a stopped manager.
	ErrNotStarted = errors.New("expiry manager not started")
)
