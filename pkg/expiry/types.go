// Package expiry retires sessions according to named, prioritized rules.
//
// A rule pairs a matching strategy (age, inactivity, usage, a hybrid of the
// first two, or a caller-supplied predicate) with an ordered list of cleanup
// actions. When several rules match the same session the highest-priority
// rule wins and only its first action is executed in that pass; the other
// matches are reported but not acted on.
//
// Example usage:
//
//	mgr := expiry.New(expiry.Config{ArchiveDir: "/var/lib/engine/archive"}, st, logger.Default())
//	mgr.AddRule(expiry.Rule{
//	    ID:       "stale",
//	    Name:     "stale sessions",
//	    Priority: 10,
//	    Enabled:  true,
//	    Strategy: expiry.StrategyActivity,
//	    Params:   expiry.Params{MaxInactive: 72 * time.Hour},
//	    Actions:  []expiry.Action{expiry.ActionArchive},
//	})
//	results, err := mgr.RunOnce(ctx, false)
package expiry

import (
	"context"
	"time"

	"github.com/0xmhha/session-engine/pkg/session"
)

// Strategy selects how a rule decides that a session is due for cleanup.
type Strategy string

// Matching strategies.
const (
	// StrategyTime matches sessions past their absolute expiry, or older
	// than Params.MaxAge when no expiry is set.
	StrategyTime Strategy = "time"

	// StrategyActivity matches sessions idle beyond their idle timeout or
	// beyond Params.MaxInactive.
	StrategyActivity Strategy = "activity"

	// StrategyUsage matches sessions whose history length or estimated
	// size exceeds the configured thresholds.
	StrategyUsage Strategy = "usage"

	// StrategyHybrid matches when either the time or the activity
	// strategy would match.
	StrategyHybrid Strategy = "hybrid"

	// StrategyCustom delegates the decision to Rule.Condition.
	StrategyCustom Strategy = "custom"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyTime, StrategyActivity, StrategyUsage, StrategyHybrid, StrategyCustom:
		return true
	}
	return false
}

// Action is one cleanup step a rule may perform.
type Action string

// Cleanup actions.
const (
	// ActionArchive serializes the session with an envelope to a dated
	// file under the archive directory.
	ActionArchive Action = "archive"

	// ActionDelete removes the session from the store.
	ActionDelete Action = "delete"

	// ActionSuspend marks the session suspended but keeps it stored.
	ActionSuspend Action = "suspend"

	// ActionNotify invokes every registered notification callback.
	ActionNotify Action = "notify"

	// ActionExport serializes the bare session under the exports
	// sub-directory.
	ActionExport Action = "export"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionArchive, ActionDelete, ActionSuspend, ActionNotify, ActionExport:
		return true
	}
	return false
}

// Predicate is a custom expiry condition. An error (or panic) counts as
// "not expired", never as a fatal failure.
type Predicate func(sess *session.Session, now time.Time) (bool, error)

// Params are the thresholds consulted by the built-in strategies. Zero
// values disable the corresponding check.
type Params struct {
	// MaxAge retires sessions older than this even without an absolute
	// expiry (time and hybrid strategies).
	MaxAge time.Duration

	// MaxInactive retires sessions inactive for longer than this
	// (activity and hybrid strategies).
	MaxInactive time.Duration

	// MaxMessages retires sessions whose history exceeds this length
	// (usage strategy).
	MaxMessages int

	// MaxSizeBytes retires sessions whose estimated serialized size
	// exceeds this (usage strategy).
	MaxSizeBytes int
}

// Rule is one named expiry policy.
type Rule struct {
	// ID uniquely identifies the rule.
	ID string

	// Name is a human-readable label.
	Name string

	// Priority ranks the rule against other matching rules; the highest
	// value wins.
	Priority int

	// Enabled gates the rule without removing it.
	Enabled bool

	// Strategy selects the matching condition.
	Strategy Strategy

	// Params configures the built-in strategies.
	Params Params

	// Actions is the configured cleanup sequence. Only the first action
	// of the winning rule is executed per pass.
	Actions []Action

	// Condition is the predicate for StrategyCustom.
	Condition Predicate
}

// Notification is the payload delivered to registered callbacks by
// ActionNotify.
type Notification struct {
	// SessionID is the session the rule matched.
	SessionID string `json:"session_id"`

	// RuleID is the winning rule.
	RuleID string `json:"rule_id"`

	// RuleName is the winning rule's label.
	RuleName string `json:"rule_name"`

	// Timestamp is when the notification was raised.
	Timestamp time.Time `json:"timestamp"`
}

// NotifyFunc receives expiry notifications. Panics are caught and logged.
type NotifyFunc func(n Notification)

// Result is the outcome of one cleanup pass for one session.
type Result struct {
	// SessionID is the session examined.
	SessionID string `json:"session_id"`

	// MatchedRules are all rule IDs that matched, ordered by descending
	// priority.
	MatchedRules []string `json:"matched_rules"`

	// AppliedRule is the winning rule whose action ran (or would run in
	// dry-run mode).
	AppliedRule string `json:"applied_rule"`

	// Action is the executed (or would-be) action.
	Action Action `json:"action"`

	// DryRun marks results produced without mutating anything.
	DryRun bool `json:"dry_run"`

	// Error holds the action failure, if any.
	Error string `json:"error,omitempty"`
}

// Stats accumulate over the process lifetime.
type Stats struct {
	// Runs counts completed cleanup passes (dry runs excluded).
	Runs int `json:"runs"`

	// ActionCounts counts executed actions by type.
	ActionCounts map[Action]int `json:"action_counts"`

	// Errors counts failed action executions.
	Errors int `json:"errors"`

	// LastRun is when the most recent pass finished.
	LastRun time.Time `json:"last_run"`
}

// Manager evaluates expiry rules against the session store.
type Manager interface {
	// AddRule registers a rule.
	AddRule(rule Rule) error

	// RemoveRule unregisters a rule by ID.
	RemoveRule(id string) error

	// SetRuleEnabled toggles a rule without removing it.
	SetRuleEnabled(id string, enabled bool) error

	// Rules returns the registered rules ordered by descending priority.
	Rules() []Rule

	// RegisterNotifier adds a notification callback for ActionNotify.
	RegisterNotifier(fn NotifyFunc)

	// CheckSession returns the IDs of every enabled rule the session
	// currently matches, ordered by descending priority.
	CheckSession(sess *session.Session) []string

	// RunOnce performs one cleanup pass over a point-in-time snapshot of
	// the store. With dryRun true it reports would-be results without
	// mutating anything.
	RunOnce(ctx context.Context, dryRun bool) ([]Result, error)

	// ForceExpire applies the rules to a single session immediately.
	//
	// Returns the result, or nil if no rule matched.
	ForceExpire(ctx context.Context, sessionID string) (*Result, error)

	// Stats returns lifetime statistics.
	Stats() Stats

	// Start launches the background cleanup loop.
	Start(ctx context.Context) error

	// Stop terminates the background loop and waits for it to exit.
	Stop() error
}

// Configuration defaults.
const (
	// DefaultCleanupInterval is the default background pass cadence.
	DefaultCleanupInterval = 1800 * time.Second

	// DefaultMaxBackoff caps the delay after repeated pass failures.
	DefaultMaxBackoff = 2 * time.Hour

	// DefaultArchiveDir is where archived sessions land.
	DefaultArchiveDir = "archive"
)

// Config contains expiry manager configuration.
type Config struct {
	// ArchiveDir is the directory for archives and exports.
	// Default: "archive".
	ArchiveDir string

	// CleanupInterval is the background pass cadence.
	// Default: 1800s.
	CleanupInterval time.Duration

	// MaxBackoff caps the retry delay after consecutive pass failures.
	// Default: 2h.
	MaxBackoff time.Duration
}
