// Package tracker records session state transitions and domain events,
// maintains per-session rolling metrics, and derives patterns and next-state
// predictions from the retained history.
//
// The tracker owns the lifecycle state machine: session status is only ever
// mutated through Track, never written directly by callers.
//
// Example usage:
//
//	tr := tracker.New(tracker.Config{}, st, tracker.NewMemoryRecords(), logger.Default())
//	if _, err := tr.Track(ctx, sess.ID, tracker.EventIdleDetected, nil); err != nil {
//	    log.Fatal(err)
//	}
package tracker

import (
	"context"
	"time"

	"github.com/0xmhha/session-engine/pkg/session"
)

// EventType identifies a domain event fed into the state machine.
type EventType string

// Domain events.
const (
	EventSessionCreated  EventType = "session_created"
	EventMessageReceived EventType = "message_received"
	EventMessageSent     EventType = "message_sent"
	EventUserActivity    EventType = "user_activity"
	EventErrorOccurred   EventType = "error_occurred"
	EventAPICall         EventType = "api_call"
	EventTimeout         EventType = "timeout"
	EventIdleDetected    EventType = "idle_detected"
	EventIdleTimeout     EventType = "idle_timeout"
	EventManualSuspend   EventType = "manual_suspend"
	EventManualResume    EventType = "manual_resume"
	EventManualClose     EventType = "manual_close"
)

// AnyStatus matches every from-status in a transition rule.
const AnyStatus session.Status = "*"

// NoStatus is the from-status of the initial session_created transition.
const NoStatus session.Status = ""

// Transition is an append-only record of one state change.
type Transition struct {
	// SessionID is the session that transitioned.
	SessionID string `json:"session_id"`

	// From is the status before the transition (empty for session_created).
	From session.Status `json:"from_status"`

	// To is the status after the transition.
	To session.Status `json:"to_status"`

	// Event is the event that triggered the transition.
	Event EventType `json:"event"`

	// Timestamp is when the transition happened.
	Timestamp time.Time `json:"timestamp"`

	// DurationSeconds is the time the session spent in From, computed from
	// the session's own transition log.
	DurationSeconds float64 `json:"duration_seconds"`
}

// Event is an append-only record of a domain event, retained independently
// from transitions.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// SessionID is the session the event belongs to.
	SessionID string `json:"session_id"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries optional event payload.
	Metadata map[string]session.Value `json:"metadata,omitempty"`
}

// Metrics are per-session rolling counters.
type Metrics struct {
	// SessionID is the session the metrics belong to.
	SessionID string `json:"session_id"`

	// MessagesReceived counts message_received events.
	MessagesReceived int `json:"messages_received"`

	// MessagesSent counts message_sent events.
	MessagesSent int `json:"messages_sent"`

	// Errors counts error_occurred events.
	Errors int `json:"errors"`

	// APICalls counts api_call events.
	APICalls int `json:"api_calls"`

	// EventCounts counts every event by type.
	EventCounts map[EventType]int `json:"event_counts"`

	// LastEventAt is the timestamp of the most recent event.
	LastEventAt time.Time `json:"last_event_at"`
}

// Guard decides whether a custom rule may fire. A guard returning an error
// (or panicking) is treated as "condition not met", never as a fatal error.
type Guard func(sess *session.Session) (bool, error)

// Handler is invoked after a custom rule's transition is applied.
type Handler func(sess *session.Session, t Transition)

// Rule is a custom transition registered alongside the built-in table.
// Custom rules take precedence over built-in transitions for the same
// (from, event) pair.
type Rule struct {
	// From is the required current status (AnyStatus matches all).
	From session.Status

	// Event triggers the rule.
	Event EventType

	// To is the target status.
	To session.Status

	// Guard optionally vetoes the transition.
	Guard Guard

	// Handler optionally observes the applied transition.
	Handler Handler
}

// SequenceCount is one (from -> to) transition sequence with its frequency.
type SequenceCount struct {
	From  session.Status `json:"from"`
	To    session.Status `json:"to"`
	Count int            `json:"count"`
}

// Analysis aggregates patterns over the retained history.
type Analysis struct {
	// TopSequences are the five most frequent (from -> to) sequences.
	TopSequences []SequenceCount `json:"top_sequences"`

	// AvgDwellSeconds is the average time spent in each status before
	// leaving it.
	AvgDwellSeconds map[session.Status]float64 `json:"avg_dwell_seconds"`

	// EventFrequency counts retained events by type.
	EventFrequency map[EventType]int `json:"event_frequency"`

	// TransitionCount is the number of retained transitions.
	TransitionCount int `json:"transition_count"`
}

// Prediction is a best-effort guess of the next status, never a guarantee.
type Prediction struct {
	// SessionID is the session the prediction is for.
	SessionID string `json:"session_id"`

	// Current is the session's status at prediction time.
	Current session.Status `json:"current"`

	// Next is the most probable next status.
	Next session.Status `json:"next"`

	// Confidence is the probability mass of Next among observed
	// transitions out of Current, in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Tracker records transitions and events and answers queries about them.
type Tracker interface {
	// Track feeds an event into the state machine for the session.
	//
	// Returns the applied transition, or nil if the (status, event) pair is
	// unmapped; the event is recorded either way.
	Track(ctx context.Context, sessionID string, event EventType, metadata map[string]session.Value) (*Transition, error)

	// AddRule registers a custom transition rule.
	AddRule(rule Rule) error

	// Transitions returns the retained transitions for a session, oldest
	// first.
	Transitions(sessionID string) ([]Transition, error)

	// Events returns the retained events for a session, oldest first.
	Events(sessionID string) ([]Event, error)

	// SessionMetrics returns the rolling metrics for a session.
	SessionMetrics(sessionID string) (Metrics, error)

	// Analyze aggregates patterns over all retained history.
	Analyze() (Analysis, error)

	// PredictNext predicts the most probable next status for a session.
	PredictNext(ctx context.Context, sessionID string) (Prediction, error)

	// Prune drops records older than the retention window and trims each
	// session to the per-session cap, oldest first. Returns the number of
	// records dropped.
	Prune() (int, error)
}

// Configuration defaults.
const (
	// DefaultHistoryRetentionDays is the default retention window.
	DefaultHistoryRetentionDays = 30

	// DefaultMaxEventsPerSession is the default per-session record cap.
	DefaultMaxEventsPerSession = 1000
)

// Config contains tracker configuration.
type Config struct {
	// HistoryRetentionDays bounds how long records are kept.
	// Default: 30 days.
	HistoryRetentionDays int

	// MaxEventsPerSession caps retained records per session.
	// Default: 1000.
	MaxEventsPerSession int
}
