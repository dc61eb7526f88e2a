package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
)

// transitionKey identifies one cell of the built-in transition table.
type transitionKey struct {
	from  session.Status
	event EventType
}

// builtinTransitions is the default lifecycle state machine. Pairs absent
// from the table leave the session status unchanged.
var builtinTransitions = map[transitionKey]session.Status{
	{NoStatus, EventSessionCreated}:              session.StatusActive,
	{session.StatusActive, EventIdleDetected}:    session.StatusIdle,
	{session.StatusIdle, EventUserActivity}:      session.StatusActive,
	{session.StatusActive, EventManualSuspend}:   session.StatusSuspended,
	{session.StatusSuspended, EventManualResume}: session.StatusActive,
	{session.StatusActive, EventTimeout}:         session.StatusExpired,
	{session.StatusIdle, EventIdleTimeout}:       session.StatusExpired,
	{AnyStatus, EventManualClose}:                session.StatusClosed,
}

// stateTracker implements the Tracker interface.
type stateTracker struct {
	config  Config
	store   store.Store
	records RecordStore
	logger  logger.Logger

	mu    sync.RWMutex
	rules []Rule
}

// New creates a tracker backed by the given session store and record store.
//
// Parameters:
//   - config: Tracker configuration (zero values use defaults)
//   - st: Session store whose sessions the tracker transitions
//   - records: Append-only record store for transitions and events
//   - log: Logger instance (uses logger.Default() if nil)
//
// Returns:
//   - Configured Tracker instance
func New(config Config, st store.Store, records RecordStore, log logger.Logger) Tracker {
	if log == nil {
		log = logger.Default()
	}
	if config.HistoryRetentionDays <= 0 {
		config.HistoryRetentionDays = DefaultHistoryRetentionDays
	}
	if config.MaxEventsPerSession <= 0 {
		config.MaxEventsPerSession = DefaultMaxEventsPerSession
	}

	return &stateTracker{
		config:  config,
		store:   st,
		records: records,
		logger:  log,
	}
}

// Track implements Tracker.Track.
func (t *stateTracker) Track(ctx context.Context, sessionID string, event EventType, metadata map[string]session.Value) (*Transition, error) {
	sess, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	now := time.Now().UTC()

	// The event is recorded regardless of whether it causes a transition.
	rec := Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      event,
		Timestamp: now,
		Metadata:  session.CloneValues(metadata),
	}
	if err := t.records.AppendEvent(rec); err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	from, err := t.resolveFrom(sess, event)
	if err != nil {
		return nil, err
	}

	to, rule, ok := t.resolveTarget(sess, from, event)
	if !ok {
		t.logger.Debug("event caused no transition",
			"session_id", sessionID,
			"status", from,
			"event", event)
		return nil, nil
	}

	transition := Transition{
		SessionID:       sessionID,
		From:            from,
		To:              to,
		Event:           event,
		Timestamp:       now,
		DurationSeconds: t.dwellSeconds(sess, now),
	}

	sess.SetStatus(to)
	if err := t.store.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist transition: %w", err)
	}

	if err := t.records.AppendTransition(transition); err != nil {
		return nil, fmt.Errorf("failed to record transition: %w", err)
	}

	t.logger.Info("session transitioned",
		"session_id", sessionID,
		"from", from,
		"to", to,
		"event", event)

	if rule != nil && rule.Handler != nil {
		t.invokeHandler(rule.Handler, sess, transition)
	}

	return &transition, nil
}

// resolveFrom determines the from-status for the transition lookup. The
// very first session_created event is looked up from NoStatus so the
// initial transition appears in the history.
func (t *stateTracker) resolveFrom(sess *session.Session, event EventType) (session.Status, error) {
	if event != EventSessionCreated {
		return sess.Status(), nil
	}

	prior, err := t.records.Transitions(sess.ID)
	if err != nil {
		return NoStatus, fmt.Errorf("failed to read transition history: %w", err)
	}
	if len(prior) == 0 {
		return NoStatus, nil
	}
	return sess.Status(), nil
}

// resolveTarget finds the target status for a (from, event) pair. Custom
// rules are consulted in registration order before the built-in table.
// Terminal states have no outgoing transitions.
func (t *stateTracker) resolveTarget(sess *session.Session, from session.Status, event EventType) (session.Status, *Rule, bool) {
	if from.Terminal() {
		return NoStatus, nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.rules {
		rule := &t.rules[i]
		if rule.Event != event {
			continue
		}
		if rule.From != AnyStatus && rule.From != from {
			continue
		}
		if rule.Guard != nil && !t.guardAllows(rule.Guard, sess) {
			return NoStatus, nil, false
		}
		return rule.To, rule, true
	}

	if to, ok := builtinTransitions[transitionKey{from, event}]; ok {
		return to, nil, true
	}
	if to, ok := builtinTransitions[transitionKey{AnyStatus, event}]; ok {
		return to, nil, true
	}
	return NoStatus, nil, false
}

// guardAllows evaluates a rule guard. Errors and panics deny the transition
// rather than propagating.
func (t *stateTracker) guardAllows(guard Guard, sess *session.Session) (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("rule guard panicked",
				"session_id", sess.ID,
				"panic", r)
			allowed = false
		}
	}()

	ok, err := guard(sess)
	if err != nil {
		t.logger.Warn("rule guard failed",
			"session_id", sess.ID,
			"error", err)
		return false
	}
	return ok
}

// invokeHandler runs a rule handler, isolating the tracker from panics.
func (t *stateTracker) invokeHandler(handler Handler, sess *session.Session, transition Transition) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("rule handler panicked",
				"session_id", sess.ID,
				"panic", r)
		}
	}()
	handler(sess, transition)
}

// dwellSeconds computes how long the session sat in its current status,
// measured from the last recorded transition or, before any transition
// exists, from session creation.
func (t *stateTracker) dwellSeconds(sess *session.Session, now time.Time) float64 {
	prior, err := t.records.Transitions(sess.ID)
	if err != nil || len(prior) == 0 {
		return now.Sub(sess.CreatedAt).Seconds()
	}
	return now.Sub(prior[len(prior)-1].Timestamp).Seconds()
}

// AddRule implements Tracker.AddRule.
func (t *stateTracker) AddRule(rule Rule) error {
	if rule.Event == "" {
		return ErrInvalidRule
	}
	if !rule.To.Valid() {
		return ErrInvalidRule
	}
	if rule.From != AnyStatus && rule.From != NoStatus && !rule.From.Valid() {
		return ErrInvalidRule
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append(t.rules, rule)

	t.logger.Debug("custom transition rule added",
		"from", rule.From,
		"event", rule.Event,
		"to", rule.To)
	return nil
}

// Transitions implements Tracker.Transitions.
func (t *stateTracker) Transitions(sessionID string) ([]Transition, error) {
	return t.records.Transitions(sessionID)
}

// Events implements Tracker.Events.
func (t *stateTracker) Events(sessionID string) ([]Event, error) {
	return t.records.Events(sessionID)
}

// SessionMetrics implements Tracker.SessionMetrics.
//
// Metrics are derived from the retained event records, so they survive a
// restart but also shrink when history is pruned.
func (t *stateTracker) SessionMetrics(sessionID string) (Metrics, error) {
	events, err := t.records.Events(sessionID)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to read events: %w", err)
	}

	m := Metrics{
		SessionID:   sessionID,
		EventCounts: make(map[EventType]int),
	}
	for _, e := range events {
		m.EventCounts[e.Type]++
		if e.Timestamp.After(m.LastEventAt) {
			m.LastEventAt = e.Timestamp
		}
		switch e.Type {
		case EventMessageReceived:
			m.MessagesReceived++
		case EventMessageSent:
			m.MessagesSent++
		case EventErrorOccurred:
			m.Errors++
		case EventAPICall:
			m.APICalls++
		}
	}
	return m, nil
}

// Prune implements Tracker.Prune.
func (t *stateTracker) Prune() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -t.config.HistoryRetentionDays)
	dropped, err := t.records.Prune(cutoff, t.config.MaxEventsPerSession)
	if err != nil {
		return 0, err
	}
	if dropped > 0 {
		t.logger.Info("pruned tracker history",
			"dropped", dropped,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return dropped, nil
}
