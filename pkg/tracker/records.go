package tracker

import (
	"sort"
	"sync"
	"time"
)

// RecordStore persists transition and event records. Implementations must be
// safe for concurrent use.
type RecordStore interface {
	// AppendTransition appends a transition record.
	AppendTransition(t Transition) error

	// AppendEvent appends an event record.
	AppendEvent(e Event) error

	// Transitions returns a session's transitions, oldest first.
	Transitions(sessionID string) ([]Transition, error)

	// Events returns a session's events, oldest first.
	Events(sessionID string) ([]Event, error)

	// AllTransitions returns every retained transition.
	AllTransitions() ([]Transition, error)

	// AllEvents returns every retained event.
	AllEvents() ([]Event, error)

	// Prune drops records older than cutoff and trims each session to
	// maxPerSession records, oldest first. Returns the number dropped.
	Prune(cutoff time.Time, maxPerSession int) (int, error)

	// Close releases resources.
	Close() error
}

// memoryRecords implements RecordStore with per-session slices.
type memoryRecords struct {
	mu          sync.RWMutex
	transitions map[string][]Transition
	events      map[string][]Event
}

// NewMemoryRecords creates a volatile record store, best suited for tests or
// setups that do not need transition history to survive restarts.
func NewMemoryRecords() RecordStore {
	return &memoryRecords{
		transitions: make(map[string][]Transition),
		events:      make(map[string][]Event),
	}
}

// AppendTransition implements RecordStore.AppendTransition.
func (m *memoryRecords) AppendTransition(t Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[t.SessionID] = append(m.transitions[t.SessionID], t)
	return nil
}

// AppendEvent implements RecordStore.AppendEvent.
func (m *memoryRecords) AppendEvent(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.SessionID] = append(m.events[e.SessionID], e)
	return nil
}

// Transitions implements RecordStore.Transitions.
func (m *memoryRecords) Transitions(sessionID string) ([]Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transition(nil), m.transitions[sessionID]...), nil
}

// Events implements RecordStore.Events.
func (m *memoryRecords) Events(sessionID string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events[sessionID]...), nil
}

// AllTransitions implements RecordStore.AllTransitions.
func (m *memoryRecords) AllTransitions() ([]Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []Transition
	for _, ts := range m.transitions {
		all = append(all, ts...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

// AllEvents implements RecordStore.AllEvents.
func (m *memoryRecords) AllEvents() ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []Event
	for _, es := range m.events {
		all = append(all, es...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

// Prune implements RecordStore.Prune.
func (m *memoryRecords) Prune(cutoff time.Time, maxPerSession int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for id, ts := range m.transitions {
		kept := pruneTransitions(ts, cutoff, maxPerSession)
		dropped += len(ts) - len(kept)
		if len(kept) == 0 {
			delete(m.transitions, id)
		} else {
			m.transitions[id] = kept
		}
	}
	for id, es := range m.events {
		kept := pruneEvents(es, cutoff, maxPerSession)
		dropped += len(es) - len(kept)
		if len(kept) == 0 {
			delete(m.events, id)
		} else {
			m.events[id] = kept
		}
	}
	return dropped, nil
}

// Close implements RecordStore.Close.
func (m *memoryRecords) Close() error { return nil }

// pruneTransitions keeps records at or after cutoff, newest maxPerSession of
// them. Records are oldest first.
func pruneTransitions(ts []Transition, cutoff time.Time, maxPerSession int) []Transition {
	kept := ts[:0:0]
	for _, t := range ts {
		if !t.Timestamp.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	if maxPerSession > 0 && len(kept) > maxPerSession {
		kept = append(kept[:0:0], kept[len(kept)-maxPerSession:]...)
	}
	return kept
}

func pruneEvents(es []Event, cutoff time.Time, maxPerSession int) []Event {
	kept := es[:0:0]
	for _, e := range es {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	if maxPerSession > 0 && len(kept) > maxPerSession {
		kept = append(kept[:0:0], kept[len(kept)-maxPerSession:]...)
	}
	return kept
}
