package store

import (
	"context"
	"sync"
	"time"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
)

// memoryStore implements Store with a session map plus three secondary
// indexes. Every mutating operation, including its index updates, runs
// inside one store-wide exclusive critical section so readers never observe
// a partially updated index.
type memoryStore struct {
	logger logger.Logger

	mu      sync.RWMutex
	closed  bool
	version uint64
	byID    map[string]*session.Session

	// Secondary indexes: key -> set of session IDs.
	byUser     map[string]map[string]struct{}
	byChat     map[string]map[string]struct{}
	byPlatform map[string]map[string]struct{}
}

// NewMemory creates an in-memory session store.
//
// Parameters:
//   - log: Logger instance
//
// Returns a configured Store. The store is volatile: contents are lost when
// the process exits.
func NewMemory(log logger.Logger) Store {
	return newMemory(log)
}

func newMemory(log logger.Logger) *memoryStore {
	return &memoryStore{
		logger:     log,
		byID:       make(map[string]*session.Session),
		byUser:     make(map[string]map[string]struct{}),
		byChat:     make(map[string]map[string]struct{}),
		byPlatform: make(map[string]map[string]struct{}),
	}
}

// Create implements Store.Create.
func (m *memoryStore) Create(_ context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, exists := m.byID[sess.ID]; exists {
		return ErrDuplicateID
	}

	m.insertLocked(sess.Clone())
	return nil
}

// Get implements Store.Get.
func (m *memoryStore) Get(_ context.Context, id string) (*session.Session, error) {
	now := time.Now().UTC()

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	sess, ok := m.byID[id]
	if ok && !retired(sess, now) {
		clone := sess.Clone()
		m.mu.RUnlock()
		return clone, nil
	}
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	// Lazy eviction: upgrade to the write lock and re-check, another
	// goroutine may have removed or refreshed the session meanwhile.
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok = m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !retired(sess, now) {
		return sess.Clone(), nil
	}

	m.removeLocked(sess)
	m.logger.Debug("lazily evicted session", "session_id", id)
	return nil, ErrNotFound
}

// Update implements Store.Update.
func (m *memoryStore) Update(_ context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	existing, ok := m.byID[sess.ID]
	if !ok {
		return ErrNotFound
	}

	// Identity fields are immutable, so the secondary indexes only change
	// if the caller swapped identity. Reindex defensively.
	m.removeLocked(existing)
	m.insertLocked(sess.Clone())
	return nil
}

// Delete implements Store.Delete.
func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	sess, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}

	m.removeLocked(sess)
	return nil
}

// Find implements Store.Find.
func (m *memoryStore) Find(_ context.Context, filter Filter) ([]*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	// Use the first applicable secondary index, fall back to a full scan
	// when no indexed field is set.
	indexed := filter.UserID != "" || filter.ChatID != "" || filter.Platform != ""

	var candidates map[string]struct{}
	switch {
	case filter.UserID != "":
		candidates = m.byUser[filter.UserID]
	case filter.ChatID != "":
		candidates = m.byChat[filter.ChatID]
	case filter.Platform != "":
		candidates = m.byPlatform[string(filter.Platform)]
	}

	var results []*session.Session
	if indexed {
		for id := range candidates {
			if sess := m.byID[id]; sess != nil && filter.Matches(sess) {
				results = append(results, sess.Clone())
			}
		}
	} else {
		for _, sess := range m.byID {
			if filter.Matches(sess) {
				results = append(results, sess.Clone())
			}
		}
	}

	sortSessions(results)
	return results, nil
}

// CleanupExpired implements Store.CleanupExpired.
func (m *memoryStore) CleanupExpired(_ context.Context) (int, error) {
	now := time.Now().UTC()

	// Point-in-time view of the ID set; sessions created during the scan
	// are not required to be included.
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		m.mu.Lock()
		sess, ok := m.byID[id]
		if ok && retired(sess, now) {
			m.removeLocked(sess)
			removed++
		}
		m.mu.Unlock()
	}

	if removed > 0 {
		m.logger.Debug("cleanup removed sessions", "count", removed)
	}
	return removed, nil
}

// Count implements Store.Count.
func (m *memoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.byID), nil
}

// Close implements Store.Close.
func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// insertLocked adds the session to the primary map and all secondary
// indexes. Caller must hold the write lock.
func (m *memoryStore) insertLocked(sess *session.Session) {
	m.byID[sess.ID] = sess
	addIndex(m.byUser, sess.UserID, sess.ID)
	addIndex(m.byChat, sess.ChatID, sess.ID)
	addIndex(m.byPlatform, string(sess.Platform), sess.ID)
	m.version++
}

// removeLocked removes the session from the primary map and all secondary
// indexes. Caller must hold the write lock.
func (m *memoryStore) removeLocked(sess *session.Session) {
	delete(m.byID, sess.ID)
	dropIndex(m.byUser, sess.UserID, sess.ID)
	dropIndex(m.byChat, sess.ChatID, sess.ID)
	dropIndex(m.byPlatform, string(sess.Platform), sess.ID)
	m.version++
}

// snapshotLocked returns clones of all sessions. Caller must hold at least
// the read lock.
func (m *memoryStore) snapshotLocked() []*session.Session {
	sessions := make([]*session.Session, 0, len(m.byID))
	for _, sess := range m.byID {
		sessions = append(sessions, sess.Clone())
	}
	sortSessions(sessions)
	return sessions
}

// replaceAllLocked swaps the complete store content. Caller must hold the
// write lock.
func (m *memoryStore) replaceAllLocked(sessions []*session.Session) {
	m.byID = make(map[string]*session.Session, len(sessions))
	m.byUser = make(map[string]map[string]struct{})
	m.byChat = make(map[string]map[string]struct{})
	m.byPlatform = make(map[string]map[string]struct{})
	for _, sess := range sessions {
		m.insertLocked(sess.Clone())
	}
}

// retired reports whether the session should be lazily evicted.
func retired(sess *session.Session, now time.Time) bool {
	return sess.IsExpired(now) || sess.IsIdleTimedOut(now)
}

func addIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func dropIndex(idx map[string]map[string]struct{}, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}
