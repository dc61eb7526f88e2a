// Package store defines the session storage contract and its three
// interchangeable backends: in-memory, file-snapshot, and embedded SQLite.
//
// All backends implement the same Store interface and must produce identical
// observable results for the same operation sequence; the shared contract
// test suite in store_test.go enforces that equivalence.
//
// Example usage:
//
//	st := store.NewMemory(logger.Default())
//	defer st.Close()
//
//	sess := session.New("chat-1", "user-1", session.PlatformTelegram, session.TypePrivate)
//	if err := st.Create(ctx, sess); err != nil {
//	    log.Fatal(err)
//	}
//
//	matches, err := st.Find(ctx, store.Filter{UserID: "user-1"})
package store

import (
	"context"
	"sort"

	"github.com/0xmhha/session-engine/pkg/session"
)

// Store is the storage contract shared by all backends.
//
// Get performs lazy expiry: an expired or idle-timed-out session is deleted
// as a side effect and reported as not found. There is no separate miss
// state.
type Store interface {
	// Create persists a new session.
	//
	// Returns ErrDuplicateID if a session with the same ID exists,
	// session.ErrInvalidSession if the session fails validation.
	Create(ctx context.Context, sess *session.Session) error

	// Get returns the session with the given ID.
	//
	// Returns ErrNotFound if the session is absent, expired, or
	// idle-timed-out; in the latter two cases the session is removed from
	// the store before returning.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Update overwrites an existing session.
	//
	// Returns ErrNotFound if the session does not exist.
	Update(ctx context.Context, sess *session.Session) error

	// Delete removes the session with the given ID.
	//
	// Returns ErrNotFound if the session does not exist.
	Delete(ctx context.Context, id string) error

	// Find returns all sessions matching the filter, ordered by creation
	// time (ties broken by ID).
	Find(ctx context.Context, filter Filter) ([]*session.Session, error)

	// CleanupExpired eagerly removes all expired and idle-timed-out
	// sessions.
	//
	// Returns the number of sessions removed.
	CleanupExpired(ctx context.Context) (int, error)

	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources. The store must not be used after
	// Close.
	Close() error
}

// Filter is a conjunction of equality predicates. Zero-valued fields are
// ignored.
type Filter struct {
	// UserID matches sessions owned by the user.
	UserID string

	// ChatID matches sessions for the chat.
	ChatID string

	// Platform matches sessions on the platform.
	Platform session.Platform

	// Status matches sessions in the lifecycle state.
	Status session.Status

	// Type matches sessions of the session type.
	Type session.Type
}

// Matches reports whether the session satisfies every set predicate.
func (f Filter) Matches(sess *session.Session) bool {
	if f.UserID != "" && sess.UserID != f.UserID {
		return false
	}
	if f.ChatID != "" && sess.ChatID != f.ChatID {
		return false
	}
	if f.Platform != "" && sess.Platform != f.Platform {
		return false
	}
	if f.Status != "" && sess.Status() != f.Status {
		return false
	}
	if f.Type != "" && sess.Type != f.Type {
		return false
	}
	return true
}

// Empty reports whether the filter has no predicates set.
func (f Filter) Empty() bool {
	return f == Filter{}
}

// sortSessions orders results by creation time, ties broken by ID, so all
// backends return identical sequences for the same content.
func sortSessions(sessions []*session.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
