// Package manager provides session lifecycle orchestration: creation with
// default policy metadata, parent/child bookkeeping, message appending, and
// a periodic cleanup sweep.
//
// The manager is the single source of truth for create/read/update/delete;
// callers never talk to a storage backend directly.
//
// Example usage:
//
//	mgr := manager.New(manager.Config{}, st, logger.Default())
//	sess, err := mgr.CreateSession(ctx, manager.Params{
//	    ChatID:   "chat-42",
//	    UserID:   "user-1",
//	    Platform: session.PlatformTelegram,
//	    Type:     session.TypePrivate,
//	})
package manager

import (
	"context"
	"time"

	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
)

// Params describes a session to create.
type Params struct {
	// ChatID identifies the conversation (required).
	ChatID string

	// UserID identifies the user (required).
	UserID string

	// Platform is the originating platform (required).
	Platform session.Platform

	// Type classifies the session. Default: private.
	Type session.Type

	// ParentID optionally links the new session under an existing one.
	// Creation fails with ErrParentNotFound if the parent does not exist.
	ParentID string

	// Metadata entries override the seeded defaults key-by-key.
	Metadata map[string]session.Value

	// AIModel is an optional model label.
	AIModel string
}

// Manager orchestrates the session lifecycle on top of a Store.
type Manager interface {
	// CreateSession creates a session with default metadata, persists it,
	// and links it under its parent if ParentID is set.
	//
	// Returns ErrParentNotFound if the parent does not exist; the session
	// is not persisted in that case.
	CreateSession(ctx context.Context, params Params) (*session.Session, error)

	// CreateSessionFromMessage creates a session seeded from an inbound
	// message and appends the message to its history.
	CreateSessionFromMessage(ctx context.Context, msg session.Message, sessionType session.Type) (*session.Session, error)

	// GetSession returns the session with the given ID.
	GetSession(ctx context.Context, id string) (*session.Session, error)

	// GetUserSession returns the most recently active session matching the
	// identity tuple, or store.ErrNotFound if none matches.
	GetUserSession(ctx context.Context, userID, chatID string, platform session.Platform) (*session.Session, error)

	// FindSessions returns sessions matching the filter. The zero filter
	// matches everything.
	FindSessions(ctx context.Context, filter store.Filter) ([]*session.Session, error)

	// UpdateSession persists changes to an existing session.
	UpdateSession(ctx context.Context, sess *session.Session) error

	// DeleteSession removes the session, recursively deletes all its
	// descendants, and detaches it from its parent.
	DeleteSession(ctx context.Context, id string) error

	// AddMessage appends a message to the session's history, evicting the
	// oldest entries beyond max_history, and returns the updated session.
	AddMessage(ctx context.Context, sessionID string, msg session.Message) (*session.Session, error)

	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int, error)

	// CleanupExpiredSessions eagerly removes expired sessions and returns
	// the count removed.
	CleanupExpiredSessions(ctx context.Context) (int, error)

	// Start launches the periodic cleanup sweep.
	Start(ctx context.Context) error

	// Stop halts the sweep after its current unit of work.
	Stop() error
}

// Config contains manager configuration.
type Config struct {
	// CleanupInterval is the period of the background sweep.
	// Default: 5m.
	CleanupInterval time.Duration

	// MaxBackoff caps the sweep delay after repeated failures.
	// Default: 30m.
	MaxBackoff time.Duration
}
