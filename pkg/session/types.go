// Package session defines the core session entity shared by every storage
// backend and lifecycle component.
//
// A Session tracks the conversation state for one (platform, chat, user)
// tuple: identity fields, bounded message history, an open key/value data
// map for feature state, and a metadata map holding policy knobs such as
// max_history and idle_timeout.
//
// Example usage:
//
//	sess := session.New("chat-42", "user-1", session.PlatformTelegram, session.TypePrivate)
//	sess.AddMessage(session.Message{Content: "hello", UserID: "user-1"})
//	if sess.IsIdleTimedOut(time.Now()) {
//	    // retire it
//	}
package session

import (
	"time"
)

// Platform identifies the chat platform a session belongs to.
type Platform string

// Supported platforms.
const (
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
	PlatformSlack    Platform = "slack"
	PlatformWhatsApp Platform = "whatsapp"
	PlatformWeb      Platform = "web"
	PlatformVoice    Platform = "voice"
	PlatformAPI      Platform = "api"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTelegram, PlatformDiscord, PlatformSlack,
		PlatformWhatsApp, PlatformWeb, PlatformVoice, PlatformAPI:
		return true
	}
	return false
}

// Type classifies a session.
type Type string

// Session types.
const (
	TypePrivate   Type = "private"
	TypeGroup     Type = "group"
	TypeSystem    Type = "system"
	TypeTemporary Type = "temporary"
)

// Valid reports whether t is a known session type.
func (t Type) Valid() bool {
	switch t {
	case TypePrivate, TypeGroup, TypeSystem, TypeTemporary:
		return true
	}
	return false
}

// Status is the lifecycle state of a session.
//
// Status is stored in the session metadata under MetaStatus and must only be
// mutated through the state tracker's transition function.
type Status string

// Lifecycle states.
const (
	StatusActive    Status = "active"
	StatusIdle      Status = "idle"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
	StatusClosed    Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusIdle, StatusSuspended, StatusExpired, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether the state machine has no outgoing transitions
// from s other than manual_close.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusClosed
}

// Metadata keys recognized by the engine.
const (
	// MetaMaxHistory bounds the conversation history length.
	MetaMaxHistory = "max_history"

	// MetaIdleTimeout is the idle timeout in seconds.
	MetaIdleTimeout = "idle_timeout"

	// MetaExpiresIn is the absolute lifetime in seconds from creation.
	// Unset means the session never expires by age.
	MetaExpiresIn = "expires_in"

	// MetaStatus is the lifecycle status.
	MetaStatus = "status"
)

// Policy defaults applied by New.
const (
	// DefaultMaxHistory is the default conversation history bound.
	DefaultMaxHistory = 50

	// DefaultIdleTimeout is the default idle timeout.
	DefaultIdleTimeout = 3600 * time.Second
)

// Message is an immutable conversation entry. Messages are value objects:
// they are appended to a session's history and never mutated afterwards.
type Message struct {
	// ID uniquely identifies the message (assigned on append if empty).
	ID string `json:"id"`

	// Content is the message body.
	Content string `json:"content"`

	// UserID is the author.
	UserID string `json:"user_id"`

	// Timestamp is when the message was produced.
	Timestamp time.Time `json:"timestamp"`

	// Type classifies the message (text, image, command, system, ...).
	Type string `json:"message_type"`

	// Platform is the originating platform.
	Platform Platform `json:"platform"`

	// ChatID is the originating chat.
	ChatID string `json:"chat_id"`

	// SessionID is the owning session (filled on append).
	SessionID string `json:"session_id"`
}

// Message types.
const (
	MessageText    = "text"
	MessageImage   = "image"
	MessageCommand = "command"
	MessageSystem  = "system"
)

// Session is the central entity: immutable identity plus mutable state for
// one conversation.
//
// Invariants:
//   - ID is globally unique and immutable
//   - LastActivity >= CreatedAt and is monotonically non-decreasing
//   - len(History) <= MaxHistory()
//   - Status is only mutated through the state tracker
//   - every entry in ChildIDs references a session whose ParentID is this
//     session's ID (maintained by the manager)
type Session struct {
	// ID is the UUID primary key.
	ID string `json:"session_id"`

	// ChatID identifies the conversation on the platform.
	ChatID string `json:"chat_id"`

	// UserID identifies the user on the platform.
	UserID string `json:"user_id"`

	// Platform is the originating chat platform.
	Platform Platform `json:"platform"`

	// Type classifies the session.
	Type Type `json:"session_type"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`

	// LastActivity is the timestamp of the most recent activity.
	LastActivity time.Time `json:"last_activity"`

	// Data holds arbitrary feature state keyed by feature name.
	Data map[string]Value `json:"data,omitempty"`

	// Metadata holds policy knobs (max_history, idle_timeout, expires_in,
	// status).
	Metadata map[string]Value `json:"metadata,omitempty"`

	// ParentID is an optional back-reference to a parent session.
	ParentID string `json:"parent_session,omitempty"`

	// ChildIDs lists child session IDs. The relation list is owned; the
	// children themselves are not.
	ChildIDs []string `json:"child_sessions,omitempty"`

	// AIModel is an optional model label.
	AIModel string `json:"ai_model,omitempty"`

	// History is the bounded ordered message sequence, oldest first.
	History []Message `json:"conversation_history,omitempty"`
}
