// Package syncer links sessions that belong to the same logical identity
// and propagates content between them.
//
// An identity is a (platform, optional account, user) tuple composed into a
// stable key. Sessions registered under the same key are siblings; syncing
// a source session merges its content into every sibling using the same
// merge rule the backup restore uses. Sync requests are queued and executed
// immediately, on a periodic tick, or only on demand, depending on the
// configured mode.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/0xmhha/session-engine/pkg/session"
)

// Identity is the logical entity behind one or more sessions.
type Identity struct {
	// Platform the identity lives on.
	Platform session.Platform `json:"platform"`

	// Account is an optional sub-account discriminator.
	Account string `json:"account,omitempty"`

	// UserID is the platform-level user identifier.
	UserID string `json:"user_id"`
}

// Key composes the identity into a stable string.
func (i Identity) Key() string {
	return fmt.Sprintf("%s:%s:%s", i.Platform, i.Account, i.UserID)
}

// Mode controls when queued sync operations execute.
type Mode string

// Sync modes.
const (
	// ModeAuto executes operations immediately on enqueue and also on the
	// periodic tick.
	ModeAuto Mode = "auto"

	// ModeDelayed executes operations only on the periodic tick.
	ModeDelayed Mode = "delayed"

	// ModeManual executes operations only via ProcessQueue.
	ModeManual Mode = "manual"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAuto, ModeDelayed, ModeManual:
		return true
	}
	return false
}

// ConflictStrategy selects the winner among conflicting sibling sessions.
type ConflictStrategy string

// Conflict strategies.
const (
	// StrategyLatestWins picks the session with the strictly greatest
	// last activity.
	StrategyLatestWins ConflictStrategy = "latest_wins"

	// StrategySourcePriority picks the first session on the configured
	// priority platform, falling back to latest_wins when none matches.
	StrategySourcePriority ConflictStrategy = "source_priority"

	// StrategyManual picks the first candidate and always flags the
	// resolution for human review.
	StrategyManual ConflictStrategy = "manual"
)

// Valid reports whether s is a known strategy.
func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategyLatestWins, StrategySourcePriority, StrategyManual:
		return true
	}
	return false
}

// OpStatus is the lifecycle of a queued sync operation.
type OpStatus string

// Operation states.
const (
	OpPending   OpStatus = "pending"
	OpSyncing   OpStatus = "syncing"
	OpCompleted OpStatus = "completed"
	OpFailed    OpStatus = "failed"
)

// Operation is one queued sync request.
type Operation struct {
	// ID uniquely identifies the operation.
	ID string `json:"id"`

	// SourceID is the session whose content will be propagated.
	SourceID string `json:"source_id"`

	// Status is the current lifecycle state.
	Status OpStatus `json:"status"`

	// Retries counts failed execution attempts so far.
	Retries int `json:"retries"`

	// EnqueuedAt is when the operation was queued.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// UpdatedAt is when the status last changed.
	UpdatedAt time.Time `json:"updated_at"`

	// Error holds the most recent failure, if any.
	Error string `json:"error,omitempty"`
}

// SyncResult reports one sync broadcast from a source to its siblings.
type SyncResult struct {
	// SourceID is the propagated session.
	SourceID string `json:"source_id"`

	// Synced counts siblings successfully updated.
	Synced int `json:"synced"`

	// Failed counts siblings that could not be updated.
	Failed int `json:"failed"`

	// Errors holds one message per failed sibling.
	Errors []string `json:"errors,omitempty"`
}

// Resolution is the outcome of a conflict resolution.
type Resolution struct {
	// WinnerID is the chosen session.
	WinnerID string `json:"winner_id"`

	// Strategy is what picked the winner.
	Strategy ConflictStrategy `json:"strategy"`

	// Flagged marks resolutions that need human review.
	Flagged bool `json:"flagged"`
}

// Syncer links sessions to identities and propagates content between
// siblings.
type Syncer interface {
	// Register links a session to an identity.
	Register(sessionID string, identity Identity) error

	// Unregister removes a session's identity link.
	Unregister(sessionID string) error

	// Identity returns a session's identity, if registered.
	Identity(sessionID string) (Identity, bool)

	// Siblings returns the other sessions sharing the session's identity.
	Siblings(sessionID string) []string

	// SyncSessions merges the source session's content into every
	// sibling, immediately and synchronously.
	SyncSessions(ctx context.Context, sourceID string) (*SyncResult, error)

	// Enqueue queues a sync operation for the source session and returns
	// the operation ID. In auto mode it also triggers execution.
	Enqueue(ctx context.Context, sourceID string) (string, error)

	// ProcessQueue executes all pending operations.
	ProcessQueue(ctx context.Context) error

	// Operations returns a snapshot of the queue, oldest first.
	Operations() []Operation

	// ResolveConflicts picks a winner among the candidate sessions.
	ResolveConflicts(ctx context.Context, sessionIDs []string, strategy ConflictStrategy) (*Resolution, error)

	// Start launches the periodic sync loop (auto and delayed modes).
	Start(ctx context.Context) error

	// Stop terminates the loop and waits for in-flight work.
	Stop() error
}

// Configuration defaults.
const (
	// DefaultSyncInterval is the periodic queue processing cadence.
	DefaultSyncInterval = time.Minute

	// DefaultMaxRetries bounds attempts per queued operation.
	DefaultMaxRetries = 3

	// DefaultMaxConcurrent bounds operations executing at once.
	DefaultMaxConcurrent = 4
)

// Config contains syncer configuration.
type Config struct {
	// Mode controls when queued operations execute. Default: auto.
	Mode Mode

	// SyncInterval is the periodic tick. Default: 1m.
	SyncInterval time.Duration

	// MaxRetries bounds attempts per operation. Default: 3.
	MaxRetries int

	// MaxConcurrent bounds concurrently executing operations. Default: 4.
	MaxConcurrent int64

	// PriorityPlatform is consulted by the source_priority strategy.
	PriorityPlatform session.Platform
}
