// Package backup snapshots the session store into durable archives and
// restores them.
//
// A backup is one archive file per run plus an entry in a shared
// backup_metadata.json catalog. Archives come in four formats (json, jsonl,
// yaml, csv), each optionally gzip-compressed, and carry a SHA-256 checksum
// so a restore can tell when an archive was altered. Single-session export
// and import reuse the same codecs at single-record granularity.
package backup

import (
	"context"
	"time"

	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
)

// Format is the serialization format of a backup archive.
type Format string

// Archive formats.
const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
	FormatCSV   Format = "csv"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatJSON, FormatJSONL, FormatYAML, FormatCSV:
		return true
	}
	return false
}

// Strategy selects how restored sessions interact with existing ones.
type Strategy string

// Recovery strategies.
const (
	// StrategyReplace overwrites existing sessions with the archived copy.
	StrategyReplace Strategy = "replace"

	// StrategySkipExisting leaves existing sessions untouched.
	StrategySkipExisting Strategy = "skip_existing"

	// StrategyMerge merges the archived copy into the existing session.
	StrategyMerge Strategy = "merge"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyReplace, StrategySkipExisting, StrategyMerge:
		return true
	}
	return false
}

// Metadata is one catalog entry describing a backup archive.
type Metadata struct {
	// ID uniquely identifies the backup.
	ID string `json:"backup_id"`

	// CreatedAt is when the backup was taken.
	CreatedAt time.Time `json:"created_at"`

	// Format is the archive serialization format.
	Format Format `json:"format"`

	// Compressed marks gzip-compressed archives.
	Compressed bool `json:"compressed"`

	// SessionCount is the number of sessions in the archive.
	SessionCount int `json:"session_count"`

	// SizeBytes is the archive file size as written.
	SizeBytes int64 `json:"size_bytes"`

	// Checksum is the hex SHA-256 of the archive file.
	Checksum string `json:"checksum"`
}

// Options configure one backup run.
type Options struct {
	// Format selects the archive format. Default: json.
	Format Format

	// Compress gzips the archive.
	Compress bool

	// Filter restricts the backup to matching sessions. The zero filter
	// backs up everything.
	Filter store.Filter
}

// RestoreResult reports the outcome of one restore, item by item.
type RestoreResult struct {
	// BackupID is the restored backup.
	BackupID string `json:"backup_id"`

	// Strategy is the recovery strategy applied.
	Strategy Strategy `json:"strategy"`

	// ChecksumValid is false when the archive bytes no longer match the
	// recorded checksum. The restore still proceeds.
	ChecksumValid bool `json:"checksum_valid"`

	// PreBackupID is the safety backup taken before any mutation, empty
	// when disabled.
	PreBackupID string `json:"pre_backup_id,omitempty"`

	// Restored counts sessions written to the store.
	Restored int `json:"restored"`

	// Skipped counts sessions left untouched.
	Skipped int `json:"skipped"`

	// Failed counts sessions that could not be applied.
	Failed int `json:"failed"`

	// Errors holds one message per failed session.
	Errors []string `json:"errors,omitempty"`
}

// VerifyResult reports an integrity check. The backup is valid only when
// all three checks pass.
type VerifyResult struct {
	// BackupID is the verified backup.
	BackupID string `json:"backup_id"`

	// ChecksumValid is true when the file hashes to the recorded checksum.
	ChecksumValid bool `json:"checksum_valid"`

	// SizeValid is true when the file size matches the recorded size.
	SizeValid bool `json:"size_valid"`

	// CountValid is true when the archive decodes to the recorded session
	// count.
	CountValid bool `json:"count_valid"`

	// Valid is the conjunction of the three checks.
	Valid bool `json:"valid"`
}

// Manager creates, restores and verifies backups.
type Manager interface {
	// CreateBackup snapshots matching sessions into a new archive and
	// catalogs it. Older backups beyond the retention limit are deleted
	// afterwards.
	CreateBackup(ctx context.Context, opts Options) (*Metadata, error)

	// RestoreBackup applies an archived snapshot to the store under the
	// given strategy. A checksum mismatch is reported, not fatal.
	RestoreBackup(ctx context.Context, id string, strategy Strategy) (*RestoreResult, error)

	// VerifyIntegrity checks an archive against its catalog entry.
	VerifyIntegrity(id string) (*VerifyResult, error)

	// ListBackups returns catalog entries, newest first.
	ListBackups() ([]Metadata, error)

	// DeleteBackup removes an archive and its catalog entry.
	DeleteBackup(id string) error

	// ExportSession serializes one session to a standalone file.
	ExportSession(ctx context.Context, sessionID, path string, format Format) error

	// ImportSession loads one session from a standalone file into the
	// store. The session is validated before any store mutation.
	ImportSession(ctx context.Context, path string, format Format) (*session.Session, error)

	// MigrateFormat re-encodes an existing backup into a new archive with
	// a fresh ID, leaving the original in place.
	MigrateFormat(id string, format Format, compress bool) (*Metadata, error)
}

// Configuration defaults.
const (
	// DefaultBackupDir is where archives and the catalog live.
	DefaultBackupDir = "backups"

	// DefaultMaxBackups is the default retention limit.
	DefaultMaxBackups = 10
)

// Config contains backup manager configuration.
type Config struct {
	// BackupDir is the archive directory. Default: "backups".
	BackupDir string

	// MaxBackups is how many backups to retain; older ones are deleted
	// after each successful backup. Default: 10. Negative disables
	// retention.
	MaxBackups int

	// SkipPreRestoreBackup disables the automatic safety backup taken
	// before a restore mutates the store.
	SkipPreRestoreBackup bool
}
