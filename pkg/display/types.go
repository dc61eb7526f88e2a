// Package display provides output formatting for engine state.
//
// It supports multiple output formats (table, JSON, simple text) for the
// system status, session lists and the backup catalog.
package display

import (
	"io"

	"github.com/0xmhha/session-engine/pkg/backup"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/system"
)

// Format represents an output format.
type Format string

const (
	// FormatTable displays data in a formatted table.
	FormatTable Format = "table"

	// FormatJSON displays data as JSON.
	FormatJSON Format = "json"

	// FormatSimple displays data in simple text format.
	FormatSimple Format = "simple"
)

// Formatter formats and displays engine state.
type Formatter interface {
	// FormatStatus formats a system status snapshot.
	//
	// Parameters:
	//   - w: Output writer
	//   - status: Status to format
	//
	// Returns error if formatting fails.
	FormatStatus(w io.Writer, status system.Status) error

	// FormatSessions formats a session list.
	//
	// Parameters:
	//   - w: Output writer
	//   - sessions: Sessions to format
	//
	// Returns error if formatting fails.
	FormatSessions(w io.Writer, sessions []*session.Session) error

	// FormatBackups formats backup catalog entries.
	//
	// Parameters:
	//   - w: Output writer
	//   - backups: Catalog entries to format
	//
	// Returns error if formatting fails.
	FormatBackups(w io.Writer, backups []backup.Metadata) error
}

// Config contains formatter configuration.
type Config struct {
	// Format specifies the output format.
	// Default: FormatTable.
	Format Format

	// ShowTimestamps enables timestamp display.
	// Default: true.
	ShowTimestamps bool

	// Compact enables compact output (less whitespace).
	// Default: false.
	Compact bool
}
