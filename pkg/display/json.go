package display

import (
	"encoding/json"
	"io"

	"github.com/0xmhha/session-engine/pkg/backup"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/system"
)

// jsonFormatter formats output as JSON.
type jsonFormatter struct {
	config Config
}

// FormatStatus implements Formatter.FormatStatus.
func (f *jsonFormatter) FormatStatus(w io.Writer, status system.Status) error {
	encoder := json.NewEncoder(w)
	if !f.config.Compact {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(status)
}

// FormatSessions implements Formatter.FormatSessions.
func (f *jsonFormatter) FormatSessions(w io.Writer, sessions []*session.Session) error {
	encoder := json.NewEncoder(w)
	if !f.config.Compact {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(sessions)
}

// FormatBackups implements Formatter.FormatBackups.
func (f *jsonFormatter) FormatBackups(w io.Writer, backups []backup.Metadata) error {
	encoder := json.NewEncoder(w)
	if !f.config.Compact {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(backups)
}
