package display

import (
	"fmt"
	"io"

	"github.com/0xmhha/session-engine/pkg/backup"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/system"
)

// simpleFormatter formats output as simple text.
type simpleFormatter struct {
	config Config
}

// FormatStatus implements Formatter.FormatStatus.
func (f *simpleFormatter) FormatStatus(w io.Writer, status system.Status) error {
	state := "stopped"
	if status.Running {
		state = "running"
	}

	_, err := fmt.Fprintf(w, "%s | backend: %s | sessions: %s | backups: %d | pending sync: %d | uptime: %s\n",
		state,
		status.Backend,
		formatNumber(status.SessionCount),
		status.BackupCount,
		status.PendingSyncOps,
		formatDuration(status.Uptime))
	return err
}

// FormatSessions implements Formatter.FormatSessions.
func (f *simpleFormatter) FormatSessions(w io.Writer, sessions []*session.Session) error {
	for _, sess := range sessions {
		if _, err := fmt.Fprintf(w, "%s [%s/%s] %s: %d messages, last active %s\n",
			sess.ID,
			sess.Platform,
			sess.Type,
			sess.Status(),
			len(sess.History),
			sess.LastActivity.Format("2006-01-02 15:04:05")); err != nil {
			return err
		}
	}

	return nil
}

// FormatBackups implements Formatter.FormatBackups.
func (f *simpleFormatter) FormatBackups(w io.Writer, backups []backup.Metadata) error {
	for _, meta := range backups {
		if _, err := fmt.Fprintf(w, "%s: %d sessions, %s (%s), created %s\n",
			meta.ID,
			meta.SessionCount,
			meta.Format,
			formatBytes(meta.SizeBytes),
			meta.CreatedAt.Format("2006-01-02 15:04:05")); err != nil {
			return err
		}
	}

	return nil
}
