package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/0xmhha/session-engine/pkg/backup"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/system"
)

// tableFormatter formats output as tables.
type tableFormatter struct {
	config Config
}

// FormatStatus implements Formatter.FormatStatus.
func (f *tableFormatter) FormatStatus(w io.Writer, status system.Status) error {
	if err := writeHeader(w, "Session Engine Status", f.config.Compact); err != nil {
		return err
	}

	state := "stopped"
	if status.Running {
		state = "running"
	}

	rows := [][]string{
		{"State", state},
		{"Backend", status.Backend},
		{"Sessions", formatNumber(status.SessionCount)},
		{"Backups", formatNumber(status.BackupCount)},
		{"Pending Sync Ops", formatNumber(status.PendingSyncOps)},
		{"Expiry Runs", formatNumber(status.Expiry.Runs)},
		{"Expiry Errors", formatNumber(status.Expiry.Errors)},
	}

	for action, count := range status.Expiry.ActionCounts {
		rows = append(rows, []string{
			fmt.Sprintf("Expiry %s", action),
			formatNumber(count),
		})
	}

	if status.Running {
		rows = append(rows, []string{"Uptime", formatDuration(status.Uptime)})
	}

	if f.config.ShowTimestamps && !status.StartedAt.IsZero() {
		rows = append(rows,
			[]string{"Started At", status.StartedAt.Format("2006-01-02 15:04:05")})
	}
	if f.config.ShowTimestamps && !status.Expiry.LastRun.IsZero() {
		rows = append(rows,
			[]string{"Last Expiry Run", status.Expiry.LastRun.Format("2006-01-02 15:04:05")})
	}

	return f.writeTable(w, []string{"Metric", "Value"}, rows)
}

// FormatSessions implements Formatter.FormatSessions.
func (f *tableFormatter) FormatSessions(w io.Writer, sessions []*session.Session) error {
	if err := writeHeader(w, "Sessions", f.config.Compact); err != nil {
		return err
	}

	header := []string{"Session ID", "Platform", "Chat", "User", "Type", "Status", "Msgs", "Last Activity"}

	// Narrow terminals get truncated IDs.
	idWidth := 36
	if width := terminalWidth(w); width > 0 && width < 120 {
		idWidth = 12
	}

	rows := make([][]string, len(sessions))
	for i, sess := range sessions {
		lastActivity := ""
		if f.config.ShowTimestamps {
			lastActivity = sess.LastActivity.Format("2006-01-02 15:04:05")
		}

		rows[i] = []string{
			truncateID(sess.ID, idWidth),
			string(sess.Platform),
			sess.ChatID,
			sess.UserID,
			string(sess.Type),
			string(sess.Status()),
			formatNumber(len(sess.History)),
			lastActivity,
		}
	}

	return f.writeTable(w, header, rows)
}

// FormatBackups implements Formatter.FormatBackups.
func (f *tableFormatter) FormatBackups(w io.Writer, backups []backup.Metadata) error {
	if err := writeHeader(w, "Backups", f.config.Compact); err != nil {
		return err
	}

	header := []string{"Backup ID", "Created", "Format", "Gzip", "Sessions", "Size", "Checksum"}

	rows := make([][]string, len(backups))
	for i, meta := range backups {
		compressed := "no"
		if meta.Compressed {
			compressed = "yes"
		}

		rows[i] = []string{
			meta.ID,
			meta.CreatedAt.Format("2006-01-02 15:04:05"),
			string(meta.Format),
			compressed,
			formatNumber(meta.SessionCount),
			formatBytes(meta.SizeBytes),
			truncateID(meta.Checksum, 11),
		}
	}

	return f.writeTable(w, header, rows)
}

// writeTable writes a formatted table.
func (f *tableFormatter) writeTable(w io.Writer, header []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No data")
		return err
	}

	// Calculate column widths.
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	// Write header.
	if err := f.writeRow(w, header, widths); err != nil {
		return err
	}

	// Write separator.
	if !f.config.Compact {
		separator := make([]string, len(header))
		for i, width := range widths {
			separator[i] = strings.Repeat("-", width)
		}
		if err := f.writeRow(w, separator, widths); err != nil {
			return err
		}
	}

	// Write rows.
	for _, row := range rows {
		if err := f.writeRow(w, row, widths); err != nil {
			return err
		}
	}

	// Add spacing.
	if !f.config.Compact {
		_, err := fmt.Fprintln(w)
		return err
	}

	return nil
}

// writeRow writes a single table row.
func (f *tableFormatter) writeRow(w io.Writer, cells []string, widths []int) error {
	for i, cell := range cells {
		if i > 0 {
			if f.config.Compact {
				if _, err := fmt.Fprint(w, " "); err != nil {
					return err
				}
			} else {
				if _, err := fmt.Fprint(w, "  "); err != nil {
					return err
				}
			}
		}

		format := fmt.Sprintf("%%-%ds", widths[i])
		if _, err := fmt.Fprintf(w, format, cell); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w)
	return err
}
