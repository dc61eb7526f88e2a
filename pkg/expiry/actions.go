package expiry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/0xmhha/session-engine/pkg/session"
)

// archiveTimeFormat keeps archive file names sortable.
const archiveTimeFormat = "20060102T150405Z"

// archiveEnvelope wraps an archived session with provenance.
type archiveEnvelope struct {
	ArchivedAt time.Time        `json:"archived_at"`
	RuleID     string           `json:"rule_id"`
	RuleName   string           `json:"rule_name"`
	Session    *session.Session `json:"session"`
}

// execute runs the first configured action of the winning rule.
func (m *expiryManager) execute(ctx context.Context, rule Rule, sess *session.Session) error {
	switch rule.Actions[0] {
	case ActionArchive:
		return m.archive(rule, sess)
	case ActionDelete:
		return m.store.Delete(ctx, sess.ID)
	case ActionSuspend:
		sess.SetStatus(session.StatusSuspended)
		return m.store.Update(ctx, sess)
	case ActionNotify:
		m.notify(rule, sess)
		return nil
	case ActionExport:
		return m.export(sess)
	}
	return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, rule.Actions[0])
}

// archive serializes the session with an envelope to a dated file under the
// archive directory.
func (m *expiryManager) archive(rule Rule, sess *session.Session) error {
	envelope := archiveEnvelope{
		ArchivedAt: time.Now().UTC(),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Session:    sess,
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize archive: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", sess.ID, envelope.ArchivedAt.Format(archiveTimeFormat))
	return writeArchiveFile(m.config.ArchiveDir, name, data)
}

// export serializes the bare session under the exports sub-directory.
func (m *expiryManager) export(sess *session.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize export: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", sess.ID, time.Now().UTC().Format(archiveTimeFormat))
	return writeArchiveFile(filepath.Join(m.config.ArchiveDir, "exports"), name, data)
}

// notify invokes every registered callback. A panicking callback is logged
// and never aborts the pass or skips the remaining callbacks.
func (m *expiryManager) notify(rule Rule, sess *session.Session) {
	payload := Notification{
		SessionID: sess.ID,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Timestamp: time.Now().UTC(),
	}

	m.mu.RLock()
	notifiers := append([]NotifyFunc(nil), m.notifiers...)
	m.mu.RUnlock()

	for _, fn := range notifiers {
		m.invokeNotifier(fn, payload)
	}
}

func (m *expiryManager) invokeNotifier(fn NotifyFunc, payload Notification) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("notification callback panicked",
				"session_id", payload.SessionID,
				"rule_id", payload.RuleID,
				"panic", r)
		}
	}()
	fn(payload)
}

// writeArchiveFile writes atomically via a temp file so a crashed pass
// never leaves a truncated archive behind.
func writeArchiveFile(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}
