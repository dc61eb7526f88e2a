package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
)

// sqliteStore implements Store on a single-file SQLite database: one
// sessions table keyed by session_id with secondary indexes on user_id,
// chat_id, platform and last_activity. Structured fields (data, metadata,
// child_sessions, conversation_history) are serialized into a JSON text
// column.
type sqliteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// sessionBody carries the structured fields stored in the body column.
type sessionBody struct {
	Data     map[string]session.Value `json:"data,omitempty"`
	Metadata map[string]session.Value `json:"metadata,omitempty"`
	ChildIDs []string                 `json:"child_sessions,omitempty"`
	History  []session.Message        `json:"conversation_history,omitempty"`
}

// NewSQLite creates a SQLite-backed session store at the given path.
//
// Parameters:
//   - path: Database file path (parent directory created if absent)
//   - log: Logger instance
//
// Returns:
//   - Configured Store
//   - Error if the database cannot be opened or migrated
func NewSQLite(path string, log logger.Logger) (Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %w", ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrStorage, err)
	}

	// The store assumes a single owning process; one connection avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	s := &sqliteStore{db: db, logger: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("sqlite store opened", "path", path)
	return s, nil
}

// migrate creates the schema if it does not exist.
func (s *sqliteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			session_type TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_activity TEXT NOT NULL,
			parent_session TEXT,
			ai_model TEXT,
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_chat ON sessions(chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_platform ON sessions(platform)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("%w: migration failed: %w", ErrStorage, err)
		}
	}
	return nil
}

// Create implements Store.Create.
func (s *sqliteStore) Create(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	body, err := encodeBody(sess)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, chat_id, user_id, platform, session_type,
			status, created_at, last_activity, parent_session, ai_model, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ChatID, sess.UserID, string(sess.Platform), string(sess.Type),
		string(sess.Status()), encodeTime(sess.CreatedAt), encodeTime(sess.LastActivity),
		sess.ParentID, sess.AIModel, body)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateID
		}
		return fmt.Errorf("%w: insert session: %w", ErrStorage, err)
	}
	return nil
}

// Get implements Store.Get.
func (s *sqliteStore) Get(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if retired(sess, time.Now().UTC()) {
		if _, delErr := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE session_id = ?`, id); delErr != nil {
			return nil, fmt.Errorf("%w: evict session: %w", ErrStorage, delErr)
		}
		s.logger.Debug("lazily evicted session", "session_id", id)
		return nil, ErrNotFound
	}

	return sess, nil
}

// Update implements Store.Update.
func (s *sqliteStore) Update(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	body, err := encodeBody(sess)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET chat_id = ?, user_id = ?, platform = ?, session_type = ?,
			status = ?, created_at = ?, last_activity = ?, parent_session = ?,
			ai_model = ?, body = ?
		 WHERE session_id = ?`,
		sess.ChatID, sess.UserID, string(sess.Platform), string(sess.Type),
		string(sess.Status()), encodeTime(sess.CreatedAt), encodeTime(sess.LastActivity),
		sess.ParentID, sess.AIModel, body, sess.ID)
	if err != nil {
		return fmt.Errorf("%w: update session: %w", ErrStorage, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrStorage, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements Store.Delete.
func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete session: %w", ErrStorage, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrStorage, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Find implements Store.Find.
func (s *sqliteStore) Find(ctx context.Context, filter Filter) ([]*session.Session, error) {
	query := `SELECT body, session_id, chat_id, user_id, platform, session_type,
		created_at, last_activity, parent_session, ai_model FROM sessions`

	var conds []string
	var args []interface{}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ChatID != "" {
		conds = append(conds, "chat_id = ?")
		args = append(args, filter.ChatID)
	}
	if filter.Platform != "" {
		conds = append(conds, "platform = ?")
		args = append(args, string(filter.Platform))
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		conds = append(conds, "session_type = ?")
		args = append(args, string(filter.Type))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query sessions: %w", ErrStorage, err)
	}
	defer rows.Close()

	var results []*session.Session
	for rows.Next() {
		sess, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate sessions: %w", ErrStorage, err)
	}

	sortSessions(results)
	return results, nil
}

// CleanupExpired implements Store.CleanupExpired.
func (s *sqliteStore) CleanupExpired(ctx context.Context) (int, error) {
	// Expiry depends on per-session metadata, so candidates are evaluated
	// in Go over a point-in-time row set rather than in SQL.
	sessions, err := s.Find(ctx, Filter{})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	removed := 0
	for _, sess := range sessions {
		if !retired(sess, now) {
			continue
		}
		res, delErr := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE session_id = ?`, sess.ID)
		if delErr != nil {
			return removed, fmt.Errorf("%w: delete expired session: %w", ErrStorage, delErr)
		}
		// Rows deleted concurrently do not fail the scan.
		if n, _ := res.RowsAffected(); n > 0 {
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("cleanup removed sessions", "count", removed)
	}
	return removed, nil
}

// Count implements Store.Count.
func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count sessions: %w", ErrStorage, err)
	}
	return count, nil
}

// Close implements Store.Close.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// fetch reads one row without the lazy-expiry side effect.
func (s *sqliteStore) fetch(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body, session_id, chat_id, user_id, platform, session_type,
			created_at, last_activity, parent_session, ai_model
		 FROM sessions WHERE session_id = ?`, id)

	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession rebuilds a session from a row.
func scanSession(row rowScanner) (*session.Session, error) {
	var (
		body, id, chatID, userID, platform, sessType string
		createdAt, lastActivity                      string
		parentID, aiModel                            sql.NullString
	)

	if err := row.Scan(&body, &id, &chatID, &userID, &platform, &sessType,
		&createdAt, &lastActivity, &parentID, &aiModel); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan session: %w", ErrStorage, err)
	}

	var decoded sessionBody
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode session body: %w", ErrStorage, err)
	}

	created, err := decodeTime(createdAt)
	if err != nil {
		return nil, err
	}
	activity, err := decodeTime(lastActivity)
	if err != nil {
		return nil, err
	}

	return &session.Session{
		ID:           id,
		ChatID:       chatID,
		UserID:       userID,
		Platform:     session.Platform(platform),
		Type:         session.Type(sessType),
		CreatedAt:    created,
		LastActivity: activity,
		Data:         decoded.Data,
		Metadata:     decoded.Metadata,
		ParentID:     parentID.String,
		ChildIDs:     decoded.ChildIDs,
		AIModel:      aiModel.String,
		History:      decoded.History,
	}, nil
}

// encodeBody serializes the structured fields into the body column.
func encodeBody(sess *session.Session) (string, error) {
	data, err := json.Marshal(sessionBody{
		Data:     sess.Data,
		Metadata: sess.Metadata,
		ChildIDs: sess.ChildIDs,
		History:  sess.History,
	})
	if err != nil {
		return "", fmt.Errorf("encode session body: %w", err)
	}
	return string(data), nil
}

// Timestamps are stored as RFC 3339 with nanoseconds so lexicographic order
// in the last_activity index matches chronological order.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse timestamp: %w", ErrStorage, err)
	}
	return t, nil
}
