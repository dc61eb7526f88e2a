package backup

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0xmhha/session-engine/pkg/session"
)

// csvHeader is the column layout of the CSV format. Structured fields are
// embedded as JSON strings.
var csvHeader = []string{
	"session_id", "chat_id", "user_id", "platform", "session_type",
	"created_at", "last_activity", "parent_session", "ai_model",
	"data", "metadata", "child_sessions", "conversation_history",
}

// encodeSessions serializes sessions in the given format.
func encodeSessions(format Format, sessions []*session.Session) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(sessions, "", "  ")
	case FormatJSONL:
		return encodeJSONL(sessions)
	case FormatYAML:
		return encodeYAML(sessions)
	case FormatCSV:
		return encodeCSV(sessions)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
}

// decodeSessions is the inverse of encodeSessions.
func decodeSessions(format Format, data []byte) ([]*session.Session, error) {
	switch format {
	case FormatJSON:
		var sessions []*session.Session
		if err := json.Unmarshal(data, &sessions); err != nil {
			return nil, fmt.Errorf("failed to decode json archive: %w", err)
		}
		return sessions, nil
	case FormatJSONL:
		return decodeJSONL(data)
	case FormatYAML:
		return decodeYAML(data)
	case FormatCSV:
		return decodeCSV(data)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
}

func encodeJSONL(sessions []*session.Session) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, sess := range sessions {
		if err := enc.Encode(sess); err != nil {
			return nil, fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func decodeJSONL(data []byte) ([]*session.Session, error) {
	var sessions []*session.Session
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var sess session.Session
		if err := dec.Decode(&sess); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to decode jsonl archive: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}

// encodeYAML goes through JSON first so the YAML document uses the same
// field names and value encoding as the JSON formats.
func encodeYAML(sessions []*session.Session) ([]byte, error) {
	jsonData, err := json.Marshal(sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sessions: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, fmt.Errorf("failed to rewrap sessions: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to encode yaml archive: %w", err)
	}
	return out, nil
}

func decodeYAML(data []byte) ([]*session.Session, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to decode yaml archive: %w", err)
	}
	jsonData, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrap yaml archive: %w", err)
	}
	var sessions []*session.Session
	if err := json.Unmarshal(jsonData, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode yaml archive: %w", err)
	}
	return sessions, nil
}

func encodeCSV(sessions []*session.Session) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, sess := range sessions {
		record, err := csvRecord(sess)
		if err != nil {
			return nil, err
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv row for %s: %w", sess.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv archive: %w", err)
	}
	return buf.Bytes(), nil
}

func csvRecord(sess *session.Session) ([]string, error) {
	data, err := json.Marshal(sess.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data for %s: %w", sess.ID, err)
	}
	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata for %s: %w", sess.ID, err)
	}
	children, err := json.Marshal(sess.ChildIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode children for %s: %w", sess.ID, err)
	}
	history, err := json.Marshal(sess.History)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history for %s: %w", sess.ID, err)
	}

	return []string{
		sess.ID,
		sess.ChatID,
		sess.UserID,
		string(sess.Platform),
		string(sess.Type),
		sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		sess.LastActivity.UTC().Format(time.RFC3339Nano),
		sess.ParentID,
		sess.AIModel,
		string(data),
		string(metadata),
		string(children),
		string(history),
	}, nil
}

func decodeCSV(data []byte) ([]*session.Session, error) {
	r := csv.NewReader(bytes.NewReader(data))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to decode csv archive: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows[0]) != len(csvHeader) || rows[0][0] != csvHeader[0] {
		return nil, fmt.Errorf("%w: unexpected csv header %v", ErrInvalidFormat, rows[0])
	}

	sessions := make([]*session.Session, 0, len(rows)-1)
	for i, row := range rows[1:] {
		sess, err := sessionFromCSV(row)
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", i+2, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func sessionFromCSV(row []string) (*session.Session, error) {
	if len(row) != len(csvHeader) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(csvHeader), len(row))
	}

	createdAt, err := time.Parse(time.RFC3339Nano, row[5])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	lastActivity, err := time.Parse(time.RFC3339Nano, row[6])
	if err != nil {
		return nil, fmt.Errorf("invalid last_activity: %w", err)
	}

	sess := &session.Session{
		ID:           row[0],
		ChatID:       row[1],
		UserID:       row[2],
		Platform:     session.Platform(row[3]),
		Type:         session.Type(row[4]),
		CreatedAt:    createdAt.UTC(),
		LastActivity: lastActivity.UTC(),
		ParentID:     row[7],
		AIModel:      row[8],
	}
	if err := json.Unmarshal([]byte(row[9]), &sess.Data); err != nil {
		return nil, fmt.Errorf("invalid data column: %w", err)
	}
	if err := json.Unmarshal([]byte(row[10]), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata column: %w", err)
	}
	if err := json.Unmarshal([]byte(row[11]), &sess.ChildIDs); err != nil {
		return nil, fmt.Errorf("invalid child_sessions column: %w", err)
	}
	if err := json.Unmarshal([]byte(row[12]), &sess.History); err != nil {
		return nil, fmt.Errorf("invalid conversation_history column: %w", err)
	}
	return sess, nil
}

// compress gzips an encoded archive.
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compressed archive: %w", err)
	}
	return buf.Bytes(), nil
}

// decompress reverses compress.
func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed archive: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress archive: %w", err)
	}
	return out, nil
}

// archiveFileName builds the archive name for a backup.
func archiveFileName(id string, format Format, compressed bool) string {
	name := fmt.Sprintf("%s.%s", id, format)
	if compressed {
		name += ".gz"
	}
	return name
}

// parseFormatFromPath guesses a format from a file extension, used by
// import when the caller passes no explicit format.
func parseFormatFromPath(path string) (Format, bool) {
	trimmed := strings.TrimSuffix(path, ".gz")
	switch {
	case strings.HasSuffix(trimmed, ".json"):
		return FormatJSON, true
	case strings.HasSuffix(trimmed, ".jsonl"):
		return FormatJSONL, true
	case strings.HasSuffix(trimmed, ".yaml"), strings.HasSuffix(trimmed, ".yml"):
		return FormatYAML, true
	case strings.HasSuffix(trimmed, ".csv"):
		return FormatCSV, true
	}
	return "", false
}
