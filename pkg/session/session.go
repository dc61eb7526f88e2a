package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New creates a session for the given identity tuple with default policy
// metadata (max_history=50, idle_timeout=3600s, status=active, no absolute
// expiry).
func New(chatID, userID string, platform Platform, sessionType Type) *Session {
	now := time.Now().UTC()

	return &Session{
		ID:           uuid.New().String(),
		ChatID:       chatID,
		UserID:       userID,
		Platform:     platform,
		Type:         sessionType,
		CreatedAt:    now,
		LastActivity: now,
		Data:         make(map[string]Value),
		Metadata: map[string]Value{
			MetaMaxHistory:  Number(DefaultMaxHistory),
			MetaIdleTimeout: Number(DefaultIdleTimeout.Seconds()),
			MetaStatus:      String(string(StatusActive)),
		},
	}
}

// NewMessage creates a message value object with a fresh ID and timestamp.
func NewMessage(content, userID, messageType string) Message {
	if messageType == "" {
		messageType = MessageText
	}
	return Message{
		ID:        uuid.New().String(),
		Content:   content,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Type:      messageType,
	}
}

// Status returns the lifecycle status from metadata, defaulting to active
// when unset or malformed.
func (s *Session) Status() Status {
	if v, ok := s.Metadata[MetaStatus]; ok {
		if str, isStr := v.Str(); isStr && Status(str).Valid() {
			return Status(str)
		}
	}
	return StatusActive
}

// SetStatus writes the lifecycle status into metadata.
//
// Callers must not use this directly: status transitions go through the
// state tracker, which is the only component allowed to call SetStatus.
func (s *Session) SetStatus(status Status) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]Value)
	}
	s.Metadata[MetaStatus] = String(string(status))
}

// MaxHistory returns the conversation history bound from metadata,
// defaulting to DefaultMaxHistory. A non-positive value disables the bound.
func (s *Session) MaxHistory() int {
	if v, ok := s.Metadata[MetaMaxHistory]; ok {
		if n, isNum := v.Num(); isNum {
			return int(n)
		}
	}
	return DefaultMaxHistory
}

// IdleTimeout returns the idle timeout from metadata, defaulting to
// DefaultIdleTimeout. Zero disables idle expiry.
func (s *Session) IdleTimeout() time.Duration {
	if v, ok := s.Metadata[MetaIdleTimeout]; ok {
		if n, isNum := v.Num(); isNum {
			return time.Duration(n * float64(time.Second))
		}
	}
	return DefaultIdleTimeout
}

// ExpiresIn returns the absolute lifetime from metadata and whether one is
// set.
func (s *Session) ExpiresIn() (time.Duration, bool) {
	if v, ok := s.Metadata[MetaExpiresIn]; ok {
		if n, isNum := v.Num(); isNum {
			return time.Duration(n * float64(time.Second)), true
		}
	}
	return 0, false
}

// SetExpiresIn sets the absolute lifetime policy knob.
func (s *Session) SetExpiresIn(d time.Duration) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]Value)
	}
	s.Metadata[MetaExpiresIn] = Number(d.Seconds())
}

// Touch advances LastActivity to now. LastActivity never moves backwards.
func (s *Session) Touch() {
	now := time.Now().UTC()
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// AddMessage appends a message to the history, filling in the session's
// identity fields and evicting the oldest entries once the history exceeds
// MaxHistory. It advances LastActivity.
func (s *Session) AddMessage(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = MessageText
	}
	msg.SessionID = s.ID
	if msg.ChatID == "" {
		msg.ChatID = s.ChatID
	}
	if msg.Platform == "" {
		msg.Platform = s.Platform
	}

	s.History = append(s.History, msg)

	if max := s.MaxHistory(); max > 0 && len(s.History) > max {
		// Evict oldest first.
		s.History = append(s.History[:0:0], s.History[len(s.History)-max:]...)
	}

	s.Touch()
	return msg
}

// IsExpired reports whether the session's absolute lifetime has elapsed at
// the given time. Sessions without expires_in never expire by age.
func (s *Session) IsExpired(now time.Time) bool {
	ttl, ok := s.ExpiresIn()
	if !ok {
		return false
	}
	return now.After(s.CreatedAt.Add(ttl))
}

// IsIdleTimedOut reports whether the session has been inactive longer than
// its idle timeout at the given time.
func (s *Session) IsIdleTimedOut(now time.Time) bool {
	timeout := s.IdleTimeout()
	if timeout <= 0 {
		return false
	}
	return now.Sub(s.LastActivity) > timeout
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Data = CloneValues(s.Data)
	clone.Metadata = CloneValues(s.Metadata)

	if s.ChildIDs != nil {
		clone.ChildIDs = append([]string(nil), s.ChildIDs...)
	}
	if s.History != nil {
		clone.History = append([]Message(nil), s.History...)
	}

	return &clone
}

// Validate checks the session against the entity invariants. All returned
// errors wrap ErrInvalidSession.
func (s *Session) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrMissingID)
	case s.ChatID == "":
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrMissingChatID)
	case s.UserID == "":
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrMissingUserID)
	case !s.Platform.Valid():
		return fmt.Errorf("%w: %w: %q", ErrInvalidSession, ErrUnknownPlatform, s.Platform)
	case !s.Type.Valid():
		return fmt.Errorf("%w: %w: %q", ErrInvalidSession, ErrUnknownType, s.Type)
	case !s.Status().Valid():
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrUnknownStatus)
	case s.LastActivity.Before(s.CreatedAt):
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrActivityBeforeCreation)
	}
	return nil
}

// EstimatedSize returns a rough serialized size in bytes, used by
// usage-based expiry rules.
func (s *Session) EstimatedSize() int {
	size := len(s.ID) + len(s.ChatID) + len(s.UserID) + len(s.Platform) + len(s.AIModel)
	for _, m := range s.History {
		size += len(m.ID) + len(m.Content) + len(m.UserID) + 64
	}
	size += 32 * (len(s.Data) + len(s.Metadata) + len(s.ChildIDs))
	return size
}
