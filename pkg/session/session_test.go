package session

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	sess := New("chat-1", "user-1", PlatformTelegram, TypePrivate)

	if sess.ID == "" {
		t.Error("New() assigned empty ID")
	}
	if sess.ChatID != "chat-1" || sess.UserID != "user-1" {
		t.Errorf("New() identity = (%s, %s), want (chat-1, user-1)", sess.ChatID, sess.UserID)
	}
	if sess.Status() != StatusActive {
		t.Errorf("Status() = %s, want active", sess.Status())
	}
	if sess.MaxHistory() != DefaultMaxHistory {
		t.Errorf("MaxHistory() = %d, want %d", sess.MaxHistory(), DefaultMaxHistory)
	}
	if sess.IdleTimeout() != DefaultIdleTimeout {
		t.Errorf("IdleTimeout() = %v, want %v", sess.IdleTimeout(), DefaultIdleTimeout)
	}
	if _, ok := sess.ExpiresIn(); ok {
		t.Error("ExpiresIn() set on fresh session, want unset")
	}
	if sess.LastActivity.Before(sess.CreatedAt) {
		t.Error("LastActivity before CreatedAt")
	}
	if err := sess.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestNewUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess := New("chat", "user", PlatformWeb, TypePrivate)
		if seen[sess.ID] {
			t.Fatalf("duplicate session ID %s", sess.ID)
		}
		seen[sess.ID] = true
	}
}

func TestAddMessageBoundsHistory(t *testing.T) {
	sess := New("chat-1", "user-1", PlatformTelegram, TypePrivate)
	sess.Metadata[MetaMaxHistory] = Number(5)

	for i := 0; i < 10; i++ {
		sess.AddMessage(Message{Content: fmt.Sprintf("msg-%d", i), UserID: "user-1"})
	}

	if len(sess.History) != 5 {
		t.Fatalf("history length = %d, want 5", len(sess.History))
	}

	// Oldest entries are evicted first.
	if sess.History[0].Content != "msg-5" {
		t.Errorf("oldest retained = %s, want msg-5", sess.History[0].Content)
	}
	if sess.History[4].Content != "msg-9" {
		t.Errorf("newest retained = %s, want msg-9", sess.History[4].Content)
	}
}

func TestAddMessageFillsIdentity(t *testing.T) {
	sess := New("chat-1", "user-1", PlatformDiscord, TypeGroup)

	msg := sess.AddMessage(Message{Content: "hello", UserID: "user-1"})

	if msg.ID == "" {
		t.Error("AddMessage() left message ID empty")
	}
	if msg.SessionID != sess.ID {
		t.Errorf("SessionID = %s, want %s", msg.SessionID, sess.ID)
	}
	if msg.ChatID != "chat-1" || msg.Platform != PlatformDiscord {
		t.Errorf("identity = (%s, %s), want (chat-1, discord)", msg.ChatID, msg.Platform)
	}
	if msg.Type != MessageText {
		t.Errorf("Type = %s, want text", msg.Type)
	}
}

func TestIsExpired(t *testing.T) {
	sess := New("chat-1", "user-1", PlatformWeb, TypeTemporary)

	now := time.Now()
	if sess.IsExpired(now) {
		t.Error("session without expires_in reported expired")
	}

	sess.SetExpiresIn(time.Second)
	if sess.IsExpired(now) {
		t.Error("session expired before lifetime elapsed")
	}
	if !sess.IsExpired(sess.CreatedAt.Add(2 * time.Second)) {
		t.Error("session not expired after lifetime elapsed")
	}
}

func TestIsIdleTimedOut(t *testing.T) {
	sess := New("chat-1", "user-1", PlatformWeb, TypePrivate)
	sess.Metadata[MetaIdleTimeout] = Number(10)

	if sess.IsIdleTimedOut(sess.LastActivity.Add(5 * time.Second)) {
		t.Error("session idle-timed-out before timeout elapsed")
	}
	if !sess.IsIdleTimedOut(sess.LastActivity.Add(11 * time.Second)) {
		t.Error("session not idle-timed-out after timeout elapsed")
	}

	// Zero disables idle expiry.
	sess.Metadata[MetaIdleTimeout] = Number(0)
	if sess.IsIdleTimedOut(sess.LastActivity.Add(24 * time.Hour)) {
		t.Error("session with disabled idle timeout reported timed out")
	}
}

func TestTouchMonotonic(t *testing.T) {
	sess := New("chat-1", "user-1", PlatformWeb, TypePrivate)

	future := time.Now().UTC().Add(time.Hour)
	sess.LastActivity = future

	sess.Touch()
	if sess.LastActivity.Before(future) {
		t.Error("Touch() moved LastActivity backwards")
	}
}

func TestClone(t *testing.T) {
	sess := New("chat-1", "user-1", PlatformSlack, TypePrivate)
	sess.Data["topic"] = String("weather")
	sess.ChildIDs = []string{"child-1"}
	sess.AddMessage(Message{Content: "hi", UserID: "user-1"})

	clone := sess.Clone()

	clone.Data["topic"] = String("sports")
	clone.ChildIDs[0] = "other"
	clone.History[0].Content = "changed"
	clone.SetStatus(StatusClosed)

	if v := sess.Data["topic"]; !v.Equal(String("weather")) {
		t.Error("Clone() shares Data map")
	}
	if sess.ChildIDs[0] != "child-1" {
		t.Error("Clone() shares ChildIDs slice")
	}
	if sess.History[0].Content != "hi" {
		t.Error("Clone() shares History slice")
	}
	if sess.Status() != StatusActive {
		t.Error("Clone() shares Metadata map")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Session)
		wantErr error
	}{
		{"valid", func(s *Session) {}, nil},
		{"missing chat", func(s *Session) { s.ChatID = "" }, ErrMissingChatID},
		{"missing user", func(s *Session) { s.UserID = "" }, ErrMissingUserID},
		{"missing id", func(s *Session) { s.ID = "" }, ErrMissingID},
		{"bad platform", func(s *Session) { s.Platform = "carrier-pigeon" }, ErrUnknownPlatform},
		{"bad type", func(s *Session) { s.Type = "imaginary" }, ErrUnknownType},
		{"activity before creation", func(s *Session) {
			s.LastActivity = s.CreatedAt.Add(-time.Minute)
		}, ErrActivityBeforeCreation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := New("chat-1", "user-1", PlatformTelegram, TypePrivate)
			tt.mutate(sess)

			err := sess.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidSession) {
				t.Error("validation error does not wrap ErrInvalidSession")
			}
		})
	}
}
