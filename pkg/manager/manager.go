package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
)

// Sweep defaults.
const (
	defaultCleanupInterval = 5 * time.Minute
	defaultMaxBackoff      = 30 * time.Minute
)

// sessionManager implements the Manager interface.
type sessionManager struct {
	config Config
	store  store.Store
	logger logger.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a session manager on top of the given store.
//
// Parameters:
//   - cfg: Manager configuration
//   - st: Storage backend
//   - log: Logger instance
//
// Returns a configured Manager.
func New(cfg Config, st store.Store, log logger.Logger) Manager {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	return &sessionManager{
		config: cfg,
		store:  st,
		logger: log,
	}
}

// CreateSession implements Manager.CreateSession.
func (m *sessionManager) CreateSession(ctx context.Context, params Params) (*session.Session, error) {
	if params.Type == "" {
		params.Type = session.TypePrivate
	}

	sess := session.New(params.ChatID, params.UserID, params.Platform, params.Type)
	sess.AIModel = params.AIModel
	for k, v := range params.Metadata {
		sess.Metadata[k] = v.Clone()
	}

	var parent *session.Session
	if params.ParentID != "" {
		var err error
		parent, err = m.store.Get(ctx, params.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrParentNotFound, params.ParentID)
			}
			return nil, err
		}
		sess.ParentID = parent.ID
	}

	if err := m.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	if parent != nil {
		parent.ChildIDs = append(parent.ChildIDs, sess.ID)
		if err := m.store.Update(ctx, parent); err != nil {
			// The whole operation fails; undo the half-created child.
			if delErr := m.store.Delete(ctx, sess.ID); delErr != nil {
				m.logger.Error("rollback of child session failed",
					"session_id", sess.ID, "error", delErr)
			}
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrParentNotFound, params.ParentID)
			}
			return nil, err
		}
	}

	m.logger.Info("session created",
		"session_id", sess.ID,
		"platform", sess.Platform,
		"user_id", sess.UserID,
		"parent", sess.ParentID)
	return sess, nil
}

// CreateSessionFromMessage implements Manager.CreateSessionFromMessage.
func (m *sessionManager) CreateSessionFromMessage(ctx context.Context, msg session.Message, sessionType session.Type) (*session.Session, error) {
	sess, err := m.CreateSession(ctx, Params{
		ChatID:   msg.ChatID,
		UserID:   msg.UserID,
		Platform: msg.Platform,
		Type:     sessionType,
	})
	if err != nil {
		return nil, err
	}
	return m.AddMessage(ctx, sess.ID, msg)
}

// GetSession implements Manager.GetSession.
func (m *sessionManager) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return m.store.Get(ctx, id)
}

// GetUserSession implements Manager.GetUserSession.
func (m *sessionManager) GetUserSession(ctx context.Context, userID, chatID string, platform session.Platform) (*session.Session, error) {
	matches, err := m.store.Find(ctx, store.Filter{
		UserID:   userID,
		ChatID:   chatID,
		Platform: platform,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, store.ErrNotFound
	}

	latest := matches[0]
	for _, sess := range matches[1:] {
		if sess.LastActivity.After(latest.LastActivity) {
			latest = sess
		}
	}
	return latest, nil
}

// FindSessions implements Manager.FindSessions.
func (m *sessionManager) FindSessions(ctx context.Context, filter store.Filter) ([]*session.Session, error) {
	return m.store.Find(ctx, filter)
}

// UpdateSession implements Manager.UpdateSession.
func (m *sessionManager) UpdateSession(ctx context.Context, sess *session.Session) error {
	return m.store.Update(ctx, sess)
}

// DeleteSession implements Manager.DeleteSession.
func (m *sessionManager) DeleteSession(ctx context.Context, id string) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}

	// Depth-first cascade over descendants. Children already gone are not
	// an error.
	for _, childID := range sess.ChildIDs {
		if err := m.DeleteSession(ctx, childID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete child %s: %w", childID, err)
		}
	}

	if sess.ParentID != "" {
		if err := m.detachFromParent(ctx, sess.ParentID, id); err != nil {
			return err
		}
	}

	if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	m.logger.Info("session deleted", "session_id", id, "children", len(sess.ChildIDs))
	return nil
}

// detachFromParent removes the child reference from the parent's relation
// list. A vanished parent is fine.
func (m *sessionManager) detachFromParent(ctx context.Context, parentID, childID string) error {
	parent, err := m.store.Get(ctx, parentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	kept := parent.ChildIDs[:0]
	for _, id := range parent.ChildIDs {
		if id != childID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(parent.ChildIDs) {
		return nil
	}
	parent.ChildIDs = kept

	if err := m.store.Update(ctx, parent); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// AddMessage implements Manager.AddMessage.
func (m *sessionManager) AddMessage(ctx context.Context, sessionID string, msg session.Message) (*session.Session, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.AddMessage(msg)

	if err := m.store.Update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Count implements Manager.Count.
func (m *sessionManager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// CleanupExpiredSessions implements Manager.CleanupExpiredSessions.
func (m *sessionManager) CleanupExpiredSessions(ctx context.Context) (int, error) {
	return m.store.CleanupExpired(ctx)
}

// Start implements Manager.Start.
func (m *sessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyStarted
	}
	m.running = true
	m.stopChan = make(chan struct{})

	m.wg.Add(1)
	go m.sweepLoop(ctx, m.stopChan)

	m.logger.Info("cleanup sweep started", "interval", m.config.CleanupInterval)
	return nil
}

// Stop implements Manager.Stop.
func (m *sessionManager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

// sweepLoop periodically removes expired sessions. A failed sweep never
// stops the loop: it is logged and the next run is delayed with exponential
// backoff until a sweep succeeds again.
func (m *sessionManager) sweepLoop(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()

	timer := time.NewTimer(m.config.CleanupInterval)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		removed, err := m.store.CleanupExpired(ctx)
		if err != nil {
			failures++
			delay := backoff(m.config.CleanupInterval, failures, m.config.MaxBackoff)
			m.logger.Error("cleanup sweep failed",
				"error", err,
				"consecutive_failures", failures,
				"next_attempt_in", delay)
			timer.Reset(delay)
			continue
		}

		if removed > 0 {
			m.logger.Info("cleanup sweep removed sessions", "count", removed)
		}
		failures = 0
		timer.Reset(m.config.CleanupInterval)
	}
}

// backoff doubles the base interval per consecutive failure, capped at max.
func backoff(base time.Duration, failures int, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < failures && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}
