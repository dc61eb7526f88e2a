package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
)

// sessionSyncer implements the Syncer interface.
type sessionSyncer struct {
	config Config
	store  store.Store
	logger logger.Logger

	// sem bounds concurrently executing sync operations.
	sem *semaphore.Weighted

	mu         sync.RWMutex
	bySession  map[string]Identity          // session id -> identity
	byIdentity map[string]map[string]struct{} // identity key -> session ids
	queue      []*Operation
	running    bool
	stopChan   chan struct{}

	wg sync.WaitGroup
}

// New creates a syncer over the given store.
//
// Parameters:
//   - config: Syncer configuration (zero values use defaults)
//   - st: Session store the siblings live in
//   - log: Logger instance (uses logger.Default() if nil)
//
// Returns:
//   - Configured Syncer instance
func New(config Config, st store.Store, log logger.Logger) Syncer {
	if log == nil {
		log = logger.Default()
	}
	if config.Mode == "" {
		config.Mode = ModeAuto
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultSyncInterval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}

	return &sessionSyncer{
		config:     config,
		store:      st,
		logger:     log,
		sem:        semaphore.NewWeighted(config.MaxConcurrent),
		bySession:  make(map[string]Identity),
		byIdentity: make(map[string]map[string]struct{}),
	}
}

// Register implements Syncer.Register.
func (s *sessionSyncer) Register(sessionID string, identity Identity) error {
	if identity.Platform == "" || identity.UserID == "" {
		return ErrInvalidIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-registering moves the session between identities.
	if old, ok := s.bySession[sessionID]; ok {
		s.dropLinkLocked(sessionID, old)
	}

	key := identity.Key()
	s.bySession[sessionID] = identity
	set, ok := s.byIdentity[key]
	if !ok {
		set = make(map[string]struct{})
		s.byIdentity[key] = set
	}
	set[sessionID] = struct{}{}

	s.logger.Debug("session registered", "session_id", sessionID, "identity", key)
	return nil
}

// Unregister implements Syncer.Unregister.
func (s *sessionSyncer) Unregister(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.bySession[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, sessionID)
	}
	s.dropLinkLocked(sessionID, identity)
	return nil
}

func (s *sessionSyncer) dropLinkLocked(sessionID string, identity Identity) {
	delete(s.bySession, sessionID)
	key := identity.Key()
	if set, ok := s.byIdentity[key]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(s.byIdentity, key)
		}
	}
}

// Identity implements Syncer.Identity.
func (s *sessionSyncer) Identity(sessionID string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.bySession[sessionID]
	return identity, ok
}

// Siblings implements Syncer.Siblings.
func (s *sessionSyncer) Siblings(sessionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.siblingsLocked(sessionID)
}

func (s *sessionSyncer) siblingsLocked(sessionID string) []string {
	identity, ok := s.bySession[sessionID]
	if !ok {
		return nil
	}

	var siblings []string
	for id := range s.byIdentity[identity.Key()] {
		if id != sessionID {
			siblings = append(siblings, id)
		}
	}
	return siblings
}

// SyncSessions implements Syncer.SyncSessions.
func (s *sessionSyncer) SyncSessions(ctx context.Context, sourceID string) (*SyncResult, error) {
	s.mu.RLock()
	_, registered := s.bySession[sourceID]
	siblings := s.siblingsLocked(sourceID)
	s.mu.RUnlock()

	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, sourceID)
	}

	source, err := s.store.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source session: %w", err)
	}

	result := &SyncResult{SourceID: sourceID}
	for _, siblingID := range siblings {
		if err := s.syncOne(ctx, source, siblingID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", siblingID, err))
			continue
		}
		result.Synced++
	}

	s.logger.Debug("sync broadcast finished",
		"source_id", sourceID,
		"synced", result.Synced,
		"failed", result.Failed)
	return result, nil
}

// syncOne merges the source's content into one sibling.
func (s *sessionSyncer) syncOne(ctx context.Context, source *session.Session, siblingID string) error {
	sibling, err := s.store.Get(ctx, siblingID)
	if err != nil {
		return err
	}
	sibling.Merge(source)
	return s.store.Update(ctx, sibling)
}

// Enqueue implements Syncer.Enqueue.
func (s *sessionSyncer) Enqueue(ctx context.Context, sourceID string) (string, error) {
	s.mu.Lock()
	if _, ok := s.bySession[sourceID]; !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNotRegistered, sourceID)
	}

	op := &Operation{
		ID:         uuid.New().String(),
		SourceID:   sourceID,
		Status:     OpPending,
		EnqueuedAt: time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	s.queue = append(s.queue, op)
	mode := s.config.Mode
	s.mu.Unlock()

	if mode == ModeAuto {
		if err := s.ProcessQueue(ctx); err != nil {
			return op.ID, err
		}
	}
	return op.ID, nil
}

// ProcessQueue implements Syncer.ProcessQueue.
func (s *sessionSyncer) ProcessQueue(ctx context.Context) error {
	s.mu.Lock()
	var pending []*Operation
	for _, op := range s.queue {
		if op.Status == OpPending {
			op.Status = OpSyncing
			op.UpdatedAt = time.Now().UTC()
			pending = append(pending, op)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, op := range pending {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.requeue(op, err)
			continue
		}
		wg.Add(1)
		go func(op *Operation) {
			defer wg.Done()
			defer s.sem.Release(1)
			s.executeOp(ctx, op)
		}(op)
	}
	wg.Wait()
	return nil
}

// executeOp runs one queued operation and settles its status.
func (s *sessionSyncer) executeOp(ctx context.Context, op *Operation) {
	result, err := s.SyncSessions(ctx, op.SourceID)
	if err == nil && result.Failed > 0 {
		err = fmt.Errorf("%d siblings failed to sync", result.Failed)
	}
	if err != nil {
		s.requeue(op, err)
		return
	}

	s.mu.Lock()
	op.Status = OpCompleted
	op.Error = ""
	op.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
}

// requeue records a failed attempt, leaving the operation pending until its
// retries are exhausted.
func (s *sessionSyncer) requeue(op *Operation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op.Retries++
	op.Error = err.Error()
	op.UpdatedAt = time.Now().UTC()
	if op.Retries >= s.config.MaxRetries {
		op.Status = OpFailed
		s.logger.Warn("sync operation failed permanently",
			"op_id", op.ID,
			"source_id", op.SourceID,
			"retries", op.Retries,
			"error", err)
		return
	}
	op.Status = OpPending
}

// Operations implements Syncer.Operations.
func (s *sessionSyncer) Operations() []Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ops := make([]Operation, 0, len(s.queue))
	for _, op := range s.queue {
		ops = append(ops, *op)
	}
	return ops
}

// ResolveConflicts implements Syncer.ResolveConflicts.
func (s *sessionSyncer) ResolveConflicts(ctx context.Context, sessionIDs []string, strategy ConflictStrategy) (*Resolution, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	if len(sessionIDs) == 0 {
		return nil, ErrNoCandidates
	}

	candidates := make([]*session.Session, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		sess, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load candidate %s: %w", id, err)
		}
		candidates = append(candidates, sess)
	}

	switch strategy {
	case StrategyLatestWins:
		return &Resolution{WinnerID: latestOf(candidates), Strategy: strategy}, nil

	case StrategySourcePriority:
		for _, sess := range candidates {
			if s.config.PriorityPlatform != "" && sess.Platform == s.config.PriorityPlatform {
				return &Resolution{WinnerID: sess.ID, Strategy: strategy}, nil
			}
		}
		// No candidate on the priority platform; recency decides.
		return &Resolution{WinnerID: latestOf(candidates), Strategy: strategy}, nil

	case StrategyManual:
		return &Resolution{WinnerID: candidates[0].ID, Strategy: strategy, Flagged: true}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
}

// latestOf picks the candidate with the greatest last activity.
func latestOf(candidates []*session.Session) string {
	winner := candidates[0]
	for _, sess := range candidates[1:] {
		if sess.LastActivity.After(winner.LastActivity) {
			winner = sess
		}
	}
	return winner.ID
}

// Start implements Syncer.Start. Manual mode has no loop to run but Start
// still succeeds so callers can treat all modes uniformly.
func (s *sessionSyncer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}
	s.running = true
	s.stopChan = make(chan struct{})

	if s.config.Mode != ModeManual {
		s.wg.Add(1)
		go s.syncLoop(ctx, s.stopChan)
	}

	s.logger.Info("syncer started", "mode", s.config.Mode, "interval", s.config.SyncInterval)
	return nil
}

// Stop implements Syncer.Stop.
func (s *sessionSyncer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// syncLoop drains the queue on a timer. Queue processing never returns a
// fatal error, so the loop needs no backoff of its own.
func (s *sessionSyncer) syncLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.ProcessQueue(ctx); err != nil {
			s.logger.Error("queue processing failed", "error", err)
		}
	}
}
