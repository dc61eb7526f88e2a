package expiry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
)

// expiryManager implements the Manager interface.
type expiryManager struct {
	config Config
	store  store.Store
	logger logger.Logger

	mu        sync.RWMutex
	rules     map[string]Rule
	notifiers []NotifyFunc
	stats     Stats
	running   bool
	stopChan  chan struct{}

	wg sync.WaitGroup
}

// New creates an expiry manager over the given store.
//
// Parameters:
//   - config: Manager configuration (zero values use defaults)
//   - st: Session store the rules are evaluated against
//   - log: Logger instance (uses logger.Default() if nil)
//
// Returns:
//   - Configured Manager instance
func New(config Config, st store.Store, log logger.Logger) Manager {
	if log == nil {
		log = logger.Default()
	}
	if config.ArchiveDir == "" {
		config.ArchiveDir = DefaultArchiveDir
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}

	return &expiryManager{
		config: config,
		store:  st,
		logger: log,
		rules:  make(map[string]Rule),
		stats:  Stats{ActionCounts: make(map[Action]int)},
	}
}

// AddRule implements Manager.AddRule.
func (m *expiryManager) AddRule(rule Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}
	m.rules[rule.ID] = rule

	m.logger.Info("expiry rule added",
		"rule_id", rule.ID,
		"strategy", rule.Strategy,
		"priority", rule.Priority)
	return nil
}

func validateRule(rule Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if !rule.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidRule, rule.Strategy)
	}
	if rule.Strategy == StrategyCustom && rule.Condition == nil {
		return fmt.Errorf("%w: custom strategy requires a condition", ErrInvalidRule)
	}
	if len(rule.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidRule)
	}
	for _, action := range rule.Actions {
		if !action.Valid() {
			return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, action)
		}
	}
	return nil
}

// RemoveRule implements Manager.RemoveRule.
func (m *expiryManager) RemoveRule(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(m.rules, id)
	return nil
}

// SetRuleEnabled implements Manager.SetRuleEnabled.
func (m *expiryManager) SetRuleEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, exists := m.rules[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	rule.Enabled = enabled
	m.rules[id] = rule
	return nil
}

// Rules implements Manager.Rules.
func (m *expiryManager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orderedRulesLocked()
}

// orderedRulesLocked returns all rules by descending priority, ties broken
// by ID. Callers must hold at least a read lock.
func (m *expiryManager) orderedRulesLocked() []Rule {
	rules := make([]Rule, 0, len(m.rules))
	for _, rule := range m.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}

// RegisterNotifier implements Manager.RegisterNotifier.
func (m *expiryManager) RegisterNotifier(fn NotifyFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, fn)
}

// CheckSession implements Manager.CheckSession.
func (m *expiryManager) CheckSession(sess *session.Session) []string {
	now := time.Now().UTC()

	m.mu.RLock()
	rules := m.orderedRulesLocked()
	m.mu.RUnlock()

	var matched []string
	for _, rule := range rules {
		if rule.Enabled && m.matches(rule, sess, now) {
			matched = append(matched, rule.ID)
		}
	}
	return matched
}

// matches evaluates one rule's strategy against a session.
func (m *expiryManager) matches(rule Rule, sess *session.Session, now time.Time) bool {
	switch rule.Strategy {
	case StrategyTime:
		return m.matchesTime(rule, sess, now)
	case StrategyActivity:
		return m.matchesActivity(rule, sess, now)
	case StrategyUsage:
		if rule.Params.MaxMessages > 0 && len(sess.History) > rule.Params.MaxMessages {
			return true
		}
		return rule.Params.MaxSizeBytes > 0 && sess.EstimatedSize() > rule.Params.MaxSizeBytes
	case StrategyHybrid:
		return m.matchesTime(rule, sess, now) || m.matchesActivity(rule, sess, now)
	case StrategyCustom:
		return m.matchesCustom(rule, sess, now)
	}
	return false
}

func (m *expiryManager) matchesTime(rule Rule, sess *session.Session, now time.Time) bool {
	if sess.IsExpired(now) {
		return true
	}
	return rule.Params.MaxAge > 0 && now.Sub(sess.CreatedAt) > rule.Params.MaxAge
}

func (m *expiryManager) matchesActivity(rule Rule, sess *session.Session, now time.Time) bool {
	if sess.IsIdleTimedOut(now) {
		return true
	}
	return rule.Params.MaxInactive > 0 && now.Sub(sess.LastActivity) > rule.Params.MaxInactive
}

// matchesCustom runs the rule's predicate. Errors and panics count as "not
// expired" so a broken predicate can never retire sessions by accident.
func (m *expiryManager) matchesCustom(rule Rule, sess *session.Session, now time.Time) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("expiry predicate panicked",
				"rule_id", rule.ID,
				"session_id", sess.ID,
				"panic", r)
			matched = false
		}
	}()

	ok, err := rule.Condition(sess, now)
	if err != nil {
		m.logger.Warn("expiry predicate failed",
			"rule_id", rule.ID,
			"session_id", sess.ID,
			"error", err)
		return false
	}
	return ok
}

// RunOnce implements Manager.RunOnce.
func (m *expiryManager) RunOnce(ctx context.Context, dryRun bool) ([]Result, error) {
	// Point-in-time snapshot: sessions created during the pass are not
	// considered, sessions deleted mid-pass are skipped.
	sessions, err := m.store.Find(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}

	var results []Result
	for _, sess := range sessions {
		result := m.applyRules(ctx, sess, dryRun)
		if result != nil {
			results = append(results, *result)
		}
	}

	if !dryRun {
		m.mu.Lock()
		m.stats.Runs++
		m.stats.LastRun = time.Now().UTC()
		m.mu.Unlock()
	}

	m.logger.Debug("expiry pass finished",
		"examined", len(sessions),
		"matched", len(results),
		"dry_run", dryRun)
	return results, nil
}

// ForceExpire implements Manager.ForceExpire.
func (m *expiryManager) ForceExpire(ctx context.Context, sessionID string) (*Result, error) {
	sessions, err := m.store.Find(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	for _, sess := range sessions {
		if sess.ID == sessionID {
			return m.applyRules(ctx, sess, false), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNotFound, sessionID)
}

// applyRules evaluates all rules against one session and executes the first
// action of the highest-priority match. Returns nil when no rule matched.
func (m *expiryManager) applyRules(ctx context.Context, sess *session.Session, dryRun bool) *Result {
	matched := m.CheckSession(sess)
	if len(matched) == 0 {
		return nil
	}

	m.mu.RLock()
	winner := m.rules[matched[0]]
	m.mu.RUnlock()

	result := &Result{
		SessionID:    sess.ID,
		MatchedRules: matched,
		AppliedRule:  winner.ID,
		Action:       winner.Actions[0],
		DryRun:       dryRun,
	}
	if dryRun {
		return result
	}

	if err := m.execute(ctx, winner, sess); err != nil {
		result.Error = err.Error()
		m.mu.Lock()
		m.stats.Errors++
		m.mu.Unlock()
		m.logger.Error("expiry action failed",
			"rule_id", winner.ID,
			"session_id", sess.ID,
			"action", winner.Actions[0],
			"error", err)
		return result
	}

	m.mu.Lock()
	m.stats.ActionCounts[winner.Actions[0]]++
	m.mu.Unlock()
	return result
}

// Stats implements Manager.Stats.
func (m *expiryManager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := m.stats
	copied.ActionCounts = make(map[Action]int, len(m.stats.ActionCounts))
	for action, count := range m.stats.ActionCounts {
		copied.ActionCounts[action] = count
	}
	return copied
}

// Start implements Manager.Start.
func (m *expiryManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyStarted
	}
	m.running = true
	m.stopChan = make(chan struct{})

	m.wg.Add(1)
	go m.cleanupLoop(ctx, m.stopChan)

	m.logger.Info("expiry loop started", "interval", m.config.CleanupInterval)
	return nil
}

// Stop implements Manager.Stop.
func (m *expiryManager) Stop() error {
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

// cleanupLoop runs expiry passes on a timer. A failed pass is logged and
// delays the next attempt with exponential backoff; it never stops the
// loop.
func (m *expiryManager) cleanupLoop(ctx context.Context, stop <-chan struct{}) {
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

		results, err := m.RunOnce(ctx, false)
		if err != nil {
			failures++
			delay := backoff(m.config.CleanupInterval, failures, m.config.MaxBackoff)
			m.logger.Error("expiry pass failed",
				"error", err,
				"consecutive_failures", failures,
				"next_attempt_in", delay)
			timer.Reset(delay)
			continue
		}

		if len(results) > 0 {
			m.logger.Info("expiry pass retired sessions", "count", len(results))
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
