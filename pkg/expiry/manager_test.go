package expiry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
)

func newTestManager(t *testing.T) (Manager, store.Store) {
	t.Helper()

	st := store.NewMemory(logger.Noop())
	t.Cleanup(func() { st.Close() })

	mgr := New(Config{ArchiveDir: t.TempDir()}, st, logger.Noop())
	return mgr, st
}

// newStaleSession creates a stored session whose last activity is in the
// past without tripping the store's own idle eviction.
func newStaleSession(t *testing.T, st store.Store, age time.Duration) *session.Session {
	t.Helper()

	sess := session.New("chat-1", "user-1", session.PlatformTelegram, session.TypePrivate)
	sess.Metadata[session.MetaIdleTimeout] = session.Number(0)
	sess.CreatedAt = time.Now().UTC().Add(-age)
	sess.LastActivity = sess.CreatedAt
	if err := st.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return sess
}

func TestAddRuleValidation(t *testing.T) {
	mgr, _ := newTestManager(t)

	tests := []struct {
		name string
		rule Rule
	}{
		{"missing id", Rule{Strategy: StrategyTime, Actions: []Action{ActionDelete}}},
		{"unknown strategy", Rule{ID: "r1", Strategy: "lunar", Actions: []Action{ActionDelete}}},
		{"no actions", Rule{ID: "r1", Strategy: StrategyTime}},
		{"unknown action", Rule{ID: "r1", Strategy: StrategyTime, Actions: []Action{"shred"}}},
		{"custom without condition", Rule{ID: "r1", Strategy: StrategyCustom, Actions: []Action{ActionDelete}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := mgr.AddRule(tt.rule); !errors.Is(err, ErrInvalidRule) {
				t.Errorf("AddRule() error = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestAddRuleDuplicate(t *testing.T) {
	mgr, _ := newTestManager(t)

	rule := Rule{ID: "r1", Strategy: StrategyTime, Actions: []Action{ActionDelete}}
	if err := mgr.AddRule(rule); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if err := mgr.AddRule(rule); !errors.Is(err, ErrDuplicateRule) {
		t.Errorf("AddRule() second error = %v, want ErrDuplicateRule", err)
	}
}

func TestRemoveRule(t *testing.T) {
	mgr, _ := newTestManager(t)

	if err := mgr.RemoveRule("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("RemoveRule() error = %v, want ErrRuleNotFound", err)
	}

	rule := Rule{ID: "r1", Strategy: StrategyTime, Actions: []Action{ActionDelete}}
	if err := mgr.AddRule(rule); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if err := mgr.RemoveRule("r1"); err != nil {
		t.Fatalf("RemoveRule() error = %v", err)
	}
	if got := mgr.Rules(); len(got) != 0 {
		t.Errorf("Rules() = %d rules, want 0", len(got))
	}
}

func TestCheckSessionStrategies(t *testing.T) {
	now := time.Now().UTC()

	fresh := session.New("chat-1", "user-1", session.PlatformWeb, session.TypePrivate)

	old := session.New("chat-1", "user-1", session.PlatformWeb, session.TypePrivate)
	old.CreatedAt = now.Add(-48 * time.Hour)
	old.LastActivity = now // still active, just old

	idle := session.New("chat-1", "user-1", session.PlatformWeb, session.TypePrivate)
	idle.Metadata[session.MetaIdleTimeout] = session.Number(0)
	idle.LastActivity = now.Add(-48 * time.Hour)

	chatty := session.New("chat-1", "user-1", session.PlatformWeb, session.TypePrivate)
	for i := 0; i < 5; i++ {
		chatty.History = append(chatty.History, session.NewMessage("hi", "user-1", "text"))
	}

	tests := []struct {
		name    string
		rule    Rule
		sess    *session.Session
		matched bool
	}{
		{
			"time matches old session",
			Rule{ID: "t", Enabled: true, Strategy: StrategyTime, Params: Params{MaxAge: 24 * time.Hour}, Actions: []Action{ActionNotify}},
			old, true,
		},
		{
			"time ignores fresh session",
			Rule{ID: "t", Enabled: true, Strategy: StrategyTime, Params: Params{MaxAge: 24 * time.Hour}, Actions: []Action{ActionNotify}},
			fresh, false,
		},
		{
			"activity matches inactive session",
			Rule{ID: "a", Enabled: true, Strategy: StrategyActivity, Params: Params{MaxInactive: 24 * time.Hour}, Actions: []Action{ActionNotify}},
			idle, true,
		},
		{
			"usage matches long history",
			Rule{ID: "u", Enabled: true, Strategy: StrategyUsage, Params: Params{MaxMessages: 3}, Actions: []Action{ActionNotify}},
			chatty, true,
		},
		{
			"hybrid matches either leg",
			Rule{ID: "h", Enabled: true, Strategy: StrategyHybrid, Params: Params{MaxInactive: 24 * time.Hour}, Actions: []Action{ActionNotify}},
			idle, true,
		},
		{
			"disabled rule never matches",
			Rule{ID: "d", Enabled: false, Strategy: StrategyTime, Params: Params{MaxAge: 24 * time.Hour}, Actions: []Action{ActionNotify}},
			old, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, _ := newTestManager(t)
			if err := mgr.AddRule(tt.rule); err != nil {
				t.Fatalf("AddRule() error = %v", err)
			}
			got := mgr.CheckSession(tt.sess)
			if (len(got) > 0) != tt.matched {
				t.Errorf("CheckSession() = %v, want matched = %v", got, tt.matched)
			}
		})
	}
}

func TestCustomPredicateErrorMeansNotExpired(t *testing.T) {
	mgr, _ := newTestManager(t)

	err := mgr.AddRule(Rule{
		ID:       "broken",
		Enabled:  true,
		Strategy: StrategyCustom,
		Actions:  []Action{ActionDelete},
		Condition: func(*session.Session, time.Time) (bool, error) {
			return true, errors.New("predicate exploded")
		},
	})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	sess := session.New("chat-1", "user-1", session.PlatformWeb, session.TypePrivate)
	if got := mgr.CheckSession(sess); len(got) != 0 {
		t.Errorf("CheckSession() = %v, want no match when predicate errors", got)
	}
}

func TestCustomPredicatePanicMeansNotExpired(t *testing.T) {
	mgr, _ := newTestManager(t)

	err := mgr.AddRule(Rule{
		ID:       "panicky",
		Enabled:  true,
		Strategy: StrategyCustom,
		Actions:  []Action{ActionDelete},
		Condition: func(*session.Session, time.Time) (bool, error) {
			panic("boom")
		},
	})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	sess := session.New("chat-1", "user-1", session.PlatformWeb, session.TypePrivate)
	if got := mgr.CheckSession(sess); len(got) != 0 {
		t.Errorf("CheckSession() = %v, want no match when predicate panics", got)
	}
}

func TestRunOncePriorityWins(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	sess := newStaleSession(t, st, 48*time.Hour)

	var notified []string
	mgr.RegisterNotifier(func(n Notification) {
		notified = append(notified, n.RuleID)
	})

	lowPriority := Rule{
		ID:       "low",
		Enabled:  true,
		Priority: 1,
		Strategy: StrategyTime,
		Params:   Params{MaxAge: 24 * time.Hour},
		Actions:  []Action{ActionDelete},
	}
	highPriority := Rule{
		ID:       "high",
		Enabled:  true,
		Priority: 5,
		Strategy: StrategyActivity,
		Params:   Params{MaxInactive: 24 * time.Hour},
		Actions:  []Action{ActionNotify},
	}
	for _, rule := range []Rule{lowPriority, highPriority} {
		if err := mgr.AddRule(rule); err != nil {
			t.Fatalf("AddRule(%s) error = %v", rule.ID, err)
		}
	}

	results, err := mgr.RunOnce(ctx, false)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("RunOnce() = %d results, want 1", len(results))
	}

	result := results[0]
	if result.AppliedRule != "high" || result.Action != ActionNotify {
		t.Errorf("result = %+v, want high-priority notify applied", result)
	}
	if len(result.MatchedRules) != 2 || result.MatchedRules[0] != "high" {
		t.Errorf("MatchedRules = %v, want both rules with high first", result.MatchedRules)
	}

	// The low-priority delete must not have run.
	if _, err := st.Get(ctx, sess.ID); err != nil {
		t.Errorf("Get() error = %v, want session still present", err)
	}
	if len(notified) != 1 || notified[0] != "high" {
		t.Errorf("notified = %v, want exactly the high rule", notified)
	}
}

func TestRunOnceOnlyFirstActionRuns(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	sess := newStaleSession(t, st, 48*time.Hour)

	var notified int
	mgr.RegisterNotifier(func(Notification) { notified++ })

	err := mgr.AddRule(Rule{
		ID:       "multi",
		Enabled:  true,
		Strategy: StrategyActivity,
		Params:   Params{MaxInactive: 24 * time.Hour},
		Actions:  []Action{ActionSuspend, ActionDelete, ActionNotify},
	})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	if _, err := mgr.RunOnce(ctx, false); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	got, err := st.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v, want session suspended, not deleted", err)
	}
	if got.Status() != session.StatusSuspended {
		t.Errorf("Status() = %s, want suspended", got.Status())
	}
	if notified != 0 {
		t.Errorf("notified = %d, want 0 (only first action runs)", notified)
	}
}

func TestRunOnceDryRun(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	sess := newStaleSession(t, st, 48*time.Hour)

	err := mgr.AddRule(Rule{
		ID:       "sweep",
		Enabled:  true,
		Strategy: StrategyActivity,
		Params:   Params{MaxInactive: 24 * time.Hour},
		Actions:  []Action{ActionDelete},
	})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	results, err := mgr.RunOnce(ctx, true)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(results) != 1 || !results[0].DryRun || results[0].Action != ActionDelete {
		t.Errorf("results = %+v, want one dry-run delete result", results)
	}

	if _, err := st.Get(ctx, sess.ID); err != nil {
		t.Errorf("Get() error = %v, want session untouched by dry run", err)
	}
	if stats := mgr.Stats(); stats.Runs != 0 || len(stats.ActionCounts) != 0 {
		t.Errorf("Stats() = %+v, want untouched by dry run", stats)
	}
}

func TestRunOnceArchive(t *testing.T) {
	st := store.NewMemory(logger.Noop())
	t.Cleanup(func() { st.Close() })

	archiveDir := t.TempDir()
	mgr := New(Config{ArchiveDir: archiveDir}, st, logger.Noop())

	sess := newStaleSession(t, st, 48*time.Hour)
	sess.Data = map[string]session.Value{"topic": session.String("weather")}
	if err := st.Update(context.Background(), sess); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	err := mgr.AddRule(Rule{
		ID:       "archive-stale",
		Name:     "archive stale sessions",
		Enabled:  true,
		Strategy: StrategyActivity,
		Params:   Params{MaxInactive: 24 * time.Hour},
		Actions:  []Action{ActionArchive},
	})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	if _, err := mgr.RunOnce(context.Background(), false); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var archiveFile string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), sess.ID+"_") && strings.HasSuffix(entry.Name(), ".json") {
			archiveFile = filepath.Join(archiveDir, entry.Name())
		}
	}
	if archiveFile == "" {
		t.Fatalf("no archive file for %s in %v", sess.ID, entries)
	}

	data, err := os.ReadFile(archiveFile)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var envelope archiveEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if envelope.RuleID != "archive-stale" || envelope.Session == nil || envelope.Session.ID != sess.ID {
		t.Errorf("envelope = %+v, want rule and session recorded", envelope)
	}
	if v, ok := envelope.Session.Data["topic"]; !ok || !v.Equal(session.String("weather")) {
		t.Errorf("archived data = %+v, want topic preserved", envelope.Session.Data)
	}

	if stats := mgr.Stats(); stats.ActionCounts[ActionArchive] != 1 {
		t.Errorf("Stats().ActionCounts = %+v, want one archive", stats.ActionCounts)
	}
}

func TestRunOnceExportWritesUnderExports(t *testing.T) {
	st := store.NewMemory(logger.Noop())
	t.Cleanup(func() { st.Close() })

	archiveDir := t.TempDir()
	mgr := New(Config{ArchiveDir: archiveDir}, st, logger.Noop())

	sess := newStaleSession(t, st, 48*time.Hour)

	err := mgr.AddRule(Rule{
		ID:       "export-stale",
		Enabled:  true,
		Strategy: StrategyActivity,
		Params:   Params{MaxInactive: 24 * time.Hour},
		Actions:  []Action{ActionExport},
	})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	if _, err := mgr.RunOnce(context.Background(), false); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(archiveDir, "exports"))
	if err != nil {
		t.Fatalf("ReadDir(exports) error = %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), sess.ID+"_") {
		t.Errorf("exports = %v, want one file for %s", entries, sess.ID)
	}
}

func TestNotifierPanicIsContained(t *testing.T) {
	mgr, st := newTestManager(t)

	newStaleSession(t, st, 48*time.Hour)

	var second bool
	mgr.RegisterNotifier(func(Notification) { panic("boom") })
	mgr.RegisterNotifier(func(Notification) { second = true })

	err := mgr.AddRule(Rule{
		ID:       "notify",
		Enabled:  true,
		Strategy: StrategyActivity,
		Params:   Params{MaxInactive: 24 * time.Hour},
		Actions:  []Action{ActionNotify},
	})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	results, err := mgr.RunOnce(context.Background(), false)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(results) != 1 || results[0].Error != "" {
		t.Errorf("results = %+v, want clean notify result", results)
	}
	if !second {
		t.Error("second notifier not invoked after first panicked")
	}
}

func TestForceExpire(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	sess := newStaleSession(t, st, 48*time.Hour)

	err := mgr.AddRule(Rule{
		ID:       "sweep",
		Enabled:  true,
		Strategy: StrategyActivity,
		Params:   Params{MaxInactive: 24 * time.Hour},
		Actions:  []Action{ActionDelete},
	})
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	result, err := mgr.ForceExpire(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ForceExpire() error = %v", err)
	}
	if result == nil || result.Action != ActionDelete {
		t.Errorf("ForceExpire() = %+v, want delete result", result)
	}
	if _, err := st.Get(ctx, sess.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound after force expire", err)
	}

	if _, err := mgr.ForceExpire(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ForceExpire(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStartStop(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() before start error = %v, want ErrNotStarted", err)
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := mgr.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() twice error = %v, want ErrAlreadyStarted", err)
	}
	if err := mgr.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestBackoff(t *testing.T) {
	base := time.Minute
	max := 10 * time.Minute

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 10 * time.Minute},
		{20, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := backoff(base, tt.failures, max); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}
