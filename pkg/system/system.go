package system

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/0xmhha/session-engine/pkg/backup"
	"github.com/0xmhha/session-engine/pkg/config"
	"github.com/0xmhha/session-engine/pkg/expiry"
	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/manager"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
	"github.com/0xmhha/session-engine/pkg/syncer"
	"github.com/0xmhha/session-engine/pkg/tracker"
)

// engine implements the System interface.
type engine struct {
	config *config.Config
	logger logger.Logger

	store   store.Store
	records tracker.RecordStore

	manager manager.Manager
	tracker tracker.Tracker
	expiry  expiry.Manager
	backups backup.Manager
	syncer  syncer.Syncer

	mu        sync.Mutex
	running   bool
	closed    bool
	startedAt time.Time
	stopChan  chan struct{}
	group     *errgroup.Group
	scheduler *cron.Cron
}

// New builds a System from configuration.
//
// The storage backend, record store and every component are constructed
// here; nothing is shared between two Systems.
//
// Parameters:
//   - cfg: Validated engine configuration
//   - log: Logger instance (nil uses the default logger)
//
// Returns:
//   - Configured System
//   - Error if the configuration is invalid or a backend fails to open
func New(cfg *config.Config, log logger.Logger) (System, error) {
	if log == nil {
		log = logger.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Backup.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Backup.Schedule); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}

	st, err := newStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	records, err := newRecords(cfg)
	if err != nil {
		_ = st.Close() // nolint:errcheck
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	backups, err := backup.New(backup.Config{
		BackupDir:  cfg.Backup.BackupDir,
		MaxBackups: cfg.Backup.MaxBackups,
	}, st, log)
	if err != nil {
		_ = records.Close() // nolint:errcheck
		_ = st.Close()      // nolint:errcheck
		return nil, fmt.Errorf("failed to init backups: %w", err)
	}

	e := &engine{
		config:  cfg,
		logger:  log,
		store:   st,
		records: records,
		backups: backups,
		manager: manager.New(manager.Config{
			CleanupInterval: cfg.Cleanup.SweepInterval,
		}, st, log),
		tracker: tracker.New(tracker.Config{
			HistoryRetentionDays: cfg.Tracker.HistoryRetentionDays,
			MaxEventsPerSession:  cfg.Tracker.MaxEventsPerSession,
		}, st, records, log),
		expiry: expiry.New(expiry.Config{
			ArchiveDir:      cfg.Cleanup.ArchiveDir,
			CleanupInterval: cfg.Cleanup.AutoCleanupInterval,
		}, st, log),
		syncer: syncer.New(syncer.Config{
			Mode:             syncer.Mode(cfg.Sync.Mode),
			SyncInterval:     cfg.Sync.Interval,
			MaxRetries:       cfg.Sync.MaxRetries,
			MaxConcurrent:    int64(cfg.Sync.MaxConcurrent),
			PriorityPlatform: session.Platform(cfg.Sync.PriorityPlatform),
		}, st, log),
	}

	log.Info("system created", "backend", cfg.Storage.Backend)
	return e, nil
}

// newStore opens the configured storage backend.
func newStore(cfg *config.Config, log logger.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return store.NewMemory(log), nil
	case config.BackendFile:
		return store.NewFile(cfg.Storage.DataDir, log)
	case config.BackendDatabase:
		return store.NewSQLite(cfg.Storage.DBPath, log)
	default:
		return nil, config.ErrInvalidBackend
	}
}

// newRecords opens the tracker record store. An empty path keeps records in
// memory.
func newRecords(cfg *config.Config) (tracker.RecordStore, error) {
	if cfg.Tracker.RecordsPath == "" {
		return tracker.NewMemoryRecords(), nil
	}
	return tracker.NewBoltRecords(cfg.Tracker.RecordsPath)
}

// Start implements System.Start.
func (e *engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.running {
		return ErrAlreadyStarted
	}

	if err := e.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start manager: %w", err)
	}
	if err := e.expiry.Start(ctx); err != nil {
		_ = e.manager.Stop() // nolint:errcheck
		return fmt.Errorf("failed to start expiry: %w", err)
	}
	if err := e.syncer.Start(ctx); err != nil {
		_ = e.expiry.Stop()  // nolint:errcheck
		_ = e.manager.Stop() // nolint:errcheck
		return fmt.Errorf("failed to start syncer: %w", err)
	}

	e.stopChan = make(chan struct{})
	group, groupCtx := errgroup.WithContext(ctx)
	e.group = group
	group.Go(func() error {
		e.pruneLoop(groupCtx)
		return nil
	})

	if e.config.Backup.Schedule != "" {
		e.scheduler = cron.New()
		if _, err := e.scheduler.AddFunc(e.config.Backup.Schedule, e.runScheduledBackup); err != nil {
			// Validated in New; a failure here means the config changed
			// under us.
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		e.scheduler.Start()
		e.logger.Info("backup schedule active", "schedule", e.config.Backup.Schedule)
	}

	e.running = true
	e.startedAt = time.Now()

	e.logger.Info("system started",
		"backend", e.config.Storage.Backend,
		"sweep_interval", e.config.Cleanup.SweepInterval,
		"cleanup_interval", e.config.Cleanup.AutoCleanupInterval)
	return nil
}

// Stop implements System.Stop.
func (e *engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	close(e.stopChan)
	_ = e.group.Wait() // nolint:errcheck

	if e.scheduler != nil {
		<-e.scheduler.Stop().Done()
		e.scheduler = nil
	}

	if err := e.syncer.Stop(); err != nil {
		e.logger.Warn("failed to stop syncer", "error", err)
	}
	if err := e.expiry.Stop(); err != nil {
		e.logger.Warn("failed to stop expiry", "error", err)
	}
	if err := e.manager.Stop(); err != nil {
		e.logger.Warn("failed to stop manager", "error", err)
	}

	e.logger.Info("system stopped")
	return nil
}

// Close implements System.Close.
func (e *engine) Close() error {
	if err := e.Stop(); err != nil {
		e.logger.Warn("stop during close failed", "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.records.Close(); err != nil {
		e.logger.Warn("failed to close record store", "error", err)
	}
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	e.logger.Info("system closed")
	return nil
}

// Status implements System.Status.
func (e *engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	running := e.running
	startedAt := e.startedAt
	e.mu.Unlock()

	count, err := e.store.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to count sessions: %w", err)
	}

	backups, err := e.backups.ListBackups()
	if err != nil {
		return Status{}, fmt.Errorf("failed to list backups: %w", err)
	}

	pending := 0
	for _, op := range e.syncer.Operations() {
		if op.Status == syncer.OpPending || op.Status == syncer.OpSyncing {
			pending++
		}
	}

	status := Status{
		StartedAt:      startedAt,
		Running:        running,
		Backend:        e.config.Storage.Backend,
		SessionCount:   count,
		BackupCount:    len(backups),
		PendingSyncOps: pending,
		Expiry:         e.expiry.Stats(),
	}
	if running {
		status.Uptime = time.Since(startedAt)
	}

	return status, nil
}

// Health implements System.Health.
func (e *engine) Health(ctx context.Context) Health {
	h := Health{
		StoreOK:      true,
		ArchiveDirOK: true,
		BackupDirOK:  true,
	}

	if err := e.probeStore(ctx); err != nil {
		h.StoreOK = false
		h.Problems = append(h.Problems, fmt.Sprintf("store: %v", err))
	}
	if err := probeDir(e.config.Cleanup.ArchiveDir); err != nil {
		h.ArchiveDirOK = false
		h.Problems = append(h.Problems, fmt.Sprintf("archive dir: %v", err))
	}
	if err := probeDir(e.config.Backup.BackupDir); err != nil {
		h.BackupDirOK = false
		h.Problems = append(h.Problems, fmt.Sprintf("backup dir: %v", err))
	}

	h.Healthy = h.StoreOK && h.ArchiveDirOK && h.BackupDirOK
	return h
}

// probeStore writes, reads and deletes a throwaway session.
func (e *engine) probeStore(ctx context.Context) error {
	probe := session.New("healthcheck", "healthcheck", session.PlatformAPI, session.TypeTemporary)

	if err := e.store.Create(ctx, probe); err != nil {
		return fmt.Errorf("create failed: %w", err)
	}
	if _, err := e.store.Get(ctx, probe.ID); err != nil {
		_ = e.store.Delete(ctx, probe.ID) // nolint:errcheck
		return fmt.Errorf("read back failed: %w", err)
	}
	if err := e.store.Delete(ctx, probe.ID); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}

	return nil
}

// probeDir verifies the directory exists (creating it if needed) and is
// writable.
func probeDir(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	probe := filepath.Join(dir, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return err
	}
	return os.Remove(probe)
}

// Manager implements System.Manager.
func (e *engine) Manager() manager.Manager { return e.manager }

// Tracker implements System.Tracker.
func (e *engine) Tracker() tracker.Tracker { return e.tracker }

// Expiry implements System.Expiry.
func (e *engine) Expiry() expiry.Manager { return e.expiry }

// Backups implements System.Backups.
func (e *engine) Backups() backup.Manager { return e.backups }

// Syncer implements System.Syncer.
func (e *engine) Syncer() syncer.Syncer { return e.syncer }

// pruneLoop trims tracker records on the sweep cadence.
func (e *engine) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.Cleanup.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-e.stopChan:
			return

		case <-ticker.C:
			dropped, err := e.tracker.Prune()
			if err != nil {
				e.logger.Warn("record prune failed", "error", err)
				continue
			}
			if dropped > 0 {
				e.logger.Debug("record prune complete", "dropped", dropped)
			}
		}
	}
}

// runScheduledBackup executes one cron-triggered backup.
func (e *engine) runScheduledBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	meta, err := e.backups.CreateBackup(ctx, backup.Options{
		Format:   backup.Format(e.config.Backup.Format),
		Compress: e.config.Backup.Compress,
	})
	if err != nil {
		e.logger.Error("scheduled backup failed", "error", err)
		return
	}

	e.logger.Info("scheduled backup complete",
		"backup_id", meta.ID,
		"sessions", meta.SessionCount)
}
