// Package system wires the session engine together from configuration.
//
// A System owns the store, the lifecycle manager, the state tracker, the
// expiry engine, the backup manager and the syncer, and runs their
// background loops under one Start/Stop lifecycle.
//
// Example usage:
//
//	cfg, _ := config.Load()
//	sys, err := system.New(cfg, log)
//	if err != nil {
//	    log.Fatal("system init failed", "error", err)
//	}
//	defer sys.Close()
//
//	if err := sys.Start(ctx); err != nil {
//	    log.Fatal("system start failed", "error", err)
//	}
package system

import (
	"context"
	"time"

	"github.com/0xmhha/session-engine/pkg/backup"
	"github.com/0xmhha/session-engine/pkg/expiry"
	"github.com/0xmhha/session-engine/pkg/manager"
	"github.com/0xmhha/session-engine/pkg/syncer"
	"github.com/0xmhha/session-engine/pkg/tracker"
)

// Status is a point-in-time snapshot of the engine.
type Status struct {
	// StartedAt is when Start succeeded; zero if never started.
	StartedAt time.Time `json:"started_at"`

	// Uptime since StartedAt; zero if not running.
	Uptime time.Duration `json:"uptime"`

	// Running reports whether the background loops are live.
	Running bool `json:"running"`

	// Backend is the configured storage backend name.
	Backend string `json:"backend"`

	// SessionCount is the number of stored sessions.
	SessionCount int `json:"session_count"`

	// BackupCount is the number of cataloged backups.
	BackupCount int `json:"backup_count"`

	// PendingSyncOps is the number of queued sync operations not yet
	// completed or failed.
	PendingSyncOps int `json:"pending_sync_ops"`

	// Expiry is the expiry engine's lifetime statistics.
	Expiry expiry.Stats `json:"expiry"`
}

// Health is the result of probing each component.
type Health struct {
	// Healthy is true when every probe passed.
	Healthy bool `json:"healthy"`

	// StoreOK reports a successful store round trip.
	StoreOK bool `json:"store_ok"`

	// ArchiveDirOK reports that the archive directory is writable.
	ArchiveDirOK bool `json:"archive_dir_ok"`

	// BackupDirOK reports that the backup directory is writable.
	BackupDirOK bool `json:"backup_dir_ok"`

	// Problems lists the failed probes.
	Problems []string `json:"problems,omitempty"`
}

// System is the engine's composition root.
type System interface {
	// Start launches every background loop and the backup schedule.
	Start(ctx context.Context) error

	// Stop halts the loops and waits for in-flight work. Stopping a
	// stopped system is a no-op.
	Stop() error

	// Close stops the system if needed and releases store resources.
	// The system must not be used after Close.
	Close() error

	// Status reports a point-in-time snapshot.
	Status(ctx context.Context) (Status, error)

	// Health probes the store and directories.
	Health(ctx context.Context) Health

	// Manager exposes session lifecycle operations.
	Manager() manager.Manager

	// Tracker exposes state tracking and analysis.
	Tracker() tracker.Tracker

	// Expiry exposes the expiry rule engine.
	Expiry() expiry.Manager

	// Backups exposes backup and restore operations.
	Backups() backup.Manager

	// Syncer exposes cross-session synchronization.
	Syncer() syncer.Syncer
}
