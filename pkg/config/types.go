// Package config provides configuration management for session-engine.
//
// Configuration is loaded from multiple sources with the following precedence:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Storage backend: %s\n", cfg.Storage.Backend)
package config

import (
	"time"
)

// Backend names accepted by Storage.Backend.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendDatabase = "database"
)

// Config represents the complete engine configuration.
//
// Invariants:
// - Storage.Backend must be memory, file or database
// - All intervals must be > 0
// - Backup.MaxBackups must be > 0
// - Sync.MaxRetries and Sync.MaxConcurrent must be > 0
// - Tracker retention values must be > 0
type Config struct {
	// Storage settings
	Storage StorageConfig `yaml:"storage"`

	// Cleanup settings
	Cleanup CleanupConfig `yaml:"cleanup"`

	// Backup settings
	Backup BackupConfig `yaml:"backup"`

	// Sync settings
	Sync SyncConfig `yaml:"sync"`

	// Tracker settings
	Tracker TrackerConfig `yaml:"tracker"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig selects and parameterizes the session store backend.
type StorageConfig struct {
	// Backend is one of memory, file, database
	Backend string `yaml:"backend"`

	// Directory for the file backend's JSON documents
	DataDir string `yaml:"data_dir"`

	// Path to the database backend's SQLite file
	DBPath string `yaml:"db_path"`
}

// CleanupConfig drives the sweep and expiry loops.
type CleanupConfig struct {
	// How often the store sweep removes retired sessions
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// How often expiry rules are evaluated
	AutoCleanupInterval time.Duration `yaml:"auto_cleanup_interval"`

	// Directory for archived and exported sessions
	ArchiveDir string `yaml:"archive_dir"`
}

// BackupConfig drives scheduled and manual backups.
type BackupConfig struct {
	// Directory for backup archives and the catalog
	BackupDir string `yaml:"backup_dir"`

	// How many backups to retain
	MaxBackups int `yaml:"max_backups"`

	// Cron expression for scheduled backups; empty disables them
	Schedule string `yaml:"schedule"`

	// Archive format for scheduled backups (json, jsonl, yaml, csv)
	Format string `yaml:"format"`

	// Gzip scheduled backup archives
	Compress bool `yaml:"compress"`
}

// SyncConfig drives cross-session synchronization.
type SyncConfig struct {
	// Execution mode (auto, delayed, manual)
	Mode string `yaml:"mode"`

	// Periodic queue processing cadence
	Interval time.Duration `yaml:"interval"`

	// Attempts per queued operation
	MaxRetries int `yaml:"max_retries"`

	// Operations executing at once
	MaxConcurrent int `yaml:"max_concurrent"`

	// Platform preferred by the source_priority conflict strategy
	PriorityPlatform string `yaml:"priority_platform"`
}

// TrackerConfig bounds retained transition and event history.
type TrackerConfig struct {
	// Path to the BoltDB record file; empty keeps records in memory
	RecordsPath string `yaml:"records_path"`

	// How long to keep transition and event records, in days
	HistoryRetentionDays int `yaml:"history_retention_days"`

	// Per-session record cap
	MaxEventsPerSession int `yaml:"max_events_per_session"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level"`

	// Log output destination (stdout, stderr, file path)
	Output string `yaml:"output"`

	// Log format (text, json)
	Format string `yaml:"format"`
}

// Validate checks if the configuration satisfies all invariants.
//
// Returns an error if any invariant is violated:
//   - Unknown storage backend, or a backend missing its path setting
//   - Invalid time durations (must be > 0)
//   - Invalid retention or concurrency limits (must be > 0)
//   - Invalid sync mode
//   - Invalid log level or format
//
// Thread-safety: This method is read-only and thread-safe.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendDatabase:
	default:
		return ErrInvalidBackend
	}
	if c.Storage.Backend == BackendFile && c.Storage.DataDir == "" {
		return ErrMissingDataDir
	}
	if c.Storage.Backend == BackendDatabase && c.Storage.DBPath == "" {
		return ErrMissingDBPath
	}

	if c.Cleanup.SweepInterval <= 0 {
		return ErrInvalidSweepInterval
	}
	if c.Cleanup.AutoCleanupInterval <= 0 {
		return ErrInvalidCleanupInterval
	}

	if c.Backup.MaxBackups <= 0 {
		return ErrInvalidMaxBackups
	}

	validModes := map[string]bool{
		"auto":    true,
		"delayed": true,
		"manual":  true,
	}
	if !validModes[c.Sync.Mode] {
		return ErrInvalidSyncMode
	}
	if c.Sync.Interval <= 0 {
		return ErrInvalidSyncInterval
	}
	if c.Sync.MaxRetries <= 0 || c.Sync.MaxConcurrent <= 0 {
		return ErrInvalidSyncLimits
	}

	if c.Tracker.HistoryRetentionDays <= 0 {
		return ErrInvalidRetention
	}
	if c.Tracker.MaxEventsPerSession <= 0 {
		return ErrInvalidEventCap
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	validFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validFormats[c.Logging.Format] {
		return ErrInvalidLogFormat
	}

	return nil
}

// Default returns a configuration with sensible default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendMemory,
			DataDir: defaultDataDir(),
			DBPath:  defaultDBPath(),
		},
		Cleanup: CleanupConfig{
			SweepInterval:       5 * time.Minute,
			AutoCleanupInterval: 30 * time.Minute,
			ArchiveDir:          defaultArchiveDir(),
		},
		Backup: BackupConfig{
			BackupDir:  defaultBackupDir(),
			MaxBackups: 10,
			Format:     "json",
			Compress:   true,
		},
		Sync: SyncConfig{
			Mode:          "auto",
			Interval:      time.Minute,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Tracker: TrackerConfig{
			RecordsPath:          defaultRecordsPath(),
			HistoryRetentionDays: 30,
			MaxEventsPerSession:  1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			Format: "text",
		},
	}
}
