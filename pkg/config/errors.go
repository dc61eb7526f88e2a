package config

import "errors"

// Common errors returned by the config package.
var (
	// ErrInvalidBackend is returned when the storage backend is not recognized.
	ErrInvalidBackend = errors.New("invalid storage backend: must be memory, file, or database")

	// ErrMissingDataDir is returned when the file backend has no data directory.
	ErrMissingDataDir = errors.New("file backend requires a data directory")

	// ErrMissingDBPath is returned when the database backend has no file path.
	ErrMissingDBPath = errors.New("database backend requires a database path")

	// ErrInvalidSweepInterval is returned when the sweep interval is <= 0.
	ErrInvalidSweepInterval = errors.New("invalid sweep interval: must be > 0")

	// ErrInvalidCleanupInterval is returned when the cleanup interval is <= 0.
	ErrInvalidCleanupInterval = errors.New("invalid cleanup interval: must be > 0")

	// ErrInvalidMaxBackups is returned when the backup retention count is <= 0.
	ErrInvalidMaxBackups = errors.New("invalid max backups: must be > 0")

	// ErrInvalidSyncMode is returned when the sync mode is not recognized.
	ErrInvalidSyncMode = errors.New("invalid sync mode: must be auto, delayed, or manual")

	// ErrInvalidSyncInterval is returned when the sync interval is <= 0.
	ErrInvalidSyncInterval = errors.New("invalid sync interval: must be > 0")

	// ErrInvalidSyncLimits is returned when sync retry or concurrency limits are <= 0.
	ErrInvalidSyncLimits = errors.New("invalid sync limits: retries and concurrency must be > 0")

	// ErrInvalidRetention is returned when history retention is <= 0.
	ErrInvalidRetention = errors.New("invalid history retention: must be > 0 days")

	// ErrInvalidEventCap is returned when the per-session event cap is <= 0.
	ErrInvalidEventCap = errors.New("invalid event cap: must be > 0")

	// ErrInvalidLogLevel is returned when log level is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level: must be debug, info, warn, or error")

	// ErrInvalidLogFormat is returned when log format is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format: must be text or json")

	// ErrConfigNotFound is returned when config file is not found.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidYAML is returned when config file has invalid YAML syntax.
	ErrInvalidYAML = errors.New("invalid YAML syntax in config file")
)
