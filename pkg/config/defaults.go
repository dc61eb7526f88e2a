package config

import (
	"os"
	"path/filepath"
)

// defaultDataDir returns the default file backend directory.
//
// Returns: ~/.config/session-engine/sessions/.
func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./sessions"
	}

	return filepath.Join(homeDir, ".config", "session-engine", "sessions")
}

// defaultDBPath returns the default database file path.
//
// Returns: ~/.config/session-engine/sessions.db.
func defaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./sessions.db"
	}

	return filepath.Join(homeDir, ".config", "session-engine", "sessions.db")
}

// defaultRecordsPath returns the default transition record file path.
//
// Returns: ~/.config/session-engine/records.db.
func defaultRecordsPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./records.db"
	}

	return filepath.Join(homeDir, ".config", "session-engine", "records.db")
}

// defaultArchiveDir returns the default archive directory.
//
// Returns: ~/.config/session-engine/archive/.
func defaultArchiveDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./archive"
	}

	return filepath.Join(homeDir, ".config", "session-engine", "archive")
}

// defaultBackupDir returns the default backup directory.
//
// Returns: ~/.config/session-engine/backups/.
func defaultBackupDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./backups"
	}

	return filepath.Join(homeDir, ".config", "session-engine", "backups")
}

// defaultConfigPath returns the default configuration file path.
//
// Returns: ~/.config/session-engine/config.yaml.
func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}

	return filepath.Join(homeDir, ".config", "session-engine", "config.yaml")
}
