package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
)

// catalogFileName is the shared metadata catalog next to the archives.
const catalogFileName = "backup_metadata.json"

// backupManager implements the Manager interface.
type backupManager struct {
	config Config
	store  store.Store
	logger logger.Logger

	// mu serializes catalog access and archive writes.
	mu sync.Mutex
}

// New creates a backup manager over the given store.
//
// Parameters:
//   - config: Manager configuration (zero values use defaults)
//   - st: Session store backups are taken from and restored into
//   - log: Logger instance (uses logger.Default() if nil)
//
// Returns:
//   - Configured Manager instance
//   - Error if the backup directory cannot be created
func New(config Config, st store.Store, log logger.Logger) (Manager, error) {
	if log == nil {
		log = logger.Default()
	}
	if config.BackupDir == "" {
		config.BackupDir = DefaultBackupDir
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = DefaultMaxBackups
	}

	if err := os.MkdirAll(config.BackupDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &backupManager{
		config: config,
		store:  st,
		logger: log,
	}, nil
}

// CreateBackup implements Manager.CreateBackup.
func (m *backupManager) CreateBackup(ctx context.Context, opts Options) (*Metadata, error) {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if !opts.Format.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, opts.Format)
	}

	sessions, err := m.store.Find(ctx, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}

	encoded, err := encodeSessions(opts.Format, sessions)
	if err != nil {
		return nil, err
	}
	if opts.Compress {
		if encoded, err = compress(encoded); err != nil {
			return nil, err
		}
	}

	meta := Metadata{
		ID:           newBackupID(),
		CreatedAt:    time.Now().UTC(),
		Format:       opts.Format,
		Compressed:   opts.Compress,
		SessionCount: len(sessions),
		SizeBytes:    int64(len(encoded)),
		Checksum:     checksum(encoded),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writeArchiveLocked(meta, encoded); err != nil {
		return nil, err
	}
	if err := m.applyRetentionLocked(); err != nil {
		m.logger.Warn("backup retention failed", "error", err)
	}

	m.logger.Info("backup created",
		"backup_id", meta.ID,
		"format", meta.Format,
		"compressed", meta.Compressed,
		"sessions", meta.SessionCount)
	return &meta, nil
}

// RestoreBackup implements Manager.RestoreBackup.
func (m *backupManager) RestoreBackup(ctx context.Context, id string, strategy Strategy) (*RestoreResult, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}

	meta, encoded, err := m.readArchive(id)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{
		BackupID:      id,
		Strategy:      strategy,
		ChecksumValid: checksum(encoded) == meta.Checksum,
	}
	if !result.ChecksumValid {
		// Proceed anyway: a partially recovered store beats none, the
		// mismatch is surfaced in the result.
		m.logger.Warn("backup checksum mismatch, restoring anyway", "backup_id", id)
	}

	sessions, err := m.decodeArchive(meta, encoded)
	if err != nil {
		return nil, err
	}

	if !m.config.SkipPreRestoreBackup {
		pre, err := m.CreateBackup(ctx, Options{Format: FormatJSON, Compress: true})
		if err != nil {
			return nil, fmt.Errorf("failed to take pre-restore backup: %w", err)
		}
		result.PreBackupID = pre.ID
	}

	for _, sess := range sessions {
		if err := m.applySession(ctx, sess, strategy); err != nil {
			if errors.Is(err, errSkipped) {
				result.Skipped++
				continue
			}
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sess.ID, err))
			continue
		}
		result.Restored++
	}

	m.logger.Info("backup restored",
		"backup_id", id,
		"strategy", strategy,
		"restored", result.Restored,
		"skipped", result.Skipped,
		"failed", result.Failed)
	return result, nil
}

// errSkipped marks sessions intentionally left untouched by a restore.
var errSkipped = errors.New("skipped")

// applySession writes one archived session into the store under the given
// strategy. Malformed sessions are rejected before any mutation.
func (m *backupManager) applySession(ctx context.Context, sess *session.Session, strategy Strategy) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	switch strategy {
	case StrategyReplace:
		if err := m.store.Create(ctx, sess); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrDuplicateID) {
			return err
		}
		return m.store.Update(ctx, sess)

	case StrategySkipExisting:
		err := m.store.Create(ctx, sess)
		if errors.Is(err, store.ErrDuplicateID) {
			return errSkipped
		}
		return err

	case StrategyMerge:
		existing, err := m.store.Get(ctx, sess.ID)
		if errors.Is(err, store.ErrNotFound) {
			return m.store.Create(ctx, sess)
		} else if err != nil {
			return err
		}
		existing.Merge(sess)
		return m.store.Update(ctx, existing)
	}
	return fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
}

// VerifyIntegrity implements Manager.VerifyIntegrity.
func (m *backupManager) VerifyIntegrity(id string) (*VerifyResult, error) {
	meta, encoded, err := m.readArchive(id)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		BackupID:      id,
		ChecksumValid: checksum(encoded) == meta.Checksum,
		SizeValid:     int64(len(encoded)) == meta.SizeBytes,
	}

	if sessions, err := m.decodeArchive(meta, encoded); err == nil {
		result.CountValid = len(sessions) == meta.SessionCount
	}
	result.Valid = result.ChecksumValid && result.SizeValid && result.CountValid
	return result, nil
}

// ListBackups implements Manager.ListBackups.
func (m *backupManager) ListBackups() ([]Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	catalog, err := m.loadCatalogLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(catalog, func(i, j int) bool {
		return catalog[i].CreatedAt.After(catalog[j].CreatedAt)
	})
	return catalog, nil
}

// DeleteBackup implements Manager.DeleteBackup.
func (m *backupManager) DeleteBackup(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBackupLocked(id)
}

func (m *backupManager) deleteBackupLocked(id string) error {
	catalog, err := m.loadCatalogLocked()
	if err != nil {
		return err
	}

	kept := catalog[:0]
	var removed *Metadata
	for i := range catalog {
		if catalog[i].ID == id {
			removed = &catalog[i]
			continue
		}
		kept = append(kept, catalog[i])
	}
	if removed == nil {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}

	path := filepath.Join(m.config.BackupDir, archiveFileName(removed.ID, removed.Format, removed.Compressed))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove archive: %w", err)
	}
	return m.saveCatalogLocked(kept)
}

// ExportSession implements Manager.ExportSession.
func (m *backupManager) ExportSession(ctx context.Context, sessionID, path string, format Format) error {
	if format == "" {
		format = FormatJSON
	}
	if !format.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	encoded, err := encodeSessions(format, []*session.Session{sess})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// ImportSession implements Manager.ImportSession.
func (m *backupManager) ImportSession(ctx context.Context, path string, format Format) (*session.Session, error) {
	if format == "" {
		guessed, ok := parseFormatFromPath(path)
		if !ok {
			return nil, fmt.Errorf("%w: cannot infer format from %q", ErrInvalidFormat, path)
		}
		format = guessed
	}
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	sessions, err := decodeSessions(format, data)
	if err != nil {
		return nil, err
	}
	if len(sessions) != 1 {
		return nil, fmt.Errorf("import file contains %d sessions, want exactly 1", len(sessions))
	}

	sess := sessions[0]
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to import session: %w", err)
	}
	return sess, nil
}

// MigrateFormat implements Manager.MigrateFormat.
func (m *backupManager) MigrateFormat(id string, format Format, compressed bool) (*Metadata, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}

	meta, encoded, err := m.readArchive(id)
	if err != nil {
		return nil, err
	}
	sessions, err := m.decodeArchive(meta, encoded)
	if err != nil {
		return nil, err
	}

	reencoded, err := encodeSessions(format, sessions)
	if err != nil {
		return nil, err
	}
	if compressed {
		if reencoded, err = compress(reencoded); err != nil {
			return nil, err
		}
	}

	migrated := Metadata{
		ID:           newBackupID(),
		CreatedAt:    time.Now().UTC(),
		Format:       format,
		Compressed:   compressed,
		SessionCount: len(sessions),
		SizeBytes:    int64(len(reencoded)),
		Checksum:     checksum(reencoded),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeArchiveLocked(migrated, reencoded); err != nil {
		return nil, err
	}

	m.logger.Info("backup migrated",
		"source_id", id,
		"backup_id", migrated.ID,
		"format", format,
		"compressed", compressed)
	return &migrated, nil
}

// readArchive loads a backup's catalog entry and raw archive bytes.
func (m *backupManager) readArchive(id string) (Metadata, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	catalog, err := m.loadCatalogLocked()
	if err != nil {
		return Metadata{}, nil, err
	}
	for _, meta := range catalog {
		if meta.ID != id {
			continue
		}
		path := filepath.Join(m.config.BackupDir, archiveFileName(meta.ID, meta.Format, meta.Compressed))
		data, err := os.ReadFile(path)
		if err != nil {
			return Metadata{}, nil, fmt.Errorf("failed to read archive: %w", err)
		}
		return meta, data, nil
	}
	return Metadata{}, nil, fmt.Errorf("%w: %s", ErrBackupNotFound, id)
}

// decodeArchive decompresses (if needed) and decodes archive bytes.
func (m *backupManager) decodeArchive(meta Metadata, encoded []byte) ([]*session.Session, error) {
	if meta.Compressed {
		var err error
		if encoded, err = decompress(encoded); err != nil {
			return nil, err
		}
	}
	return decodeSessions(meta.Format, encoded)
}

// writeArchiveLocked persists an archive and appends its catalog entry.
func (m *backupManager) writeArchiveLocked(meta Metadata, encoded []byte) error {
	path := filepath.Join(m.config.BackupDir, archiveFileName(meta.ID, meta.Format, meta.Compressed))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	catalog, err := m.loadCatalogLocked()
	if err != nil {
		return err
	}
	catalog = append(catalog, meta)
	return m.saveCatalogLocked(catalog)
}

// applyRetentionLocked deletes the oldest backups beyond MaxBackups.
func (m *backupManager) applyRetentionLocked() error {
	if m.config.MaxBackups < 0 {
		return nil
	}

	catalog, err := m.loadCatalogLocked()
	if err != nil {
		return err
	}
	if len(catalog) <= m.config.MaxBackups {
		return nil
	}

	sort.Slice(catalog, func(i, j int) bool {
		return catalog[i].CreatedAt.After(catalog[j].CreatedAt)
	})
	for _, meta := range catalog[m.config.MaxBackups:] {
		if err := m.deleteBackupLocked(meta.ID); err != nil {
			return err
		}
		m.logger.Debug("retention removed backup", "backup_id", meta.ID)
	}
	return nil
}

// loadCatalogLocked reads backup_metadata.json; a missing catalog is empty.
func (m *backupManager) loadCatalogLocked() ([]Metadata, error) {
	data, err := os.ReadFile(filepath.Join(m.config.BackupDir, catalogFileName))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read backup catalog: %w", err)
	}

	var catalog []Metadata
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to decode backup catalog: %w", err)
	}
	return catalog, nil
}

func (m *backupManager) saveCatalogLocked(catalog []Metadata) error {
	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup catalog: %w", err)
	}

	path := filepath.Join(m.config.BackupDir, catalogFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write backup catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize backup catalog: %w", err)
	}
	return nil
}

// newBackupID builds a sortable, collision-free backup identifier.
func newBackupID() string {
	return fmt.Sprintf("backup_%s_%s",
		time.Now().UTC().Format("20060102T150405"),
		uuid.New().String()[:8])
}

// checksum returns the hex SHA-256 of the archive bytes as written.
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
