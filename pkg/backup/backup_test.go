package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
	"github.com/0xmhha/session-engine/pkg/store"
)

func newTestManager(t *testing.T) (Manager, store.Store, string) {
	t.Helper()

	st := store.NewMemory(logger.Noop())
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	mgr, err := New(Config{BackupDir: dir}, st, logger.Noop())
	require.NoError(t, err)
	return mgr, st, dir
}

func seedSessions(t *testing.T, st store.Store, n int) []*session.Session {
	t.Helper()

	ctx := context.Background()
	sessions := make([]*session.Session, 0, n)
	for i := 0; i < n; i++ {
		sess := session.New(fmt.Sprintf("chat-%d", i), fmt.Sprintf("user-%d", i), session.PlatformTelegram, session.TypePrivate)
		sess.Data = map[string]session.Value{
			"index": session.Number(float64(i)),
			"topic": session.String("weather"),
		}
		sess.AddMessage(session.NewMessage(fmt.Sprintf("hello %d", i), sess.UserID, "text"))
		require.NoError(t, st.Create(ctx, sess))
		sessions = append(sessions, sess)
	}
	return sessions
}

func TestBackupRoundTrip(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	ctx := context.Background()

	originals := seedSessions(t, st, 10)

	meta, err := mgr.CreateBackup(ctx, Options{Format: FormatJSON, Compress: true})
	require.NoError(t, err)
	assert.Equal(t, 10, meta.SessionCount)
	assert.NotEmpty(t, meta.Checksum)

	for _, sess := range originals {
		require.NoError(t, st.Delete(ctx, sess.ID))
	}
	count, err := st.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	result, err := mgr.RestoreBackup(ctx, meta.ID, StrategyReplace)
	require.NoError(t, err)
	assert.True(t, result.ChecksumValid)
	assert.Equal(t, 10, result.Restored)
	assert.Zero(t, result.Failed)

	for _, original := range originals {
		restored, err := st.Get(ctx, original.ID)
		require.NoError(t, err, "session %s missing after restore", original.ID)
		assert.Equal(t, len(original.History), len(restored.History))
		for key, want := range original.Data {
			got, ok := restored.Data[key]
			require.True(t, ok, "data key %s missing", key)
			assert.True(t, want.Equal(got), "data key %s changed", key)
		}
	}
}

func TestBackupAllFormatsRestore(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatJSONL, FormatYAML, FormatCSV} {
		t.Run(string(format), func(t *testing.T) {
			mgr, st, _ := newTestManager(t)
			ctx := context.Background()

			originals := seedSessions(t, st, 3)

			meta, err := mgr.CreateBackup(ctx, Options{Format: format})
			require.NoError(t, err)

			for _, sess := range originals {
				require.NoError(t, st.Delete(ctx, sess.ID))
			}

			result, err := mgr.RestoreBackup(ctx, meta.ID, StrategyReplace)
			require.NoError(t, err)
			assert.Equal(t, 3, result.Restored)

			restored, err := st.Get(ctx, originals[0].ID)
			require.NoError(t, err)
			assert.Equal(t, originals[0].ChatID, restored.ChatID)
			assert.Len(t, restored.History, 1)
			topic, ok := restored.Data["topic"]
			require.True(t, ok)
			assert.True(t, topic.Equal(session.String("weather")))
		})
	}
}

func TestVerifyIntegrityFlippedByte(t *testing.T) {
	mgr, st, dir := newTestManager(t)
	ctx := context.Background()

	seedSessions(t, st, 3)

	meta, err := mgr.CreateBackup(ctx, Options{Format: FormatJSON})
	require.NoError(t, err)

	good, err := mgr.VerifyIntegrity(meta.ID)
	require.NoError(t, err)
	assert.True(t, good.Valid)

	// Flip one byte in the archive.
	path := filepath.Join(dir, archiveFileName(meta.ID, meta.Format, meta.Compressed))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o600))

	bad, err := mgr.VerifyIntegrity(meta.ID)
	require.NoError(t, err)
	assert.False(t, bad.ChecksumValid)
	assert.False(t, bad.Valid)
}

func TestRestoreProceedsOnChecksumMismatch(t *testing.T) {
	st := store.NewMemory(logger.Noop())
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	mgr, err := New(Config{BackupDir: dir, SkipPreRestoreBackup: true}, st, logger.Noop())
	require.NoError(t, err)
	ctx := context.Background()

	originals := seedSessions(t, st, 2)
	meta, err := mgr.CreateBackup(ctx, Options{Format: FormatJSON})
	require.NoError(t, err)

	// Corrupt the archive in a way that keeps it decodable: append
	// whitespace, which changes the checksum but not the JSON.
	path := filepath.Join(dir, archiveFileName(meta.ID, meta.Format, meta.Compressed))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	for _, sess := range originals {
		require.NoError(t, st.Delete(ctx, sess.ID))
	}

	result, err := mgr.RestoreBackup(ctx, meta.ID, StrategyReplace)
	require.NoError(t, err)
	assert.False(t, result.ChecksumValid)
	assert.Equal(t, 2, result.Restored)
}

func TestRestoreSkipExisting(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	ctx := context.Background()

	originals := seedSessions(t, st, 2)
	meta, err := mgr.CreateBackup(ctx, Options{})
	require.NoError(t, err)

	// Mutate one surviving session; delete the other.
	survivor, err := st.Get(ctx, originals[0].ID)
	require.NoError(t, err)
	survivor.Data["topic"] = session.String("football")
	require.NoError(t, st.Update(ctx, survivor))
	require.NoError(t, st.Delete(ctx, originals[1].ID))

	result, err := mgr.RestoreBackup(ctx, meta.ID, StrategySkipExisting)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Restored)
	assert.Equal(t, 1, result.Skipped)

	// The survivor's local change must be intact.
	got, err := st.Get(ctx, survivor.ID)
	require.NoError(t, err)
	topic := got.Data["topic"]
	assert.True(t, topic.Equal(session.String("football")))
}

func TestRestoreMergeUnionsHistory(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	ctx := context.Background()

	originals := seedSessions(t, st, 1)
	meta, err := mgr.CreateBackup(ctx, Options{})
	require.NoError(t, err)

	// Add a new message after the backup was taken.
	current, err := st.Get(ctx, originals[0].ID)
	require.NoError(t, err)
	current.AddMessage(session.NewMessage("post-backup", current.UserID, "text"))
	require.NoError(t, st.Update(ctx, current))

	result, err := mgr.RestoreBackup(ctx, meta.ID, StrategyMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Restored)

	merged, err := st.Get(ctx, current.ID)
	require.NoError(t, err)
	// One seeded message plus the post-backup one; the archived copy of
	// the seeded message must not duplicate.
	assert.Len(t, merged.History, 2)
}

func TestRestorePreBackupTaken(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	ctx := context.Background()

	seedSessions(t, st, 1)
	meta, err := mgr.CreateBackup(ctx, Options{})
	require.NoError(t, err)

	result, err := mgr.RestoreBackup(ctx, meta.ID, StrategyReplace)
	require.NoError(t, err)
	require.NotEmpty(t, result.PreBackupID)

	// The safety backup must be restorable itself.
	verify, err := mgr.VerifyIntegrity(result.PreBackupID)
	require.NoError(t, err)
	assert.True(t, verify.Valid)
}

func TestRestoreRejectsMalformedSessions(t *testing.T) {
	st := store.NewMemory(logger.Noop())
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	mgr, err := New(Config{BackupDir: dir, SkipPreRestoreBackup: true}, st, logger.Noop())
	require.NoError(t, err)
	ctx := context.Background()

	originals := seedSessions(t, st, 2)
	meta, err := mgr.CreateBackup(ctx, Options{Format: FormatJSONL})
	require.NoError(t, err)

	// Blank out one session's user_id inside the archive.
	path := filepath.Join(dir, archiveFileName(meta.ID, meta.Format, meta.Compressed))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupted := []byte(replaceOnce(string(data), `"user_id":"user-0"`, `"user_id":""`))
	require.NoError(t, os.WriteFile(path, corrupted, 0o600))

	for _, sess := range originals {
		require.NoError(t, st.Delete(ctx, sess.ID))
	}

	result, err := mgr.RestoreBackup(ctx, meta.ID, StrategyReplace)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Restored)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], originals[0].ID)
}

func replaceOnce(s, old, new string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + new + s[i+len(old):]
		}
	}
	return s
}

func TestRetentionKeepsNewest(t *testing.T) {
	st := store.NewMemory(logger.Noop())
	t.Cleanup(func() { st.Close() })

	mgr, err := New(Config{BackupDir: t.TempDir(), MaxBackups: 2}, st, logger.Noop())
	require.NoError(t, err)
	ctx := context.Background()

	seedSessions(t, st, 1)

	var ids []string
	for i := 0; i < 4; i++ {
		meta, err := mgr.CreateBackup(ctx, Options{})
		require.NoError(t, err)
		ids = append(ids, meta.ID)
		time.Sleep(5 * time.Millisecond)
	}

	backups, err := mgr.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, ids[3], backups[0].ID)
	assert.Equal(t, ids[2], backups[1].ID)
}

func TestExportImportSingleSession(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	ctx := context.Background()

	originals := seedSessions(t, st, 1)
	path := filepath.Join(t.TempDir(), "session.yaml")

	require.NoError(t, mgr.ExportSession(ctx, originals[0].ID, path, FormatYAML))
	require.NoError(t, st.Delete(ctx, originals[0].ID))

	imported, err := mgr.ImportSession(ctx, path, "")
	require.NoError(t, err)
	assert.Equal(t, originals[0].ID, imported.ID)

	restored, err := st.Get(ctx, originals[0].ID)
	require.NoError(t, err)
	assert.Equal(t, originals[0].UserID, restored.UserID)
	assert.Len(t, restored.History, 1)
}

func TestImportRejectsDuplicate(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	ctx := context.Background()

	originals := seedSessions(t, st, 1)
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, mgr.ExportSession(ctx, originals[0].ID, path, FormatJSON))

	_, err := mgr.ImportSession(ctx, path, FormatJSON)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrDuplicateID))
}

func TestMigrateFormat(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	ctx := context.Background()

	originals := seedSessions(t, st, 3)

	meta, err := mgr.CreateBackup(ctx, Options{Format: FormatJSON, Compress: true})
	require.NoError(t, err)

	migrated, err := mgr.MigrateFormat(meta.ID, FormatCSV, false)
	require.NoError(t, err)
	assert.NotEqual(t, meta.ID, migrated.ID)
	assert.Equal(t, FormatCSV, migrated.Format)
	assert.Equal(t, 3, migrated.SessionCount)

	for _, sess := range originals {
		require.NoError(t, st.Delete(ctx, sess.ID))
	}
	result, err := mgr.RestoreBackup(ctx, migrated.ID, StrategyReplace)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Restored)

	// The original archive survives a migration.
	verify, err := mgr.VerifyIntegrity(meta.ID)
	require.NoError(t, err)
	assert.True(t, verify.Valid)
}

func TestBackupWithFilter(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	ctx := context.Background()

	seedSessions(t, st, 3)
	other := session.New("chat-x", "user-x", session.PlatformDiscord, session.TypePrivate)
	require.NoError(t, st.Create(ctx, other))

	meta, err := mgr.CreateBackup(ctx, Options{Filter: store.Filter{Platform: session.PlatformDiscord}})
	require.NoError(t, err)
	assert.Equal(t, 1, meta.SessionCount)
}

func TestRestoreUnknownBackup(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.RestoreBackup(context.Background(), "nope", StrategyReplace)
	assert.True(t, errors.Is(err, ErrBackupNotFound))

	_, err = mgr.RestoreBackup(context.Background(), "nope", "clobber")
	assert.True(t, errors.Is(err, ErrInvalidStrategy))
}
