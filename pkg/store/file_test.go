package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
)

func TestFileStorePersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := NewFile(dir, logger.Noop())
	require.NoError(t, err)

	sess := newTestSession("chat-1", "user-1")
	sess.AddMessage(session.Message{Content: "persist me", UserID: "user-1"})
	require.NoError(t, st.Create(ctx, sess))
	require.NoError(t, st.Close())

	// Both snapshot files exist after close.
	for _, name := range []string{sessionsFileName, indexFileName} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, statErr, "snapshot %s missing", name)
	}

	// A new store over the same directory sees the session.
	reopened, err := NewFile(dir, logger.Noop())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist me", got.History[0].Content)
}

func TestFileStoreIndexSnapshot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := NewFile(dir, logger.Noop())
	require.NoError(t, err)

	a := newTestSession("chat-1", "alice")
	b := newTestSession("chat-1", "bob")
	require.NoError(t, st.Create(ctx, a))
	require.NoError(t, st.Create(ctx, b))
	require.NoError(t, st.Close())

	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	require.NoError(t, err)

	var idx fileIndex
	require.NoError(t, json.Unmarshal(data, &idx))

	assert.ElementsMatch(t, []string{a.ID}, idx.ByUser["alice"])
	assert.ElementsMatch(t, []string{a.ID, b.ID}, idx.ByChat["chat-1"])
	assert.NotZero(t, idx.Generation)
}

func TestFileStoreExternalReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := NewFile(dir, logger.Noop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Create(ctx, newTestSession("chat-1", "user-1")))

	// Simulate an external process replacing the snapshots with one new
	// session and a foreign generation.
	external := newTestSession("chat-ext", "external-user")
	sessData, err := json.Marshal([]*session.Session{external})
	require.NoError(t, err)
	idxData, err := json.Marshal(buildIndex([]*session.Session{external}, 9999))
	require.NoError(t, err)

	require.NoError(t, atomicWrite(filepath.Join(dir, sessionsFileName), sessData))
	require.NoError(t, atomicWrite(filepath.Join(dir, indexFileName), idxData))

	require.Eventually(t, func() bool {
		got, getErr := st.Get(ctx, external.ID)
		return getErr == nil && got.UserID == "external-user"
	}, 5*time.Second, 50*time.Millisecond, "external snapshot was not reloaded")
}
