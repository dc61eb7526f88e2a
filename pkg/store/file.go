package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/0xmhha/session-engine/pkg/logger"
	"github.com/0xmhha/session-engine/pkg/session"
)

// Durable file names written under the store directory.
const (
	sessionsFileName = "sessions.json"
	indexFileName    = "index.json"
)

// fileIndex is the durable mirror of the secondary indexes. The generation
// counter distinguishes the store's own writes from external ones.
type fileIndex struct {
	Generation uint64              `json:"generation"`
	ByUser     map[string][]string `json:"by_user"`
	ByChat     map[string][]string `json:"by_chat"`
	ByPlatform map[string][]string `json:"by_platform"`
}

// fileStore implements Store by keeping the full state in memory and
// mirroring it to two snapshot files after every mutation (write-behind).
// A crash between a mutation and the next flush loses at most the latest
// write.
//
// The snapshot files are watched with fsnotify: when an external process
// rewrites them (restore tooling, operator edits) the in-memory state is
// reloaded. The store's own writes are recognized by the generation counter
// embedded in the index snapshot and ignored.
type fileStore struct {
	mem    *memoryStore
	logger logger.Logger
	dir    string

	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	genMu      sync.Mutex
	generation uint64

	fsw       *fsnotify.Watcher
	closeOnce sync.Once
	closeErr  error
}

// NewFile creates a file-backed session store rooted at dir.
//
// Parameters:
//   - dir: Directory for the snapshot files (created if absent)
//   - log: Logger instance
//
// Returns:
//   - Configured Store
//   - Error if the directory cannot be prepared or existing snapshots
//     cannot be loaded
func NewFile(dir string, log logger.Logger) (Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %w", ErrStorage, err)
	}

	f := &fileStore{
		mem:     newMemory(log),
		logger:  log,
		dir:     dir,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}

	if err := f.load(); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: create watcher: %w", ErrStorage, err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("%w: watch store directory: %w", ErrStorage, err)
	}
	f.fsw = fsw

	f.wg.Add(2)
	go f.flushLoop()
	go f.watchLoop()

	log.Info("file store opened", "dir", dir)
	return f, nil
}

// Create implements Store.Create.
func (f *fileStore) Create(ctx context.Context, sess *session.Session) error {
	return f.mutating(func() error { return f.mem.Create(ctx, sess) })
}

// Get implements Store.Get. Lazy eviction counts as a mutation and schedules
// a flush.
func (f *fileStore) Get(ctx context.Context, id string) (*session.Session, error) {
	var sess *session.Session
	err := f.mutating(func() error {
		var getErr error
		sess, getErr = f.mem.Get(ctx, id)
		return getErr
	})
	return sess, err
}

// Update implements Store.Update.
func (f *fileStore) Update(ctx context.Context, sess *session.Session) error {
	return f.mutating(func() error { return f.mem.Update(ctx, sess) })
}

// Delete implements Store.Delete.
func (f *fileStore) Delete(ctx context.Context, id string) error {
	return f.mutating(func() error { return f.mem.Delete(ctx, id) })
}

// Find implements Store.Find.
func (f *fileStore) Find(ctx context.Context, filter Filter) ([]*session.Session, error) {
	return f.mem.Find(ctx, filter)
}

// CleanupExpired implements Store.CleanupExpired.
func (f *fileStore) CleanupExpired(ctx context.Context) (int, error) {
	var removed int
	err := f.mutating(func() error {
		var cleanErr error
		removed, cleanErr = f.mem.CleanupExpired(ctx)
		return cleanErr
	})
	return removed, err
}

// Count implements Store.Count.
func (f *fileStore) Count(ctx context.Context) (int, error) {
	return f.mem.Count(ctx)
}

// Close implements Store.Close. Pending mutations are flushed before the
// store shuts down.
func (f *fileStore) Close() error {
	f.closeOnce.Do(func() {
		close(f.stopCh)
		if f.fsw != nil {
			f.fsw.Close()
		}
		f.wg.Wait()

		if err := f.flush(); err != nil {
			f.closeErr = err
		}
		f.mem.Close()
	})
	return f.closeErr
}

// mutating runs op and schedules a flush if the in-memory state changed.
// Lazy evictions inside read paths are picked up the same way as explicit
// writes.
func (f *fileStore) mutating(op func() error) error {
	f.mem.mu.RLock()
	before := f.mem.version
	f.mem.mu.RUnlock()

	err := op()

	f.mem.mu.RLock()
	changed := f.mem.version != before
	f.mem.mu.RUnlock()

	if changed {
		f.markDirty()
	}
	return err
}

// markDirty wakes the flush loop. A single pending signal is enough since
// every flush writes the full snapshot.
func (f *fileStore) markDirty() {
	select {
	case f.flushCh <- struct{}{}:
	default:
	}
}

// flushLoop rewrites the snapshot files after mutations until the store is
// closed.
func (f *fileStore) flushLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.stopCh:
			return
		case <-f.flushCh:
			if err := f.flush(); err != nil {
				f.logger.Error("snapshot flush failed", "error", err)
			}
		}
	}
}

// flush writes the session snapshot and index snapshot atomically. The index
// file carries the new generation and is written last so a reader observing
// the new generation also observes the new sessions file.
func (f *fileStore) flush() error {
	f.genMu.Lock()
	defer f.genMu.Unlock()

	f.mem.mu.RLock()
	sessions := f.mem.snapshotLocked()
	f.mem.mu.RUnlock()

	f.generation++
	idx := buildIndex(sessions, f.generation)

	sessionData, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	indexData, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	if err := atomicWrite(filepath.Join(f.dir, sessionsFileName), sessionData); err != nil {
		return fmt.Errorf("%w: write sessions snapshot: %w", ErrStorage, err)
	}
	if err := atomicWrite(filepath.Join(f.dir, indexFileName), indexData); err != nil {
		return fmt.Errorf("%w: write index snapshot: %w", ErrStorage, err)
	}

	f.logger.Debug("snapshot flushed",
		"sessions", len(sessions),
		"generation", f.generation)
	return nil
}

// watchLoop reloads the store when the snapshot files change on disk with a
// generation other than our own.
func (f *fileStore) watchLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.stopCh:
			return
		case event, ok := <-f.fsw.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if name != sessionsFileName && name != indexFileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			f.maybeReload()
		case err, ok := <-f.fsw.Errors:
			if !ok {
				return
			}
			f.logger.Warn("snapshot watcher error", "error", err)
		}
	}
}

// maybeReload re-reads the snapshots if their generation differs from ours.
func (f *fileStore) maybeReload() {
	f.genMu.Lock()
	defer f.genMu.Unlock()

	idx, err := readIndexFile(filepath.Join(f.dir, indexFileName))
	if err != nil {
		f.logger.Warn("unable to read index snapshot", "error", err)
		return
	}
	if idx == nil || idx.Generation == f.generation {
		return
	}

	sessions, err := readSessionsFile(filepath.Join(f.dir, sessionsFileName))
	if err != nil {
		f.logger.Warn("unable to read sessions snapshot", "error", err)
		return
	}

	f.mem.mu.Lock()
	f.mem.replaceAllLocked(sessions)
	f.mem.mu.Unlock()
	f.generation = idx.Generation

	f.logger.Info("reloaded externally modified snapshot",
		"sessions", len(sessions),
		"generation", idx.Generation)
}

// load reads existing snapshots at open time. Missing files mean an empty
// store.
func (f *fileStore) load() error {
	sessions, err := readSessionsFile(filepath.Join(f.dir, sessionsFileName))
	if err != nil {
		return err
	}

	idx, err := readIndexFile(filepath.Join(f.dir, indexFileName))
	if err != nil {
		return err
	}
	if idx != nil {
		f.generation = idx.Generation
	}

	f.mem.mu.Lock()
	f.mem.replaceAllLocked(sessions)
	f.mem.mu.Unlock()

	if len(sessions) > 0 {
		f.logger.Info("loaded session snapshot", "sessions", len(sessions))
	}
	return nil
}

// readSessionsFile decodes a session snapshot; a missing file yields nil.
func readSessionsFile(path string) ([]*session.Session, error) {
	data, err := os.ReadFile(path) // nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read sessions snapshot: %w", ErrStorage, err)
	}

	var sessions []*session.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("%w: decode sessions snapshot: %w", ErrStorage, err)
	}
	return sessions, nil
}

// readIndexFile decodes an index snapshot; a missing file yields nil.
func readIndexFile(path string) (*fileIndex, error) {
	data, err := os.ReadFile(path) // nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read index snapshot: %w", ErrStorage, err)
	}

	var idx fileIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: decode index snapshot: %w", ErrStorage, err)
	}
	return &idx, nil
}

// buildIndex derives the durable secondary indexes from a snapshot.
func buildIndex(sessions []*session.Session, generation uint64) *fileIndex {
	idx := &fileIndex{
		Generation: generation,
		ByUser:     make(map[string][]string),
		ByChat:     make(map[string][]string),
		ByPlatform: make(map[string][]string),
	}
	for _, sess := range sessions {
		idx.ByUser[sess.UserID] = append(idx.ByUser[sess.UserID], sess.ID)
		idx.ByChat[sess.ChatID] = append(idx.ByChat[sess.ChatID], sess.ID)
		platform := string(sess.Platform)
		idx.ByPlatform[platform] = append(idx.ByPlatform[platform], sess.ID)
	}
	for _, m := range []map[string][]string{idx.ByUser, idx.ByChat, idx.ByPlatform} {
		for _, ids := range m {
			sort.Strings(ids)
		}
	}
	return idx
}

// atomicWrite writes data to a temp file and renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
