package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names.
var (
	bucketTransitions = []byte("transitions") // SessionID -> []Transition (JSON)
	bucketEvents      = []byte("events")      // SessionID -> []Event (JSON)
)

// boltRecords implements RecordStore using BoltDB, so transition history
// survives restarts.
type boltRecords struct {
	db *bolt.DB
}

// NewBoltRecords creates a BoltDB-backed record store at the given path.
//
// Parameters:
//   - path: Database file path (parent directory created if absent)
//
// Returns:
//   - Configured RecordStore
//   - Error if the database cannot be opened
func NewBoltRecords(path string) (RecordStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open records database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, createErr := tx.CreateBucketIfNotExists(bucketTransitions); createErr != nil {
			return fmt.Errorf("failed to create transitions bucket: %w", createErr)
		}
		if _, createErr := tx.CreateBucketIfNotExists(bucketEvents); createErr != nil {
			return fmt.Errorf("failed to create events bucket: %w", createErr)
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &boltRecords{db: db}, nil
}

// AppendTransition implements RecordStore.AppendTransition.
func (b *boltRecords) AppendTransition(t Transition) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTransitions)
		key := []byte(t.SessionID)

		var ts []Transition
		if data := bucket.Get(key); data != nil {
			if err := json.Unmarshal(data, &ts); err != nil {
				return fmt.Errorf("failed to decode transitions for %s: %w", t.SessionID, err)
			}
		}
		ts = append(ts, t)

		data, err := json.Marshal(ts)
		if err != nil {
			return fmt.Errorf("failed to encode transitions for %s: %w", t.SessionID, err)
		}
		return bucket.Put(key, data)
	})
}

// AppendEvent implements RecordStore.AppendEvent.
func (b *boltRecords) AppendEvent(e Event) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		key := []byte(e.SessionID)

		var es []Event
		if data := bucket.Get(key); data != nil {
			if err := json.Unmarshal(data, &es); err != nil {
				return fmt.Errorf("failed to decode events for %s: %w", e.SessionID, err)
			}
		}
		es = append(es, e)

		data, err := json.Marshal(es)
		if err != nil {
			return fmt.Errorf("failed to encode events for %s: %w", e.SessionID, err)
		}
		return bucket.Put(key, data)
	})
}

// Transitions implements RecordStore.Transitions.
func (b *boltRecords) Transitions(sessionID string) ([]Transition, error) {
	var ts []Transition
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTransitions).Get([]byte(sessionID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &ts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read transitions: %w", err)
	}
	return ts, nil
}

// Events implements RecordStore.Events.
func (b *boltRecords) Events(sessionID string) ([]Event, error) {
	var es []Event
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEvents).Get([]byte(sessionID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &es)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return es, nil
}

// AllTransitions implements RecordStore.AllTransitions.
func (b *boltRecords) AllTransitions() ([]Transition, error) {
	var all []Transition
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransitions).ForEach(func(_, data []byte) error {
			var ts []Transition
			if err := json.Unmarshal(data, &ts); err != nil {
				return err
			}
			all = append(all, ts...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan transitions: %w", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

// AllEvents implements RecordStore.AllEvents.
func (b *boltRecords) AllEvents() ([]Event, error) {
	var all []Event
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(_, data []byte) error {
			var es []Event
			if err := json.Unmarshal(data, &es); err != nil {
				return err
			}
			all = append(all, es...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

// Prune implements RecordStore.Prune.
//
// Rewrites are staged during iteration and applied afterwards because
// bbolt does not allow mutating a bucket from inside ForEach.
func (b *boltRecords) Prune(cutoff time.Time, maxPerSession int) (int, error) {
	dropped := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTransitions)
		rewrites := make(map[string][]Transition)
		if err := tb.ForEach(func(key, data []byte) error {
			var ts []Transition
			if err := json.Unmarshal(data, &ts); err != nil {
				return err
			}
			kept := pruneTransitions(ts, cutoff, maxPerSession)
			if len(kept) != len(ts) {
				dropped += len(ts) - len(kept)
				rewrites[string(key)] = kept
			}
			return nil
		}); err != nil {
			return err
		}
		for key, kept := range rewrites {
			if err := rewriteRecord(tb, []byte(key), kept, len(kept)); err != nil {
				return err
			}
		}

		eb := tx.Bucket(bucketEvents)
		eventRewrites := make(map[string][]Event)
		if err := eb.ForEach(func(key, data []byte) error {
			var es []Event
			if err := json.Unmarshal(data, &es); err != nil {
				return err
			}
			kept := pruneEvents(es, cutoff, maxPerSession)
			if len(kept) != len(es) {
				dropped += len(es) - len(kept)
				eventRewrites[string(key)] = kept
			}
			return nil
		}); err != nil {
			return err
		}
		for key, kept := range eventRewrites {
			if err := rewriteRecord(eb, []byte(key), kept, len(kept)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune records: %w", err)
	}
	return dropped, nil
}

// rewriteRecord stores the trimmed slice, deleting the key when nothing
// survived the prune.
func rewriteRecord(bucket *bolt.Bucket, key []byte, kept interface{}, keptLen int) error {
	if keptLen == 0 {
		return bucket.Delete(key)
	}
	data, err := json.Marshal(kept)
	if err != nil {
		return err
	}
	return bucket.Put(key, data)
}

// Close implements RecordStore.Close.
func (b *boltRecords) Close() error {
	return b.db.Close()
}
