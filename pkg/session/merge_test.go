package session

import (
	"testing"
	"time"
)

func TestMergeHistoryUnion(t *testing.T) {
	a := New("chat-1", "user-1", PlatformTelegram, TypePrivate)
	b := a.Clone()

	a.AddMessage(Message{ID: "m1", Content: "from a", UserID: "user-1"})
	a.AddMessage(Message{ID: "shared", Content: "both", UserID: "user-1"})
	b.AddMessage(Message{ID: "shared", Content: "both", UserID: "user-1"})
	b.AddMessage(Message{ID: "m2", Content: "from b", UserID: "user-1"})

	a.Merge(b)

	if len(a.History) != 3 {
		t.Fatalf("merged history length = %d, want 3", len(a.History))
	}

	// Existing order preserved, new entries appended in source order.
	wantIDs := []string{"m1", "shared", "m2"}
	for i, id := range wantIDs {
		if a.History[i].ID != id {
			t.Errorf("History[%d].ID = %s, want %s", i, a.History[i].ID, id)
		}
	}
}

// TestMergeAsymmetry pins the deliberate asymmetry of the merge rule:
// incoming data values replace existing ones, while existing metadata keys
// always win. The asymmetry protects policy knobs while letting feature
// state update.
func TestMergeAsymmetry(t *testing.T) {
	dst := New("chat-1", "user-1", PlatformTelegram, TypePrivate)
	dst.Data["topic"] = String("old")
	dst.Metadata[MetaMaxHistory] = Number(10)

	src := dst.Clone()
	src.Data["topic"] = String("new")
	src.Data["extra"] = Bool(true)
	src.Metadata[MetaMaxHistory] = Number(999)
	src.Metadata["origin"] = String("sync")

	dst.Merge(src)

	// Data: overwritten key-by-key by the incoming copy.
	if v := dst.Data["topic"]; !v.Equal(String("new")) {
		t.Error("incoming data value did not overwrite existing one")
	}
	if v := dst.Data["extra"]; !v.Equal(Bool(true)) {
		t.Error("incoming data key was not added")
	}

	// Metadata: existing keys never overwritten, new keys added.
	if v := dst.Metadata[MetaMaxHistory]; !v.Equal(Number(10)) {
		t.Error("existing metadata key was overwritten by merge")
	}
	if v := dst.Metadata["origin"]; !v.Equal(String("sync")) {
		t.Error("incoming-only metadata key was not added")
	}
}

func TestMergeLastActivity(t *testing.T) {
	dst := New("chat-1", "user-1", PlatformWeb, TypePrivate)
	src := dst.Clone()

	later := dst.LastActivity.Add(time.Hour)
	src.LastActivity = later

	dst.Merge(src)
	if !dst.LastActivity.Equal(later) {
		t.Errorf("LastActivity = %v, want max %v", dst.LastActivity, later)
	}

	// Merging an older copy must not move LastActivity backwards.
	older := src.Clone()
	older.LastActivity = dst.CreatedAt
	dst.Merge(older)
	if !dst.LastActivity.Equal(later) {
		t.Error("merge moved LastActivity backwards")
	}
}

func TestMergeNil(t *testing.T) {
	dst := New("chat-1", "user-1", PlatformWeb, TypePrivate)
	dst.Merge(nil) // must not panic
}
