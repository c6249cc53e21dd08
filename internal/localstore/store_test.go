package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func mustStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "local.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return store
}

func TestLoadEmptyStore(t *testing.T) {
	store := mustStore(t)
	snapshot, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(snapshot.Locations) != 0 || len(snapshot.Beehives) != 0 || len(snapshot.Recordings) != 0 {
		t.Fatalf("expected empty snapshot, got %#v", snapshot)
	}
	if snapshot.Locations == nil || snapshot.Recordings == nil {
		t.Fatalf("expected non-nil empty collections")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := mustStore(t)
	ctx := context.Background()
	listened := int64(1700000005000)
	expected := Snapshot{
		Locations: []apiary.Location{{ID: "loc-1", Name: "Meadow"}},
		Beehives:  []apiary.Beehive{{ID: "hive-1", Name: "Queen Bee", LocationID: "loc-1"}},
		Recordings: []apiary.Recording{{
			ID:           "rec-1",
			Date:         "01.05.2024",
			AudioURL:     "data:audio/webm;base64,YnV6eg==",
			Priority:     apiary.PriorityHigh,
			BeehiveID:    "hive-1",
			LocationID:   "loc-1",
			CreatedAt:    1700000000000,
			LastListened: &listened,
		}},
	}

	if err := store.SaveSnapshot(ctx, expected); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.SaveLocations(ctx, append(expected.Locations, apiary.Location{ID: "loc-2", Name: "Orchard"})); err != nil {
		t.Fatalf("save locations failed: %v", err)
	}
	expected.Locations = append(expected.Locations, apiary.Location{ID: "loc-2", Name: "Orchard"})

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if diff := cmp.Diff(expected, loaded); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadToleratesCorruptAndForeignVersionCollections(t *testing.T) {
	store := mustStore(t)
	ctx := context.Background()

	if err := store.SaveBeehives(ctx, []apiary.Beehive{{ID: "hive-1", Name: "Kept", LocationID: "loc-1"}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	corrupt := collectionRecord{Name: CollectionLocations, SchemaVersion: SchemaVersion, PayloadJSON: "{not json", UpdatedAtSeconds: 1}
	if err := store.db.Create(&corrupt).Error; err != nil {
		t.Fatalf("insert corrupt row failed: %v", err)
	}
	future := collectionRecord{Name: CollectionRecordings, SchemaVersion: SchemaVersion + 1, PayloadJSON: "[]", UpdatedAtSeconds: 1}
	if err := store.db.Create(&future).Error; err != nil {
		t.Fatalf("insert future row failed: %v", err)
	}

	snapshot, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(snapshot.Locations) != 0 || len(snapshot.Recordings) != 0 {
		t.Fatalf("expected unreadable collections to load empty, got %#v", snapshot)
	}
	if len(snapshot.Beehives) != 1 || snapshot.Beehives[0].Name != "Kept" {
		t.Fatalf("expected intact collection to load, got %#v", snapshot.Beehives)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := mustStore(t)
	ctx := context.Background()

	if _, found, err := store.LoadSession(ctx); err != nil || found {
		t.Fatalf("expected no session, found=%v err=%v", found, err)
	}

	expiresAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	session := Session{AccessToken: "token", UserID: "user-1", Email: "keeper@example.com", ExpiresAt: expiresAt}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("save session failed: %v", err)
	}
	session.AccessToken = "rotated"
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("overwrite session failed: %v", err)
	}

	loaded, found, err := store.LoadSession(ctx)
	if err != nil || !found {
		t.Fatalf("expected session, found=%v err=%v", found, err)
	}
	if diff := cmp.Diff(session, loaded); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}
	if loaded.Expired(expiresAt.Add(-time.Second)) || !loaded.Expired(expiresAt) {
		t.Fatalf("unexpected expiry evaluation")
	}

	if err := store.ClearSession(ctx); err != nil {
		t.Fatalf("clear session failed: %v", err)
	}
	if _, found, err := store.LoadSession(ctx); err != nil || found {
		t.Fatalf("expected cleared session, found=%v err=%v", found, err)
	}
}
