package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/localstore"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

const testUser = "alice"

func mustSyncer(t *testing.T, cfg Config) *Syncer {
	t.Helper()
	if cfg.IDs == nil {
		cfg.IDs = &sequenceIDs{}
	}
	syncer, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to construct syncer: %v", err)
	}
	return syncer
}

func sampleSnapshot() localstore.Snapshot {
	return localstore.Snapshot{
		Locations: []apiary.Location{{ID: "loc-1", Name: "Apiary A"}},
		Beehives:  []apiary.Beehive{{ID: "hive-1", Name: "Hive 1", LocationID: "loc-1"}},
		Recordings: []apiary.Recording{{
			ID:         "rec-1",
			Date:       "01.05.2024",
			AudioURL:   "https://cdn.example.com/alice/rec-1.webm",
			Priority:   apiary.PriorityHigh,
			BeehiveID:  "hive-1",
			LocationID: "loc-1",
			CreatedAt:  1714550400000,
		}},
	}
}

func TestRunRoundTripIsIdempotent(t *testing.T) {
	remote := newFakeRemote()
	syncer := mustSyncer(t, Config{Remote: remote.remote()})
	ctx := context.Background()

	first, err := syncer.Run(ctx, testUser, sampleSnapshot())
	if err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if first.Locations.Inserted != 1 || first.Beehives.Inserted != 1 || first.Recordings.Inserted != 1 {
		t.Fatalf("unexpected first sync counts %#v", first)
	}
	if diff := cmp.Diff(sampleSnapshot(), first.Snapshot); diff != "" {
		t.Fatalf("merge changed local data (-want +got):\n%s", diff)
	}

	writesBefore := remote.writes()
	second, err := syncer.Run(ctx, testUser, first.Snapshot)
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if second.Writes() != 0 || remote.writes() != writesBefore {
		t.Fatalf("expected no writes on the second sync, got %d", second.Writes())
	}
	if diff := cmp.Diff(first.Snapshot, second.Snapshot); diff != "" {
		t.Fatalf("second sync changed the snapshot (-want +got):\n%s", diff)
	}
}

func TestRunRegeneratesCollidingIDsAndPropagatesToChildren(t *testing.T) {
	remote := newFakeRemote()
	remote.locations.rows = []records.LocationRow{{ID: "loc-1", UserID: "bob", Name: "Bob's apiary"}}
	syncer := mustSyncer(t, Config{Remote: remote.remote()})

	result, err := syncer.Run(context.Background(), testUser, sampleSnapshot())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Locations.Regenerated != 1 {
		t.Fatalf("expected one regenerated id, got %d", result.Locations.Regenerated)
	}
	location := result.Snapshot.Locations[0]
	if location.ID != "gen-1" || location.Name != "Apiary A" {
		t.Fatalf("unexpected regenerated location %#v", location)
	}
	if result.Snapshot.Beehives[0].LocationID != "gen-1" {
		t.Fatalf("expected beehive to follow the new location id, got %s", result.Snapshot.Beehives[0].LocationID)
	}
	if result.Snapshot.Recordings[0].LocationID != "gen-1" {
		t.Fatalf("expected recording to follow the new location id, got %s", result.Snapshot.Recordings[0].LocationID)
	}

	expectedRemote := []records.LocationRow{
		{ID: "loc-1", UserID: "bob", Name: "Bob's apiary"},
		{ID: "gen-1", UserID: testUser, Name: "Apiary A"},
	}
	if diff := cmp.Diff(expectedRemote, remote.locations.snapshot()); diff != "" {
		t.Fatalf("remote locations mismatch (-want +got):\n%s", diff)
	}
	if remote.beehives.snapshot()[0].LocationID != "gen-1" {
		t.Fatalf("expected remote beehive to reference the new location id")
	}
}

func TestRunStagesUpdatesOnlyForSyncedFields(t *testing.T) {
	remote := newFakeRemote()
	remote.locations.rows = []records.LocationRow{{ID: "loc-1", UserID: testUser, Name: "Old name"}}
	remote.beehives.rows = []records.BeehiveRow{{ID: "hive-1", UserID: testUser, Name: "Hive 1", LocationID: "loc-1"}}
	remote.recordings.rows = []records.RecordingRow{{
		ID:         "rec-1",
		UserID:     testUser,
		Date:       "01.05.2024",
		AudioURL:   "https://cdn.example.com/other.webm",
		Priority:   "high",
		BeehiveID:  "hive-1",
		LocationID: "loc-1",
		CreatedAt:  1714550400000,
	}}
	syncer := mustSyncer(t, Config{Remote: remote.remote()})

	result, err := syncer.Run(context.Background(), testUser, sampleSnapshot())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Locations.Updated != 1 || result.Beehives.Updated != 0 || result.Recordings.Updated != 0 {
		t.Fatalf("unexpected update counts %#v", result)
	}
	if remote.locations.snapshot()[0].Name != "Apiary A" {
		t.Fatalf("expected local name to win")
	}

	changed := result.Snapshot
	changed.Recordings = append([]apiary.Recording(nil), changed.Recordings...)
	changed.Recordings[0].Priority = apiary.PrioritySolved
	result, err = syncer.Run(context.Background(), testUser, changed)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Recordings.Updated != 1 || remote.recordings.snapshot()[0].Priority != "solved" {
		t.Fatalf("expected priority update, got %#v", result.Recordings)
	}
}

func TestRunAppendsRemoteOnlyItemsAfterLocalItems(t *testing.T) {
	remote := newFakeRemote()
	remote.locations.rows = []records.LocationRow{
		{ID: "loc-9", UserID: testUser, Name: "Remote only"},
		{ID: "loc-8", UserID: "bob", Name: "Not mine"},
	}
	remote.recordings.rows = []records.RecordingRow{{
		ID: "rec-9", UserID: testUser, Date: "02.05.2024", AudioURL: "https://cdn.example.com/rec-9.webm",
		Priority: "low", BeehiveID: "hive-9", LocationID: "loc-9", CreatedAt: 5,
	}}
	syncer := mustSyncer(t, Config{Remote: remote.remote()})

	result, err := syncer.Run(context.Background(), testUser, sampleSnapshot())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	expectedLocations := []apiary.Location{{ID: "loc-1", Name: "Apiary A"}, {ID: "loc-9", Name: "Remote only"}}
	if diff := cmp.Diff(expectedLocations, result.Snapshot.Locations); diff != "" {
		t.Fatalf("merged locations mismatch (-want +got):\n%s", diff)
	}
	if result.Locations.Adopted != 1 || result.Recordings.Adopted != 1 {
		t.Fatalf("unexpected adoption counts %#v", result)
	}
	adopted := result.Snapshot.Recordings[1]
	if adopted.Priority != apiary.PriorityLow || adopted.LastListened != nil || adopted.BeehiveID != "hive-9" {
		t.Fatalf("unexpected adopted recording %#v", adopted)
	}
}

func TestRunFetchFailureKeepsLocalItemsAndAttemptsOtherCollections(t *testing.T) {
	remote := newFakeRemote()
	remote.beehives.listErr = errors.New("connection reset")
	syncer := mustSyncer(t, Config{Remote: remote.remote()})

	input := sampleSnapshot()
	result, err := syncer.Run(context.Background(), testUser, input)
	var fetchErr *SyncFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if fetchErr.Kind != apiary.KindBeehive {
		t.Fatalf("unexpected fetch error kind %s", fetchErr.Kind)
	}
	if diff := cmp.Diff(input.Beehives, result.Snapshot.Beehives); diff != "" {
		t.Fatalf("expected beehives unchanged (-want +got):\n%s", diff)
	}
	if result.Locations.Inserted != 1 || result.Recordings.Inserted != 1 {
		t.Fatalf("expected the other collections to sync, got %#v", result)
	}
}

func TestRunInsertFailureSkipsRemainingWrites(t *testing.T) {
	remote := newFakeRemote()
	remote.locations.rows = []records.LocationRow{
		{ID: "loc-1", UserID: testUser, Name: "Stale"},
		{ID: "loc-9", UserID: testUser, Name: "Remote only"},
	}
	remote.locations.insertErr = errors.New("insert rejected")
	syncer := mustSyncer(t, Config{Remote: remote.remote()})

	input := sampleSnapshot()
	input.Locations = append(input.Locations, apiary.Location{ID: "loc-2", Name: "New"}, apiary.Location{ID: "loc-3", Name: "Newer"})
	result, err := syncer.Run(context.Background(), testUser, input)

	var writeErr *SyncWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected write error, got %v", err)
	}
	if writeErr.Phase != PhaseInsert || writeErr.ID != "loc-2" {
		t.Fatalf("unexpected write error %#v", writeErr)
	}
	if remote.locations.insertCalls != 1 || remote.locations.updateCalls != 0 {
		t.Fatalf("expected one insert attempt and no updates, got %d/%d", remote.locations.insertCalls, remote.locations.updateCalls)
	}
	if len(result.Snapshot.Locations) != 4 || result.Snapshot.Locations[3].ID != "loc-9" {
		t.Fatalf("expected merge result despite write failure, got %#v", result.Snapshot.Locations)
	}
}

func TestRunUpdateFailureStopsRemainingUpdates(t *testing.T) {
	remote := newFakeRemote()
	remote.locations.rows = []records.LocationRow{
		{ID: "loc-1", UserID: testUser, Name: "Stale 1"},
		{ID: "loc-2", UserID: testUser, Name: "Stale 2"},
	}
	remote.locations.updateErr = errors.New("update rejected")
	syncer := mustSyncer(t, Config{Remote: remote.remote()})

	input := sampleSnapshot()
	input.Locations = append(input.Locations, apiary.Location{ID: "loc-2", Name: "Fresh 2"})
	_, err := syncer.Run(context.Background(), testUser, input)

	var writeErr *SyncWriteError
	if !errors.As(err, &writeErr) || writeErr.Phase != PhaseUpdate {
		t.Fatalf("expected update write error, got %v", err)
	}
	if remote.locations.updateCalls != 1 {
		t.Fatalf("expected a single update attempt, got %d", remote.locations.updateCalls)
	}
}

func TestRunTreatsExistenceCheckFailureAsNoCollision(t *testing.T) {
	remote := newFakeRemote()
	remote.locations.existsErr = errors.New("count failed")
	syncer := mustSyncer(t, Config{Remote: remote.remote()})

	result, err := syncer.Run(context.Background(), testUser, sampleSnapshot())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Snapshot.Locations[0].ID != "loc-1" || result.Locations.Inserted != 1 {
		t.Fatalf("expected insert with the original id, got %#v", result.Snapshot.Locations)
	}
}

func TestRunUploadsInlineAudio(t *testing.T) {
	remote := newFakeRemote()
	uploader := &fakeUploader{}
	transient := audio.NewTransientStore()
	reference, err := transient.Put(audio.Payload{ContentType: audio.ContentTypeWAV, Data: []byte("hum")})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	syncer := mustSyncer(t, Config{Remote: remote.remote(), Uploader: uploader, Transient: transient})

	input := sampleSnapshot()
	input.Recordings[0].AudioURL = "data:audio/webm;base64,YnV6eg=="
	second := input.Recordings[0]
	second.ID = "rec-2"
	second.AudioURL = reference
	input.Recordings = append(input.Recordings, second)

	result, err := syncer.Run(context.Background(), testUser, input)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Snapshot.Recordings[0].AudioURL != "https://cdn.example.com/alice/rec-1.webm" {
		t.Fatalf("unexpected uploaded url %s", result.Snapshot.Recordings[0].AudioURL)
	}
	if result.Snapshot.Recordings[1].AudioURL != "https://cdn.example.com/alice/rec-2.wav" {
		t.Fatalf("unexpected uploaded url %s", result.Snapshot.Recordings[1].AudioURL)
	}
	if string(uploader.uploads["rec-1"].Data) != "buzz" {
		t.Fatalf("unexpected uploaded payload %#v", uploader.uploads["rec-1"])
	}
	if remote.recordings.snapshot()[0].AudioURL != result.Snapshot.Recordings[0].AudioURL {
		t.Fatalf("expected remote row to carry the uploaded url")
	}
	if transient.Len() != 0 {
		t.Fatalf("expected transient payload to be released after upload")
	}
}

func TestRunRejectsConcurrentSync(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	remote := newFakeRemote()
	entered := make(chan struct{})
	release := make(chan struct{})
	remote.locations.listHook = func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	}
	syncer := mustSyncer(t, Config{Remote: remote.remote()})

	done := make(chan error, 1)
	go func() {
		_, err := syncer.Run(context.Background(), testUser, sampleSnapshot())
		done <- err
	}()
	<-entered

	if !syncer.Running() {
		t.Fatalf("expected sync to be in flight")
	}
	_, err := syncer.Run(context.Background(), testUser, sampleSnapshot())
	if !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected in-progress error, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if syncer.Running() {
		t.Fatalf("expected guard to be released")
	}
}

func TestRunTimeoutIsRetryable(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	remote := newFakeRemote()
	remote.locations.listHook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	syncer := mustSyncer(t, Config{Remote: remote.remote(), Timeout: 20 * time.Millisecond})

	_, err := syncer.Run(context.Background(), testUser, sampleSnapshot())
	if !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("expected timeout to be retryable")
	}
}

func TestRunRequiresUser(t *testing.T) {
	syncer := mustSyncer(t, Config{Remote: newFakeRemote().remote()})
	if _, err := syncer.Run(context.Background(), " ", sampleSnapshot()); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected missing user error, got %v", err)
	}
}

type statusError struct{ status int }

func (e statusError) Error() string   { return "status" }
func (e statusError) Retryable() bool { return e.status >= 500 }

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatalf("nil must not be retryable")
	}
	if !IsRetryable(&SyncFetchError{Kind: apiary.KindLocation, Err: statusError{status: 503}}) {
		t.Fatalf("expected wrapped server error to be retryable")
	}
	if IsRetryable(&SyncWriteError{Kind: apiary.KindLocation, Phase: PhaseInsert, Err: statusError{status: 409}}) {
		t.Fatalf("expected conflict to be final")
	}
}
