package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/localstore"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/syncer"
	"go.uber.org/zap"
)

var errStoreUnavailable = errors.New("store unavailable")

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("id-%d", s.next), nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) last() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return Notice{}
	}
	return n.notices[len(n.notices)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type staticSession struct {
	userID string
}

func (s staticSession) CurrentUserID() string {
	return s.userID
}

type failingStore struct {
	*localstore.Store
	fail bool
}

func (f *failingStore) SaveLocations(ctx context.Context, locations []apiary.Location) error {
	if f.fail {
		return errStoreUnavailable
	}
	return f.Store.SaveLocations(ctx, locations)
}

func (f *failingStore) SaveSnapshot(ctx context.Context, snapshot localstore.Snapshot) error {
	if f.fail {
		return errStoreUnavailable
	}
	return f.Store.SaveSnapshot(ctx, snapshot)
}

type deleteCall struct {
	kind   apiary.EntityKind
	userID string
	id     string
}

type fakeDeleter struct {
	mu    sync.Mutex
	calls []deleteCall
	err   error
}

func (d *fakeDeleter) Delete(_ context.Context, kind apiary.EntityKind, userID string, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, deleteCall{kind: kind, userID: userID, id: id})
	return d.err
}

// fakeSyncer echoes the snapshot back, optionally transformed, and can block until released.
type fakeSyncer struct {
	started   chan struct{}
	release   chan struct{}
	transform func(localstore.Snapshot) localstore.Snapshot
	err       error

	mu    sync.Mutex
	calls int
	users []string
}

func (f *fakeSyncer) Run(ctx context.Context, userID string, snapshot localstore.Snapshot) (syncer.Result, error) {
	f.mu.Lock()
	f.calls++
	f.users = append(f.users, userID)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return syncer.Result{Snapshot: snapshot}, ctx.Err()
		}
	}
	merged := snapshot
	if f.transform != nil {
		merged = f.transform(snapshot)
	}
	return syncer.Result{Snapshot: merged}, f.err
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	state    *State
	store    *localstore.Store
	notifier *recordingNotifier
	syncer   *fakeSyncer
	deleter  *fakeDeleter
}

type fixtureOption func(*Config)

func withStore(store Store) fixtureOption {
	return func(cfg *Config) {
		cfg.Store = store
	}
}

func withSession(userID string) fixtureOption {
	return func(cfg *Config) {
		cfg.Session = staticSession{userID: userID}
	}
}

func mustLocalStore(t *testing.T) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "workspace.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func mustFixture(t *testing.T, options ...fixtureOption) fixture {
	t.Helper()
	store := mustLocalStore(t)
	notifier := &recordingNotifier{}
	syncRunner := &fakeSyncer{}
	deleter := &fakeDeleter{}
	cfg := Config{
		Store:    store,
		Syncer:   syncRunner,
		Deleter:  deleter,
		Session:  staticSession{userID: "user-1"},
		Notifier: notifier,
		IDs:      &sequenceIDs{},
		Clock:    func() time.Time { return time.Date(2024, time.May, 1, 9, 30, 0, 0, time.UTC) },
		Logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(&cfg)
	}
	state, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to construct state: %v", err)
	}
	return fixture{state: state, store: store, notifier: notifier, syncer: syncRunner, deleter: deleter}
}

func mustAddLocation(t *testing.T, state *State, name string) apiary.Location {
	t.Helper()
	location, err := state.AddLocation(context.Background(), name)
	if err != nil {
		t.Fatalf("add location failed: %v", err)
	}
	return location
}

func mustAddBeehive(t *testing.T, state *State, name string, locationID string) apiary.Beehive {
	t.Helper()
	beehive, err := state.AddBeehive(context.Background(), name, locationID)
	if err != nil {
		t.Fatalf("add beehive failed: %v", err)
	}
	return beehive
}

func mustAddRecording(t *testing.T, state *State, audioURL string, beehiveID string) apiary.Recording {
	t.Helper()
	recording, err := state.AddRecording(context.Background(), audioURL, beehiveID, "", apiary.PriorityMedium)
	if err != nil {
		t.Fatalf("add recording failed: %v", err)
	}
	return recording
}
