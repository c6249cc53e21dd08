// Package workspace is the client's application state: the three collections, the
// domain operations that mutate them, and the entry point for syncing.
package workspace

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/i18n"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/localstore"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/syncer"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Store persists the collections.
type Store interface {
	Load(ctx context.Context) (localstore.Snapshot, error)
	SaveLocations(ctx context.Context, locations []apiary.Location) error
	SaveBeehives(ctx context.Context, beehives []apiary.Beehive) error
	SaveRecordings(ctx context.Context, recordings []apiary.Recording) error
	SaveSnapshot(ctx context.Context, snapshot localstore.Snapshot) error
}

// SyncRunner reconciles a snapshot with the remote store.
type SyncRunner interface {
	Run(ctx context.Context, userID string, snapshot localstore.Snapshot) (syncer.Result, error)
}

// RemoteDeleter removes an entity and its dependents from the remote store.
type RemoteDeleter interface {
	Delete(ctx context.Context, kind apiary.EntityKind, userID string, id string) error
}

// SessionSource exposes the signed-in user id, or "" when signed out.
type SessionSource interface {
	CurrentUserID() string
}

// Config describes the dependencies of a State.
type Config struct {
	Store     Store
	Syncer    SyncRunner
	Deleter   RemoteDeleter
	Session   SessionSource
	Notifier  Notifier
	IDs       apiary.IDGenerator
	Clock     func() time.Time
	Transient *audio.TransientStore
	Resolver  *audio.Resolver
	Logger    *zap.Logger
}

// SyncStatus mirrors the progress of the most recent sync.
type SyncStatus struct {
	InProgress bool
	LastSynced time.Time
	LastError  string
}

// State owns the collections. Mutations and syncs are serialized by one operation lock,
// so a mutation issued during a sync is applied after the merge instead of being lost.
type State struct {
	store     Store
	syncer    SyncRunner
	deleter   RemoteDeleter
	session   SessionSource
	notifier  Notifier
	ids       apiary.IDGenerator
	now       func() time.Time
	transient *audio.TransientStore
	resolver  *audio.Resolver
	logger    *zap.Logger

	operations *semaphore.Weighted
	syncing    atomic.Bool

	mu         sync.RWMutex
	locations  []apiary.Location
	beehives   []apiary.Beehive
	recordings []apiary.Recording
	status     SyncStatus
}

// New loads the persisted collections and returns the application state.
func New(ctx context.Context, cfg Config) (*State, error) {
	if cfg.Store == nil {
		return nil, errors.New("workspace: store is required")
	}
	snapshot, err := cfg.Store.Load(ctx)
	if err != nil {
		return nil, err
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = apiary.NewUUIDGenerator()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transient := cfg.Transient
	if transient == nil {
		transient = audio.NewTransientStore()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = &audio.Resolver{Transient: transient}
	}

	return &State{
		store:      cfg.Store,
		syncer:     cfg.Syncer,
		deleter:    cfg.Deleter,
		session:    cfg.Session,
		notifier:   notifier,
		ids:        ids,
		now:        clock,
		transient:  transient,
		resolver:   resolver,
		logger:     logger,
		operations: semaphore.NewWeighted(1),
		locations:  nonNil(snapshot.Locations),
		beehives:   nonNil(snapshot.Beehives),
		recordings: nonNil(snapshot.Recordings),
	}, nil
}

// Transient returns the store holding in-memory audio references.
func (s *State) Transient() *audio.TransientStore {
	return s.transient
}

// SyncStatus returns the status of the most recent sync.
func (s *State) SyncStatus() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// AddLocation creates a location with a fresh id. Location names need not be unique.
func (s *State) AddLocation(ctx context.Context, name string) (apiary.Location, error) {
	var created apiary.Location
	err := s.mutate(ctx, "workspace.add_location", i18n.LocationCreated, func() error {
		normalized, err := apiary.NormalizeName(name)
		if err != nil {
			return err
		}
		id, err := s.ids.NewID()
		if err != nil {
			return err
		}
		created = apiary.Location{ID: id, Name: normalized}
		locations := append(slices.Clone(s.snapshotLocations()), created)
		return s.commitLocations(ctx, locations)
	})
	return created, err
}

// UpdateLocation renames a location.
func (s *State) UpdateLocation(ctx context.Context, id string, name string) (apiary.Location, error) {
	var updated apiary.Location
	err := s.mutate(ctx, "workspace.update_location", i18n.LocationUpdated, func() error {
		normalized, err := apiary.NormalizeName(name)
		if err != nil {
			return err
		}
		locations := slices.Clone(s.snapshotLocations())
		index := slices.IndexFunc(locations, func(location apiary.Location) bool { return location.ID == id })
		if index < 0 {
			return &apiary.NotFoundError{Kind: apiary.KindLocation, ID: id}
		}
		locations[index].Name = normalized
		updated = locations[index]
		return s.commitLocations(ctx, locations)
	})
	return updated, err
}

// DeleteLocation removes a location, its beehives and their recordings.
func (s *State) DeleteLocation(ctx context.Context, id string) (apiary.DeletionSet, error) {
	return s.deleteCascade(ctx, "workspace.delete_location", i18n.LocationDeleted, apiary.KindLocation, id)
}

// AddBeehive creates a beehive in an existing location. Names are unique per location, ignoring case.
func (s *State) AddBeehive(ctx context.Context, name string, locationID string) (apiary.Beehive, error) {
	var created apiary.Beehive
	err := s.mutate(ctx, "workspace.add_beehive", i18n.BeehiveCreated, func() error {
		normalized, err := apiary.NormalizeName(name)
		if err != nil {
			return err
		}
		if _, ok := s.LocationByID(locationID); !ok {
			return &apiary.NotFoundError{Kind: apiary.KindLocation, ID: locationID}
		}
		beehives := s.snapshotBeehives()
		if !apiary.IsBeehiveNameUnique(beehives, normalized, locationID, "") {
			return &apiary.DuplicateNameError{Name: normalized, LocationID: locationID}
		}
		id, err := s.ids.NewID()
		if err != nil {
			return err
		}
		created = apiary.Beehive{ID: id, Name: normalized, LocationID: locationID}
		return s.commitBeehives(ctx, append(slices.Clone(beehives), created))
	})
	return created, err
}

// UpdateBeehive renames a beehive and optionally moves it to another location.
func (s *State) UpdateBeehive(ctx context.Context, id string, name string, locationID *string) (apiary.Beehive, error) {
	var updated apiary.Beehive
	err := s.mutate(ctx, "workspace.update_beehive", i18n.BeehiveUpdated, func() error {
		normalized, err := apiary.NormalizeName(name)
		if err != nil {
			return err
		}
		beehives := slices.Clone(s.snapshotBeehives())
		index := slices.IndexFunc(beehives, func(beehive apiary.Beehive) bool { return beehive.ID == id })
		if index < 0 {
			return &apiary.NotFoundError{Kind: apiary.KindBeehive, ID: id}
		}
		targetLocation := beehives[index].LocationID
		if locationID != nil {
			targetLocation = *locationID
			if _, ok := s.LocationByID(targetLocation); !ok {
				return &apiary.NotFoundError{Kind: apiary.KindLocation, ID: targetLocation}
			}
		}
		if !apiary.IsBeehiveNameUnique(beehives, normalized, targetLocation, id) {
			return &apiary.DuplicateNameError{Name: normalized, LocationID: targetLocation}
		}
		beehives[index].Name = normalized
		beehives[index].LocationID = targetLocation
		updated = beehives[index]
		return s.commitBeehives(ctx, beehives)
	})
	return updated, err
}

// DeleteBeehive removes a beehive and its recordings.
func (s *State) DeleteBeehive(ctx context.Context, id string) (apiary.DeletionSet, error) {
	return s.deleteCascade(ctx, "workspace.delete_beehive", i18n.BeehiveDeleted, apiary.KindBeehive, id)
}

// AddRecording attaches a voice note to a beehive. An empty locationID takes the beehive's location.
func (s *State) AddRecording(ctx context.Context, audioURL string, beehiveID string, locationID string, priority apiary.Priority) (apiary.Recording, error) {
	var created apiary.Recording
	err := s.mutate(ctx, "workspace.add_recording", i18n.RecordingCreated, func() error {
		if audio.Classify(audioURL) == audio.KindEmpty {
			return audio.ErrEmptyPayload
		}
		if !priority.Valid() {
			return apiary.ErrInvalidPriority
		}
		beehive, ok := s.BeehiveByID(beehiveID)
		if !ok {
			return &apiary.NotFoundError{Kind: apiary.KindBeehive, ID: beehiveID}
		}
		if locationID == "" {
			locationID = beehive.LocationID
		}
		if locationID != beehive.LocationID {
			return ErrLocationMismatch
		}
		id, err := s.ids.NewID()
		if err != nil {
			return err
		}
		moment := s.now()
		created = apiary.Recording{
			ID:         id,
			Date:       apiary.FormatDate(moment),
			AudioURL:   strings.TrimSpace(audioURL),
			Priority:   priority,
			BeehiveID:  beehiveID,
			LocationID: locationID,
			CreatedAt:  apiary.EpochMillis(moment),
		}
		return s.commitRecordings(ctx, append(slices.Clone(s.snapshotRecordings()), created))
	})
	return created, err
}

// DeleteRecording removes a recording and releases its transient audio reference.
func (s *State) DeleteRecording(ctx context.Context, id string) (apiary.DeletionSet, error) {
	return s.deleteCascade(ctx, "workspace.delete_recording", i18n.RecordingDeleted, apiary.KindRecording, id)
}

// UpdateRecordingPriority sets only the priority of a recording.
func (s *State) UpdateRecordingPriority(ctx context.Context, id string, priority apiary.Priority) (apiary.Recording, error) {
	var updated apiary.Recording
	err := s.mutate(ctx, "workspace.update_recording_priority", i18n.PriorityUpdated, func() error {
		if !priority.Valid() {
			return apiary.ErrInvalidPriority
		}
		var err error
		updated, err = s.updateRecording(ctx, id, func(recording *apiary.Recording) {
			recording.Priority = priority
		})
		return err
	})
	return updated, err
}

// UpdateRecordingLastListened stamps the recording with the current time. No notice is emitted on success.
func (s *State) UpdateRecordingLastListened(ctx context.Context, id string) (apiary.Recording, error) {
	var updated apiary.Recording
	err := s.mutate(ctx, "workspace.update_recording_last_listened", "", func() error {
		stamp := apiary.EpochMillis(s.now())
		var err error
		updated, err = s.updateRecording(ctx, id, func(recording *apiary.Recording) {
			recording.LastListened = &stamp
		})
		return err
	})
	return updated, err
}

// Play resolves the recording's audio and records one listen.
func (s *State) Play(ctx context.Context, id string) (audio.Payload, apiary.Recording, error) {
	recording, ok := s.RecordingByID(id)
	if !ok {
		err := &apiary.NotFoundError{Kind: apiary.KindRecording, ID: id}
		s.notifyFailure("workspace.play", err)
		return audio.Payload{}, apiary.Recording{}, err
	}
	payload, err := s.resolver.Resolve(ctx, recording.AudioURL)
	if err != nil {
		s.notifyFailure("workspace.play", err)
		return audio.Payload{}, recording, err
	}
	updated, err := s.UpdateRecordingLastListened(ctx, id)
	if err != nil {
		return payload, recording, err
	}
	return payload, updated, nil
}

func (s *State) updateRecording(ctx context.Context, id string, change func(*apiary.Recording)) (apiary.Recording, error) {
	recordings := slices.Clone(s.snapshotRecordings())
	index := slices.IndexFunc(recordings, func(recording apiary.Recording) bool { return recording.ID == id })
	if index < 0 {
		return apiary.Recording{}, &apiary.NotFoundError{Kind: apiary.KindRecording, ID: id}
	}
	change(&recordings[index])
	if err := s.commitRecordings(ctx, recordings); err != nil {
		return apiary.Recording{}, err
	}
	return recordings[index], nil
}

func (s *State) deleteCascade(ctx context.Context, operation string, key i18n.Key, kind apiary.EntityKind, id string) (apiary.DeletionSet, error) {
	var deleted apiary.DeletionSet
	err := s.mutate(ctx, operation, key, func() error {
		snapshot := s.snapshot()
		if !containsID(snapshot, kind, id) {
			return &apiary.NotFoundError{Kind: kind, ID: id}
		}
		set, err := apiary.Cascade(kind, id, localChildLookup(snapshot))
		if err != nil {
			return err
		}

		remaining := localstore.Snapshot{
			Locations:  removeIDs(snapshot.Locations, set.Lookup(apiary.KindLocation), func(location apiary.Location) string { return location.ID }),
			Beehives:   removeIDs(snapshot.Beehives, set.Lookup(apiary.KindBeehive), func(beehive apiary.Beehive) string { return beehive.ID }),
			Recordings: removeIDs(snapshot.Recordings, set.Lookup(apiary.KindRecording), func(recording apiary.Recording) string { return recording.ID }),
		}
		if err := s.store.SaveSnapshot(ctx, remaining); err != nil {
			return err
		}
		s.replace(remaining)

		for _, recording := range snapshot.Recordings {
			if set.Contains(apiary.KindRecording, recording.ID) {
				s.transient.Release(recording.AudioURL)
			}
		}
		s.deleteRemote(ctx, kind, id)
		deleted = set
		return nil
	})
	return deleted, err
}

// deleteRemote runs while the operation lock is held. Failures are logged only.
func (s *State) deleteRemote(ctx context.Context, kind apiary.EntityKind, id string) {
	if s.deleter == nil || s.session == nil {
		return
	}
	userID := s.session.CurrentUserID()
	if userID == "" {
		return
	}
	if err := s.deleter.Delete(ctx, kind, userID, id); err != nil {
		remoteErr := &RemoteDeleteError{Kind: kind, ID: id, Err: err}
		s.logger.Warn("remote delete failed",
			zap.String("operation", "workspace.remote_delete"),
			zap.String("reason", "remote_delete_failed"),
			zap.String("user_id", userID),
			zap.Error(remoteErr))
	}
}

// Sync reconciles the collections with the remote store. Success is announced only for manual syncs.
func (s *State) Sync(ctx context.Context, manual bool) (syncer.Result, error) {
	if s.syncer == nil || s.session == nil || s.session.CurrentUserID() == "" {
		s.notifier.Notify(Notice{Level: LevelError, Key: i18n.NotSignedIn})
		return syncer.Result{}, ErrNotSignedIn
	}
	if !s.syncing.CompareAndSwap(false, true) {
		s.notifier.Notify(Notice{Level: LevelError, Key: i18n.SyncError, Detail: syncer.ErrSyncInProgress.Error()})
		return syncer.Result{}, syncer.ErrSyncInProgress
	}
	defer s.syncing.Store(false)

	if err := s.operations.Acquire(ctx, 1); err != nil {
		s.notifier.Notify(Notice{Level: LevelError, Key: i18n.SyncError, Detail: err.Error()})
		return syncer.Result{}, err
	}
	defer s.operations.Release(1)

	userID := s.session.CurrentUserID()
	s.setStatus(func(status *SyncStatus) {
		status.InProgress = true
	})

	result, syncErr := s.syncer.Run(ctx, userID, s.snapshot())
	var saveErr error
	if !errors.Is(syncErr, syncer.ErrSyncInProgress) && !errors.Is(syncErr, syncer.ErrMissingUser) {
		merged := localstore.Snapshot{
			Locations:  nonNil(result.Snapshot.Locations),
			Beehives:   nonNil(result.Snapshot.Beehives),
			Recordings: nonNil(result.Snapshot.Recordings),
		}
		if saveErr = s.store.SaveSnapshot(ctx, merged); saveErr == nil {
			s.replace(merged)
		}
	}
	err := multierr.Append(syncErr, saveErr)

	s.setStatus(func(status *SyncStatus) {
		status.InProgress = false
		if err != nil {
			status.LastError = err.Error()
			return
		}
		status.LastError = ""
		status.LastSynced = s.now()
	})

	if err != nil {
		s.logger.Warn("sync failed",
			zap.String("operation", "workspace.sync"),
			zap.Bool("manual", manual),
			zap.Bool("retryable", syncer.IsRetryable(err)),
			zap.Error(err))
		s.notifier.Notify(Notice{Level: LevelError, Key: i18n.SyncError, Detail: err.Error()})
		return result, err
	}
	if manual {
		s.notifier.Notify(Notice{Level: LevelSuccess, Key: i18n.SyncSuccess})
	}
	return result, nil
}

// mutate runs change under the operation lock and emits the matching notice.
func (s *State) mutate(ctx context.Context, operation string, successKey i18n.Key, change func() error) error {
	if err := s.operations.Acquire(ctx, 1); err != nil {
		s.notifyFailure(operation, err)
		return err
	}
	defer s.operations.Release(1)

	if err := change(); err != nil {
		s.notifyFailure(operation, err)
		return err
	}
	if successKey != "" {
		s.notifier.Notify(Notice{Level: LevelSuccess, Key: successKey})
	}
	return nil
}

func (s *State) notifyFailure(operation string, err error) {
	key := i18n.ErrorOccurred
	if errors.Is(err, apiary.ErrDuplicateName) {
		key = i18n.NameExists
	}
	s.logger.Info("operation rejected",
		zap.String("operation", operation),
		zap.Error(err))
	s.notifier.Notify(Notice{Level: LevelError, Key: key, Detail: err.Error()})
}

func (s *State) commitLocations(ctx context.Context, locations []apiary.Location) error {
	if err := s.store.SaveLocations(ctx, locations); err != nil {
		return err
	}
	s.mu.Lock()
	s.locations = locations
	s.mu.Unlock()
	return nil
}

func (s *State) commitBeehives(ctx context.Context, beehives []apiary.Beehive) error {
	if err := s.store.SaveBeehives(ctx, beehives); err != nil {
		return err
	}
	s.mu.Lock()
	s.beehives = beehives
	s.mu.Unlock()
	return nil
}

func (s *State) commitRecordings(ctx context.Context, recordings []apiary.Recording) error {
	if err := s.store.SaveRecordings(ctx, recordings); err != nil {
		return err
	}
	s.mu.Lock()
	s.recordings = recordings
	s.mu.Unlock()
	return nil
}

func (s *State) replace(snapshot localstore.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = snapshot.Locations
	s.beehives = snapshot.Beehives
	s.recordings = snapshot.Recordings
}

func (s *State) setStatus(change func(*SyncStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change(&s.status)
}

func localChildLookup(snapshot localstore.Snapshot) apiary.ChildLookup {
	return func(rule apiary.CascadeRule, parentIDs []string) ([]string, error) {
		parents := make(map[string]struct{}, len(parentIDs))
		for _, id := range parentIDs {
			parents[id] = struct{}{}
		}
		children := make([]string, 0)
		switch rule.Dependent {
		case apiary.KindBeehive:
			for _, beehive := range snapshot.Beehives {
				if _, ok := parents[beehive.LocationID]; ok {
					children = append(children, beehive.ID)
				}
			}
		case apiary.KindRecording:
			for _, recording := range snapshot.Recordings {
				if _, ok := parents[recording.BeehiveID]; ok {
					children = append(children, recording.ID)
				}
			}
		}
		return children, nil
	}
}

func containsID(snapshot localstore.Snapshot, kind apiary.EntityKind, id string) bool {
	switch kind {
	case apiary.KindLocation:
		return slices.ContainsFunc(snapshot.Locations, func(location apiary.Location) bool { return location.ID == id })
	case apiary.KindBeehive:
		return slices.ContainsFunc(snapshot.Beehives, func(beehive apiary.Beehive) bool { return beehive.ID == id })
	case apiary.KindRecording:
		return slices.ContainsFunc(snapshot.Recordings, func(recording apiary.Recording) bool { return recording.ID == id })
	default:
		return false
	}
}

func removeIDs[T any](items []T, removed map[string]struct{}, id func(T) string) []T {
	kept := make([]T, 0, len(items))
	for _, item := range items {
		if _, drop := removed[id(item)]; drop {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return make([]T, 0)
	}
	return items
}
