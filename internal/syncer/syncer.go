// Package syncer reconciles the local collections with the per-user remote store.
package syncer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/localstore"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

// Table is the remote contract for one collection.
type Table[R any] interface {
	List(ctx context.Context, userID string) ([]R, error)
	// Exists reports whether a row with the id exists under any owner.
	Exists(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, userID string, row R) error
	Update(ctx context.Context, userID string, id string, fields map[string]any) error
}

// Remote groups the three remote tables.
type Remote struct {
	Locations  Table[records.LocationRow]
	Beehives   Table[records.BeehiveRow]
	Recordings Table[records.RecordingRow]
}

// AudioUploader moves inline recording audio to blob storage and returns its URL.
type AudioUploader interface {
	UploadAudio(ctx context.Context, userID string, recordingID string, payload audio.Payload) (string, error)
}

// Config describes the dependencies of a Syncer.
type Config struct {
	Remote    Remote
	IDs       apiary.IDGenerator
	Uploader  AudioUploader
	Transient *audio.TransientStore
	Timeout   time.Duration
	Logger    *zap.Logger
}

// CollectionResult counts what one collection's reconciliation did.
type CollectionResult struct {
	Inserted    int
	Updated     int
	Adopted     int
	Regenerated int
}

// Result is the merged snapshot plus per-collection counts.
type Result struct {
	Snapshot   localstore.Snapshot
	Locations  CollectionResult
	Beehives   CollectionResult
	Recordings CollectionResult
}

// Writes returns the number of remote inserts and updates performed.
func (r Result) Writes() int {
	return r.Locations.Inserted + r.Locations.Updated +
		r.Beehives.Inserted + r.Beehives.Updated +
		r.Recordings.Inserted + r.Recordings.Updated
}

// Syncer runs the reconciliation. A Syncer admits one run at a time.
type Syncer struct {
	remote    Remote
	ids       apiary.IDGenerator
	uploader  AudioUploader
	transient *audio.TransientStore
	timeout   time.Duration
	logger    *zap.Logger
	running   atomic.Bool
}

// New constructs a Syncer.
func New(cfg Config) (*Syncer, error) {
	if cfg.Remote.Locations == nil || cfg.Remote.Beehives == nil || cfg.Remote.Recordings == nil {
		return nil, errors.New("syncer: remote tables are required")
	}
	ids := cfg.IDs
	if ids == nil {
		ids = apiary.NewUUIDGenerator()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		remote:    cfg.Remote,
		ids:       ids,
		uploader:  cfg.Uploader,
		transient: cfg.Transient,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Running reports whether a sync is in flight.
func (s *Syncer) Running() bool {
	return s.running.Load()
}

// Run syncs Locations, then Beehives, then Recordings for userID. Every collection is
// attempted; their errors are combined. The returned snapshot is always usable: a
// collection whose fetch failed comes back as it was passed in, with parent ids that
// were regenerated earlier in the run already applied.
func (s *Syncer) Run(ctx context.Context, userID string, snapshot localstore.Snapshot) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{Snapshot: snapshot}, ErrMissingUser
	}
	if !s.running.CompareAndSwap(false, true) {
		return Result{Snapshot: snapshot}, ErrSyncInProgress
	}
	defer s.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	var result Result
	var combined error

	locations, err := reconcile(runCtx, s, s.remote.Locations, locationCodec, userID, snapshot.Locations, nil)
	combined = multierr.Append(combined, err)
	result.Snapshot.Locations = locations.merged
	result.Locations = locations.counts

	beehivesInput := remapBeehives(snapshot.Beehives, locations.regenerated)
	beehives, err := reconcile(runCtx, s, s.remote.Beehives, beehiveCodec, userID, beehivesInput, nil)
	combined = multierr.Append(combined, err)
	result.Snapshot.Beehives = beehives.merged
	result.Beehives = beehives.counts

	recordingsInput := remapRecordings(snapshot.Recordings, locations.regenerated, beehives.regenerated)
	recordings, err := reconcile(runCtx, s, s.remote.Recordings, recordingCodec, userID, recordingsInput, s.prepareRecording(userID))
	combined = multierr.Append(combined, err)
	result.Snapshot.Recordings = recordings.merged
	result.Recordings = recordings.counts

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		combined = multierr.Append(combined, ErrSyncTimeout)
	}

	fields := []zap.Field{
		zap.String("user_id", userID),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("writes", result.Writes()),
		zap.Int("adopted", result.Locations.Adopted+result.Beehives.Adopted+result.Recordings.Adopted),
	}
	if combined != nil {
		s.logger.Warn("sync finished with errors", append(fields,
			zap.String("operation", "syncer.run"),
			zap.Bool("retryable", IsRetryable(combined)),
			zap.Error(combined))...)
	} else {
		s.logger.Info("sync finished", fields...)
	}
	return result, combined
}

type outcome[L any] struct {
	merged      []L
	counts      CollectionResult
	regenerated map[string]string
}

type pendingUpdate struct {
	id     string
	fields map[string]any
}

// reconcile merges one collection. Local values win for matched ids; remote-only rows are appended.
func reconcile[L any, R any](
	ctx context.Context,
	s *Syncer,
	table Table[R],
	c codec[L, R],
	userID string,
	local []L,
	prepare func(context.Context, *L),
) (outcome[L], error) {
	result := outcome[L]{merged: nonNil(local), regenerated: map[string]string{}}

	remoteItems, err := table.List(ctx, userID)
	if err != nil {
		s.logger.Error("sync fetch failed",
			zap.String("operation", "syncer.fetch"),
			zap.String("table", c.kind.Table()),
			zap.Error(err))
		return result, &SyncFetchError{Kind: c.kind, Err: err}
	}

	working := slices.Clone(nonNil(local))
	remoteByID := make(map[string]R, len(remoteItems))
	for _, item := range remoteItems {
		remoteByID[c.remoteID(item)] = item
	}

	inserts := make([]int, 0)
	updates := make([]pendingUpdate, 0)
	var stageErr error
	for index := range working {
		id := c.id(working[index])
		remoteItem, matched := remoteByID[id]
		if !matched {
			taken, err := table.Exists(ctx, id)
			if err != nil {
				s.logger.Warn("sync id collision check failed",
					zap.String("operation", "syncer.exists"),
					zap.String("table", c.kind.Table()),
					zap.String("record_id", id),
					zap.Error(err))
				taken = false
			}
			if taken {
				newID, err := s.ids.NewID()
				if err != nil {
					stageErr = multierr.Append(stageErr, &SyncWriteError{Kind: c.kind, Phase: PhaseInsert, ID: id, Err: err})
					delete(remoteByID, id)
					continue
				}
				c.setID(&working[index], newID)
				result.regenerated[id] = newID
				result.counts.Regenerated++
				s.logger.Info("sync regenerated colliding id",
					zap.String("table", c.kind.Table()),
					zap.String("previous_id", id),
					zap.String("record_id", newID))
			}
			inserts = append(inserts, index)
		} else if fields := c.changes(working[index], remoteItem); len(fields) > 0 {
			updates = append(updates, pendingUpdate{id: id, fields: fields})
		}
		delete(remoteByID, id)
	}

	var writeErr error
	for _, index := range inserts {
		if prepare != nil {
			prepare(ctx, &working[index])
		}
		row := c.toRemote(working[index], userID)
		if err := table.Insert(ctx, userID, row); err != nil {
			writeErr = &SyncWriteError{Kind: c.kind, Phase: PhaseInsert, ID: c.id(working[index]), Err: err}
			break
		}
		result.counts.Inserted++
	}
	if writeErr == nil {
		for _, update := range updates {
			if err := table.Update(ctx, userID, update.id, update.fields); err != nil {
				writeErr = &SyncWriteError{Kind: c.kind, Phase: PhaseUpdate, ID: update.id, Err: err}
				break
			}
			result.counts.Updated++
		}
	}
	if writeErr != nil {
		s.logger.Error("sync write failed",
			zap.String("operation", "syncer.write"),
			zap.String("table", c.kind.Table()),
			zap.Error(writeErr))
	}

	merged := working
	for _, item := range remoteItems {
		id := c.remoteID(item)
		if _, remoteOnly := remoteByID[id]; !remoteOnly {
			continue
		}
		adopted, err := c.fromRemote(item)
		if err != nil {
			s.logger.Warn("sync skipped unreadable remote row",
				zap.String("table", c.kind.Table()),
				zap.String("record_id", id),
				zap.Error(err))
			continue
		}
		merged = append(merged, adopted)
		result.counts.Adopted++
		delete(remoteByID, id)
	}
	result.merged = merged
	return result, multierr.Append(stageErr, writeErr)
}

// prepareRecording uploads inline or transient audio of a recording about to be inserted.
// Upload failures keep the payload as it is.
func (s *Syncer) prepareRecording(userID string) func(context.Context, *apiary.Recording) {
	if s.uploader == nil {
		return nil
	}
	return func(ctx context.Context, recording *apiary.Recording) {
		var payload audio.Payload
		var err error
		switch audio.Classify(recording.AudioURL) {
		case audio.KindDataURL, audio.KindBareBase64:
			payload, err = audio.DecodeInline(recording.AudioURL)
		case audio.KindTransient:
			if s.transient == nil {
				return
			}
			payload, err = s.transient.Resolve(recording.AudioURL)
		default:
			return
		}
		if err != nil {
			s.logger.Warn("sync could not read recording audio",
				zap.String("record_id", recording.ID),
				zap.Error(err))
			return
		}
		url, err := s.uploader.UploadAudio(ctx, userID, recording.ID, payload)
		if err != nil {
			s.logger.Warn("sync audio upload failed",
				zap.String("operation", "syncer.upload"),
				zap.String("record_id", recording.ID),
				zap.Error(err))
			return
		}
		if audio.Classify(recording.AudioURL) == audio.KindTransient {
			s.transient.Release(recording.AudioURL)
		}
		recording.AudioURL = url
	}
}

func remapBeehives(beehives []apiary.Beehive, locationIDs map[string]string) []apiary.Beehive {
	if len(locationIDs) == 0 {
		return beehives
	}
	remapped := slices.Clone(beehives)
	for index := range remapped {
		if replacement, ok := locationIDs[remapped[index].LocationID]; ok {
			remapped[index].LocationID = replacement
		}
	}
	return remapped
}

func remapRecordings(recordings []apiary.Recording, locationIDs map[string]string, beehiveIDs map[string]string) []apiary.Recording {
	if len(locationIDs) == 0 && len(beehiveIDs) == 0 {
		return recordings
	}
	remapped := slices.Clone(recordings)
	for index := range remapped {
		if replacement, ok := locationIDs[remapped[index].LocationID]; ok {
			remapped[index].LocationID = replacement
		}
		if replacement, ok := beehiveIDs[remapped[index].BeehiveID]; ok {
			remapped[index].BeehiveID = replacement
		}
	}
	return remapped
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return make([]T, 0)
	}
	return items
}
