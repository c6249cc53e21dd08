package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
)

var errDuplicateRow = errors.New("duplicate row")

type fakeTable[R any] struct {
	mu          sync.Mutex
	rows        []R
	id          func(R) string
	owner       func(R) string
	apply       func(*R, map[string]any)
	listErr     error
	existsErr   error
	insertErr   error
	updateErr   error
	listHook    func(ctx context.Context) error
	insertCalls int
	updateCalls int
}

func (f *fakeTable[R]) List(ctx context.Context, userID string) ([]R, error) {
	if f.listHook != nil {
		if err := f.listHook(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	owned := make([]R, 0)
	for _, row := range f.rows {
		if f.owner(row) == userID {
			owned = append(owned, row)
		}
	}
	return owned, nil
}

func (f *fakeTable[R]) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	for _, row := range f.rows {
		if f.id(row) == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTable[R]) Insert(_ context.Context, _ string, row R) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, existing := range f.rows {
		if f.id(existing) == f.id(row) {
			return fmt.Errorf("%w: %s", errDuplicateRow, f.id(row))
		}
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeTable[R]) Update(_ context.Context, userID string, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	for index := range f.rows {
		if f.id(f.rows[index]) == id && f.owner(f.rows[index]) == userID {
			f.apply(&f.rows[index], fields)
			return nil
		}
	}
	return errors.New("row not found")
}

func (f *fakeTable[R]) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertCalls + f.updateCalls
}

func (f *fakeTable[R]) snapshot() []R {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]R(nil), f.rows...)
}

type fakeRemote struct {
	locations  *fakeTable[records.LocationRow]
	beehives   *fakeTable[records.BeehiveRow]
	recordings *fakeTable[records.RecordingRow]
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		locations: &fakeTable[records.LocationRow]{
			id:    func(row records.LocationRow) string { return row.ID },
			owner: func(row records.LocationRow) string { return row.UserID },
			apply: func(row *records.LocationRow, fields map[string]any) {
				if name, ok := fields["name"].(string); ok {
					row.Name = name
				}
			},
		},
		beehives: &fakeTable[records.BeehiveRow]{
			id:    func(row records.BeehiveRow) string { return row.ID },
			owner: func(row records.BeehiveRow) string { return row.UserID },
			apply: func(row *records.BeehiveRow, fields map[string]any) {
				if name, ok := fields["name"].(string); ok {
					row.Name = name
				}
				if locationID, ok := fields["location_id"].(string); ok {
					row.LocationID = locationID
				}
			},
		},
		recordings: &fakeTable[records.RecordingRow]{
			id:    func(row records.RecordingRow) string { return row.ID },
			owner: func(row records.RecordingRow) string { return row.UserID },
			apply: func(row *records.RecordingRow, fields map[string]any) {
				if priority, ok := fields["priority"].(string); ok {
					row.Priority = priority
				}
			},
		},
	}
}

func (f *fakeRemote) remote() Remote {
	return Remote{Locations: f.locations, Beehives: f.beehives, Recordings: f.recordings}
}

func (f *fakeRemote) writes() int {
	return f.locations.writes() + f.beehives.writes() + f.recordings.writes()
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("gen-%d", s.next), nil
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads map[string]audio.Payload
	err     error
}

func (u *fakeUploader) UploadAudio(_ context.Context, userID string, recordingID string, payload audio.Payload) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	if u.uploads == nil {
		u.uploads = map[string]audio.Payload{}
	}
	u.uploads[recordingID] = payload
	return "https://cdn.example.com/" + userID + "/" + recordingID + audio.ExtensionFor(payload.ContentType), nil
}
