package syncer

import (
	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
)

// codec translates one collection between its local and remote shapes.
type codec[L any, R any] struct {
	kind       apiary.EntityKind
	id         func(L) string
	setID      func(*L, string)
	remoteID   func(R) string
	toRemote   func(L, string) R
	fromRemote func(R) (L, error)
	// changes returns the remote columns whose values differ from local; empty means in sync.
	changes func(L, R) map[string]any
}

var locationCodec = codec[apiary.Location, records.LocationRow]{
	kind:     apiary.KindLocation,
	id:       func(location apiary.Location) string { return location.ID },
	setID:    func(location *apiary.Location, id string) { location.ID = id },
	remoteID: func(row records.LocationRow) string { return row.ID },
	toRemote: func(location apiary.Location, userID string) records.LocationRow {
		return records.LocationRow{ID: location.ID, UserID: userID, Name: location.Name}
	},
	fromRemote: func(row records.LocationRow) (apiary.Location, error) {
		return apiary.Location{ID: row.ID, Name: row.Name}, nil
	},
	changes: func(location apiary.Location, row records.LocationRow) map[string]any {
		if location.Name == row.Name {
			return nil
		}
		return map[string]any{"name": location.Name}
	},
}

var beehiveCodec = codec[apiary.Beehive, records.BeehiveRow]{
	kind:     apiary.KindBeehive,
	id:       func(beehive apiary.Beehive) string { return beehive.ID },
	setID:    func(beehive *apiary.Beehive, id string) { beehive.ID = id },
	remoteID: func(row records.BeehiveRow) string { return row.ID },
	toRemote: func(beehive apiary.Beehive, userID string) records.BeehiveRow {
		return records.BeehiveRow{ID: beehive.ID, UserID: userID, Name: beehive.Name, LocationID: beehive.LocationID}
	},
	fromRemote: func(row records.BeehiveRow) (apiary.Beehive, error) {
		return apiary.Beehive{ID: row.ID, Name: row.Name, LocationID: row.LocationID}, nil
	},
	changes: func(beehive apiary.Beehive, row records.BeehiveRow) map[string]any {
		fields := map[string]any{}
		if beehive.Name != row.Name {
			fields["name"] = beehive.Name
		}
		if beehive.LocationID != row.LocationID {
			fields["location_id"] = beehive.LocationID
		}
		return fields
	},
}

// Only the priority of a recording is reconciled; lastListened never leaves the device.
var recordingCodec = codec[apiary.Recording, records.RecordingRow]{
	kind:     apiary.KindRecording,
	id:       func(recording apiary.Recording) string { return recording.ID },
	setID:    func(recording *apiary.Recording, id string) { recording.ID = id },
	remoteID: func(row records.RecordingRow) string { return row.ID },
	toRemote: func(recording apiary.Recording, userID string) records.RecordingRow {
		return records.RecordingRow{
			ID:         recording.ID,
			UserID:     userID,
			Date:       recording.Date,
			AudioURL:   recording.AudioURL,
			Priority:   recording.Priority.String(),
			BeehiveID:  recording.BeehiveID,
			LocationID: recording.LocationID,
			CreatedAt:  recording.CreatedAt,
		}
	},
	fromRemote: func(row records.RecordingRow) (apiary.Recording, error) {
		priority, err := apiary.ParsePriority(row.Priority)
		if err != nil {
			return apiary.Recording{}, err
		}
		return apiary.Recording{
			ID:         row.ID,
			Date:       row.Date,
			AudioURL:   row.AudioURL,
			Priority:   priority,
			BeehiveID:  row.BeehiveID,
			LocationID: row.LocationID,
			CreatedAt:  row.CreatedAt,
		}, nil
	},
	changes: func(recording apiary.Recording, row records.RecordingRow) map[string]any {
		remotePriority, err := apiary.ParsePriority(row.Priority)
		if err == nil && remotePriority == recording.Priority {
			return nil
		}
		return map[string]any{"priority": recording.Priority.String()}
	},
}
