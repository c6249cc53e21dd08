package workspace

import (
	"slices"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/localstore"
)

// Locations returns a copy of every location.
func (s *State) Locations() []apiary.Location {
	return slices.Clone(s.snapshotLocations())
}

// Beehives returns a copy of every beehive.
func (s *State) Beehives() []apiary.Beehive {
	return slices.Clone(s.snapshotBeehives())
}

// Recordings returns a copy of every recording.
func (s *State) Recordings() []apiary.Recording {
	return slices.Clone(s.snapshotRecordings())
}

// LocationByID looks up a location.
func (s *State) LocationByID(id string) (apiary.Location, bool) {
	for _, location := range s.snapshotLocations() {
		if location.ID == id {
			return location, true
		}
	}
	return apiary.Location{}, false
}

// BeehiveByID looks up a beehive.
func (s *State) BeehiveByID(id string) (apiary.Beehive, bool) {
	for _, beehive := range s.snapshotBeehives() {
		if beehive.ID == id {
			return beehive, true
		}
	}
	return apiary.Beehive{}, false
}

// RecordingByID looks up a recording.
func (s *State) RecordingByID(id string) (apiary.Recording, bool) {
	for _, recording := range s.snapshotRecordings() {
		if recording.ID == id {
			return recording, true
		}
	}
	return apiary.Recording{}, false
}

// BeehivesByLocation returns the beehives of a location.
func (s *State) BeehivesByLocation(locationID string) []apiary.Beehive {
	matched := make([]apiary.Beehive, 0)
	for _, beehive := range s.snapshotBeehives() {
		if beehive.LocationID == locationID {
			matched = append(matched, beehive)
		}
	}
	return matched
}

// RecordingsByBeehive returns the recordings of a beehive, newest first.
func (s *State) RecordingsByBeehive(beehiveID string) []apiary.Recording {
	matched := make([]apiary.Recording, 0)
	for _, recording := range s.snapshotRecordings() {
		if recording.BeehiveID == beehiveID {
			matched = append(matched, recording)
		}
	}
	return apiary.SortByDateDesc(matched)
}

// RecentRecordings returns every recording, newest first.
func (s *State) RecentRecordings() []apiary.Recording {
	return apiary.SortByDateDesc(s.snapshotRecordings())
}

// PriorityRecordings returns every recording ordered by priority, then age.
func (s *State) PriorityRecordings() []apiary.Recording {
	return apiary.SortByPriorityAndDate(s.snapshotRecordings())
}

func (s *State) snapshotLocations() []apiary.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locations
}

func (s *State) snapshotBeehives() []apiary.Beehive {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.beehives
}

func (s *State) snapshotRecordings() []apiary.Recording {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordings
}

func (s *State) snapshot() localstore.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return localstore.Snapshot{
		Locations:  s.locations,
		Beehives:   s.beehives,
		Recordings: s.recordings,
	}
}
