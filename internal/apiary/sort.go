package apiary

import (
	"cmp"
	"slices"
)

// SortByDateDesc returns a copy of recordings ordered newest first.
// Equal timestamps keep their input order.
func SortByDateDesc(recordings []Recording) []Recording {
	sorted := slices.Clone(recordings)
	slices.SortStableFunc(sorted, func(left, right Recording) int {
		return cmp.Compare(right.CreatedAt, left.CreatedAt)
	})
	return sorted
}

// SortByPriorityAndDate returns a copy ordered by priority (high first) and then
// oldest first within the same priority.
func SortByPriorityAndDate(recordings []Recording) []Recording {
	sorted := slices.Clone(recordings)
	slices.SortStableFunc(sorted, func(left, right Recording) int {
		if byWeight := cmp.Compare(right.Priority.Weight(), left.Priority.Weight()); byWeight != 0 {
			return byWeight
		}
		return cmp.Compare(left.CreatedAt, right.CreatedAt)
	})
	return sorted
}
