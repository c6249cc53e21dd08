package apiary

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Priority is the closed set of urgency levels a recording can carry.
type Priority uint8

const (
	// PriorityHigh marks a recording that needs attention first.
	PriorityHigh Priority = iota + 1
	// PriorityMedium marks a recording of normal urgency.
	PriorityMedium
	// PriorityLow marks a recording that can wait.
	PriorityLow
	// PrioritySolved marks a recording whose issue has been dealt with.
	PrioritySolved
)

// AllPriorities lists every priority from most to least urgent.
func AllPriorities() []Priority {
	return []Priority{PriorityHigh, PriorityMedium, PriorityLow, PrioritySolved}
}

// ParsePriority converts the wire representation into a Priority.
func ParsePriority(rawInput string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "solved":
		return PrioritySolved, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, rawInput)
	}
}

// Valid reports whether p is one of the declared priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow, PrioritySolved:
		return true
	default:
		return false
	}
}

// String returns the lower-case wire name, or "" for an invalid value.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PrioritySolved:
		return "solved"
	default:
		return ""
	}
}

// Weight orders priorities for sorting; larger sorts first.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 4
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 2
	case PrioritySolved:
		return 1
	default:
		return 0
	}
}

// TranslationKey names the message catalogue entry for the priority label.
func (p Priority) TranslationKey() string {
	switch p {
	case PriorityHigh:
		return "priorityHigh"
	case PriorityMedium:
		return "priorityMedium"
	case PriorityLow:
		return "priorityLow"
	case PrioritySolved:
		return "prioritySolved"
	default:
		return "errorOccurred"
	}
}

// StyleClass returns the presentation class used to badge the priority.
func (p Priority) StyleClass() string {
	switch p {
	case PriorityHigh:
		return "priority-high"
	case PriorityMedium:
		return "priority-medium"
	case PriorityLow:
		return "priority-low"
	case PrioritySolved:
		return "priority-solved"
	default:
		return "priority-unknown"
	}
}

// MarshalJSON encodes the priority as its wire name.
func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, uint8(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a wire name, rejecting unknown values.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPriority, err)
	}
	parsed, err := ParsePriority(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
