package apiary

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName indicates a beehive name collision inside one location.
	ErrDuplicateName = errors.New("apiary: duplicate beehive name")
	// ErrNotFound indicates that an operation referenced an unknown entity.
	ErrNotFound = errors.New("apiary: entity not found")
	// ErrInvalidName indicates an empty or oversized name.
	ErrInvalidName = errors.New("apiary: invalid name")
	// ErrInvalidPriority indicates a priority outside the declared set.
	ErrInvalidPriority = errors.New("apiary: invalid priority")
)

// DuplicateNameError reports the rejected name and the location it collided in.
type DuplicateNameError struct {
	Name       string
	LocationID string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("apiary: beehive name %q already exists in location %s", e.Name, e.LocationID)
}

// Is matches ErrDuplicateName.
func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// NotFoundError reports the kind and identifier that could not be resolved.
type NotFoundError struct {
	Kind EntityKind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("apiary: %s %q not found", e.Kind, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
