package workspace

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
)

var (
	// ErrNotSignedIn indicates a sync requested without an authenticated user.
	ErrNotSignedIn = errors.New("workspace: not signed in")
	// ErrLocationMismatch indicates a recording whose location differs from its beehive's.
	ErrLocationMismatch = errors.New("workspace: location does not match beehive")
)

// RemoteDeleteError reports a failed remote delete. The local delete has already taken effect.
type RemoteDeleteError struct {
	Kind apiary.EntityKind
	ID   string
	Err  error
}

func (e *RemoteDeleteError) Error() string {
	return fmt.Sprintf("workspace: remote delete %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *RemoteDeleteError) Unwrap() error {
	return e.Err
}
