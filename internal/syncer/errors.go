package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
)

var (
	// ErrSyncInProgress is returned when a sync is requested while another one is running.
	ErrSyncInProgress = errors.New("syncer: sync already in progress")
	// ErrSyncTimeout indicates that a sync run exceeded its deadline.
	ErrSyncTimeout = errors.New("syncer: sync timed out")
	// ErrMissingUser indicates a sync without an authenticated user id.
	ErrMissingUser = errors.New("syncer: user id required")
)

// Phase names the write batch a SyncWriteError occurred in.
type Phase string

const (
	PhaseInsert Phase = "insert"
	PhaseUpdate Phase = "update"
)

// SyncFetchError reports a failed remote read. The collection's local items are kept unchanged.
type SyncFetchError struct {
	Kind apiary.EntityKind
	Err  error
}

func (e *SyncFetchError) Error() string {
	return fmt.Sprintf("syncer: fetch %s: %v", e.Kind.Table(), e.Err)
}

func (e *SyncFetchError) Unwrap() error {
	return e.Err
}

// SyncWriteError reports the first failed insert or update. Earlier writes stay committed.
type SyncWriteError struct {
	Kind  apiary.EntityKind
	Phase Phase
	ID    string
	Err   error
}

func (e *SyncWriteError) Error() string {
	return fmt.Sprintf("syncer: %s %s %s: %v", e.Phase, e.Kind, e.ID, e.Err)
}

func (e *SyncWriteError) Unwrap() error {
	return e.Err
}

type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err is a transient failure worth another sync attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSyncTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrSyncInProgress) {
		return true
	}
	var candidate retryable
	if errors.As(err, &candidate) {
		return candidate.Retryable()
	}
	return false
}
