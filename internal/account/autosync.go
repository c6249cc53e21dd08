package account

import (
	"context"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/syncer"
	"go.uber.org/zap"
)

// SyncTarget runs a sync of the local collections.
type SyncTarget interface {
	Sync(ctx context.Context, manual bool) (syncer.Result, error)
}

// AutoSync runs one automatic sync per sign-in until ctx ends. The subscription is in
// place when AutoSync returns; the returned channel closes once the loop has stopped.
func AutoSync(ctx context.Context, manager *Manager, target SyncTarget, logger *zap.Logger) <-chan struct{} {
	if logger == nil {
		logger = zap.NewNop()
	}
	events, cancel := manager.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		for event := range events {
			if event.Kind != EventSignedIn {
				continue
			}
			result, err := target.Sync(ctx, false)
			if err != nil {
				logger.Warn("automatic sync failed",
					zap.String("operation", "account.auto_sync"),
					zap.String("user_id", event.User.ID),
					zap.Bool("retryable", syncer.IsRetryable(err)),
					zap.Error(err))
				continue
			}
			logger.Info("automatic sync finished",
				zap.String("user_id", event.User.ID),
				zap.Int("writes", result.Writes()))
		}
	}()
	return done
}
