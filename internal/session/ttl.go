package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/bindiq/onboard/internal/store"
)

// sweepInterval is how often the TTL worker runs.
const sweepInterval = 5 * time.Minute

// StartTTLWorker starts the background expiry sweep: live sessions idle
// longer than ttl are marked abandoned and released, and expired rows are
// pruned from the store. Stops when ctx is cancelled.
func StartTTLWorker(ctx context.Context, repo store.Repository, mgr *Manager, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				abandoned := mgr.AbandonIdle(ctx, ttl)
				pruned, err := repo.CleanupExpiredSessions(ctx, ttl)
				if err != nil {
					slog.Error("TTL worker: failed to prune expired sessions", "error", err)
					continue
				}
				if abandoned > 0 || pruned > 0 {
					slog.Info("TTL sweep complete", "abandoned", abandoned, "pruned", pruned)
				}
			}
		}
	}()
}
