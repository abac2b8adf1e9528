package session

import (
	"context"
	"log/slog"
	"time"
)

// StartSweeper runs a background goroutine that calls evict on every tick.
// evict removes idle sessions and returns the evicted user ids; callers pass
// one that holds the per-user turn lock so eviction never races a turn. It is
// optional: without it stale sessions stay in memory until the user's next
// message discards them.
func StartSweeper(ctx context.Context, interval time.Duration, evict func(now time.Time) []string) {
	if interval <= 0 || evict == nil {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval)

		for {
			select {
			case now := <-ticker.C:
				if evicted := evict(now); len(evicted) > 0 {
					slog.Info("Session sweeper evicted idle sessions", "count", len(evicted))
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
