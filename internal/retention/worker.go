// Package retention prunes stored conversations that outlived the retention window.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/voicewidget/internal/shared"
)

// DefaultInterval is how often the worker sweeps when no interval is given.
const DefaultInterval = 5 * time.Minute

// Pruner deletes conversations that ended more than ttl ago.
type Pruner interface {
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// PruneCallback is called after a sweep that deleted at least one conversation.
type PruneCallback func(deleted int64)

// StartWorker runs a background goroutine that periodically prunes expired
// conversations. The returned channel is closed once the worker exits after ctx ends.
func StartWorker(ctx context.Context, repo Pruner, ttl, interval time.Duration, onPrune PruneCallback) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, ttl, onPrune)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweep(ctx context.Context, repo Pruner, ttl time.Duration, onPrune PruneCallback) {
	deleted, err := cleanupWithRetry(ctx, repo, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during cleanup", "error", err)
			return
		}
		slog.Error("Retention worker failed to prune conversations", "error", err)
		return
	}
	if deleted == 0 {
		return
	}
	slog.Info("Retention worker pruned conversations", "count", deleted)
	if onPrune != nil {
		onPrune(deleted)
	}
}

// cleanupWithRetry retries SQLITE_BUSY and locked errors with exponential backoff:
// 100ms, 200ms.
func cleanupWithRetry(ctx context.Context, repo Pruner, ttl time.Duration) (int64, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		var deleted int64
		deleted, err = repo.CleanupExpired(ctx, ttl)
		if err == nil {
			return deleted, nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("Retention worker: database locked, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	return 0, err
}
