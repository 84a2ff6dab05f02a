package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/stockex/marketd/internal/blob/s3"
	"github.com/stockex/marketd/internal/domain"
	"github.com/stockex/marketd/internal/notify"
)

// archiveLockKey serializes the archive job across replicas.
const archiveLockKey = "archive:trades"

// ArchiveJob periodically exports trades older than the retention window to
// blob storage and prunes them from the primary store. A distributed lock
// guarantees only one replica runs a cycle at a time; rows are deleted only
// after the upload succeeded.
type ArchiveJob struct {
	archiver  *s3blob.Archiver
	trades    domain.TradeStore
	locks     domain.LockManager
	bus       domain.SignalBus // optional
	notifier  *notify.Notifier // optional
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiveJob creates an ArchiveJob. retentionDays trades are kept hot;
// interval is how often a cycle is attempted.
func NewArchiveJob(
	archiver *s3blob.Archiver,
	trades domain.TradeStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	retentionDays int,
	interval time.Duration,
	logger *slog.Logger,
) *ArchiveJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ArchiveJob{
		archiver:  archiver,
		trades:    trades,
		locks:     locks,
		bus:       bus,
		notifier:  notifier,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archive_job")),
	}
}

// Run executes archive cycles on the configured interval until the context
// is cancelled. Call in a goroutine or errgroup.
func (j *ArchiveJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.ErrorContext(ctx, "archive cycle failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce performs a single archive cycle: acquire the lock, upload trades
// older than the retention cutoff, prune them, and announce the result. A
// held lock means another replica is archiving and is not an error.
func (j *ArchiveJob) RunOnce(ctx context.Context) error {
	unlock, err := j.locks.Acquire(ctx, archiveLockKey, j.interval)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			j.logger.DebugContext(ctx, "archive lock held elsewhere, skipping cycle")
			return nil
		}
		return fmt.Errorf("archive_job: acquire lock: %w", err)
	}
	defer unlock()

	cutoff := time.Now().UTC().Add(-j.retention)

	archived, err := j.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive_job: archive trades: %w", err)
	}
	if archived == 0 {
		j.logger.DebugContext(ctx, "nothing to archive",
			slog.Time("cutoff", cutoff),
		)
		return nil
	}

	deleted, err := j.trades.DeleteBefore(ctx, cutoff)
	if err != nil {
		// The upload succeeded, so nothing is lost; the rows will be
		// re-archived and pruned on the next cycle.
		return fmt.Errorf("archive_job: prune archived trades: %w", err)
	}

	j.logger.InfoContext(ctx, "archive cycle complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("archived", archived),
		slog.Int64("deleted", deleted),
	)

	j.announce(ctx, cutoff, archived, deleted)
	return nil
}

// announce publishes the archive completion on the bus and notifies
// operators. Failures are logged only.
func (j *ArchiveJob) announce(ctx context.Context, cutoff time.Time, archived, deleted int64) {
	if j.bus != nil {
		payload, err := json.Marshal(map[string]any{
			"event":    domain.EventArchiveComplete,
			"cutoff":   cutoff.Format(time.RFC3339),
			"archived": archived,
			"deleted":  deleted,
		})
		if err == nil {
			if err := j.bus.Publish(ctx, domain.ChannelTrades, payload); err != nil {
				j.logger.WarnContext(ctx, "archive event publish failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if j.notifier != nil {
		title := "Trade archive complete"
		message := fmt.Sprintf("archived %d trades before %s (%d pruned)",
			archived, cutoff.Format(time.RFC3339), deleted)
		if err := j.notifier.Notify(ctx, domain.EventArchiveComplete, title, message); err != nil {
			j.logger.WarnContext(ctx, "archive notification failed",
				slog.String("error", err.Error()),
			)
		}
	}
}
