package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mintmind/internal/amqp"
	"mintmind/internal/core"
	"mintmind/internal/reconcile"
	"mintmind/internal/storage"
)

// OwnerSyncer reconciles one owner's transactions.
type OwnerSyncer interface {
	SyncOwner(ctx context.Context, ownerID string) (*reconcile.Report, error)
}

// SyncWorker handles sync requests delivered over AMQP
type SyncWorker struct {
	syncer OwnerSyncer
	maxAge time.Duration
	now    func() time.Time
}

// NewSyncWorker creates a worker. Requests older than maxAge are acknowledged
// without syncing; zero disables the check.
func NewSyncWorker(syncer OwnerSyncer, maxAge time.Duration) *SyncWorker {
	return &SyncWorker{
		syncer: syncer,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// HandleSyncRequest processes one sync request. A nil return acknowledges
// the message; an error requeues it. Failures that a retry cannot fix are
// logged and acknowledged.
func (w *SyncWorker) HandleSyncRequest(ctx context.Context, msg *amqp.SyncRequestMessage) error {
	if w.maxAge > 0 && !msg.RequestedAt.IsZero() {
		if age := w.now().Sub(msg.RequestedAt); age > w.maxAge {
			slog.WarnContext(ctx, "Dropping stale sync request",
				"owner_id", msg.OwnerID,
				"reason", msg.Reason,
				"age", age)
			return nil
		}
	}

	report, err := w.syncer.SyncOwner(ctx, msg.OwnerID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNoBankLink), errors.Is(err, core.ErrEmptyOwner):
		slog.WarnContext(ctx, "Sync request cannot be served",
			"owner_id", msg.OwnerID,
			"error", err)
		return nil
	default:
		return fmt.Errorf("sync owner %s: %w", msg.OwnerID, err)
	}

	slog.InfoContext(ctx, "Sync request completed",
		"owner_id", msg.OwnerID,
		"reason", msg.Reason,
		"batch_id", report.BatchID,
		"inserted", report.Inserted,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"fallback", report.Fallback)
	return nil
}
