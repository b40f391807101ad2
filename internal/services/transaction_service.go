package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mintmind/internal/aggregator"
	"mintmind/internal/core"
	"mintmind/internal/reconcile"
	"mintmind/internal/sheets"
	"mintmind/internal/storage"
)

// Publisher queues sync requests for the worker.
type Publisher interface {
	PublishSyncRequest(ctx context.Context, ownerID, reason string) error
}

// SyncOptions tunes the sync window and per-owner deadline.
type SyncOptions struct {
	WindowDays int
	Timeout    time.Duration
}

func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		WindowDays: 90,
		Timeout:    2 * time.Minute,
	}
}

// SyncOutcome tells the caller whether a sync ran inline or was queued.
type SyncOutcome struct {
	Queued bool
	Shared bool
	Report *reconcile.Report
}

// TransactionService orchestrates transaction reads, edits and syncs across
// the store, the aggregator, the sheet exporter and AMQP.
type TransactionService struct {
	store     storage.Repository
	engine    *reconcile.Engine
	source    aggregator.Source
	exporter  sheets.TransactionExporter
	publisher Publisher
	opts      SyncOptions
	now       func() time.Time
}

// NewTransactionService wires the service. exporter and publisher may be
// nil: without a publisher syncs run inline, without an exporter nothing is
// exported.
func NewTransactionService(
	store storage.Repository,
	engine *reconcile.Engine,
	source aggregator.Source,
	exporter sheets.TransactionExporter,
	publisher Publisher,
	opts SyncOptions,
) *TransactionService {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultSyncOptions().WindowDays
	}
	return &TransactionService{
		store:     store,
		engine:    engine,
		source:    source,
		exporter:  exporter,
		publisher: publisher,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *TransactionService) ListTransactions(ctx context.Context, ownerID string, q storage.Query) (storage.Page, error) {
	if ownerID == "" {
		return storage.Page{}, core.ErrEmptyOwner
	}
	page, err := s.store.Query(ctx, ownerID, q)
	if err != nil {
		return storage.Page{}, fmt.Errorf("list transactions: %w", err)
	}
	return page, nil
}

func (s *TransactionService) Categories(ctx context.Context, ownerID string) ([]string, error) {
	if ownerID == "" {
		return nil, core.ErrEmptyOwner
	}
	cats, err := s.store.Categories(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

// EditTransaction applies a user edit. Category and recurrence edits pin the
// row against later reclassification.
func (s *TransactionService) EditTransaction(ctx context.Context, ownerID string, id int64, edit core.TransactionEdit) (core.Transaction, error) {
	if ownerID == "" {
		return core.Transaction{}, core.ErrEmptyOwner
	}
	if err := edit.Validate(); err != nil {
		return core.Transaction{}, err
	}

	tx, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	edit.Apply(&tx)
	if err := s.store.Update(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Transaction edited",
		"owner_id", ownerID,
		"transaction_id", id,
		"category", tx.AssignedCategory,
		"user_override", tx.UserOverride)

	updated, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return tx, nil
	}
	return updated, nil
}

// RequestSync queues a sync when AMQP is available and runs it inline
// otherwise, including when publishing fails.
func (s *TransactionService) RequestSync(ctx context.Context, ownerID, reason string) (SyncOutcome, error) {
	if ownerID == "" {
		return SyncOutcome{}, core.ErrEmptyOwner
	}

	if s.publisher != nil {
		err := s.publisher.PublishSyncRequest(ctx, ownerID, reason)
		if err == nil {
			return SyncOutcome{Queued: true}, nil
		}
		slog.WarnContext(ctx, "Failed to publish sync request, syncing inline",
			"owner_id", ownerID, "error", err)
	}

	report, shared, err := s.sync(ctx, ownerID)
	return SyncOutcome{Shared: shared, Report: report}, err
}

// SyncOwner runs one reconciliation for ownerID over the configured window.
func (s *TransactionService) SyncOwner(ctx context.Context, ownerID string) (*reconcile.Report, error) {
	report, _, err := s.sync(ctx, ownerID)
	return report, err
}

func (s *TransactionService) sync(ctx context.Context, ownerID string) (*reconcile.Report, bool, error) {
	if ownerID == "" {
		return nil, false, core.ErrEmptyOwner
	}
	if s.source == nil {
		return nil, false, errors.New("no aggregator source configured")
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	start, end := aggregator.Window(s.now(), s.opts.WindowDays)
	report, shared, err := s.engine.SyncSource(ctx, ownerID, s.source, start, end)
	if err != nil {
		return report, shared, fmt.Errorf("sync owner %s: %w", ownerID, err)
	}
	if shared {
		return report, true, nil
	}

	if err := s.store.MarkSynced(ctx, ownerID, s.now()); err != nil && !errors.Is(err, storage.ErrNoBankLink) {
		slog.WarnContext(ctx, "Failed to mark owner as synced",
			"owner_id", ownerID, "error", err)
	}
	s.export(ctx, ownerID, report)
	return report, false, nil
}

// export pushes newly inserted rows to the sheet. Export failures never fail
// the sync since the store is the source of truth.
func (s *TransactionService) export(ctx context.Context, ownerID string, report *reconcile.Report) {
	created := report.Created()
	if s.exporter == nil || len(created) == 0 {
		return
	}
	n, err := s.exporter.Export(ctx, ownerID, created)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to export transactions",
			"owner_id", ownerID,
			"batch_id", report.BatchID,
			"exported", n,
			"error", err)
		return
	}
	slog.DebugContext(ctx, "Exported transactions", "owner_id", ownerID, "rows", n)
}

// Close closes both storage and AMQP connections.
func (s *TransactionService) Close() error {
	var errs []error

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close transaction service: %w", errors.Join(errs...))
	}
	return nil
}
