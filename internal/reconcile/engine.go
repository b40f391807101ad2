// Package reconcile merges aggregator records into the transaction store.
//
// Each record is looked up by its external ID across all owners, classified,
// and then inserted or updated. Failures are isolated per record and
// collected into a Report; only store failures abort a batch.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"mintmind/internal/aggregator"
	"mintmind/internal/classify"
	"mintmind/internal/core"
	applog "mintmind/internal/log"
	"mintmind/internal/storage"
)

// Classifier is the detector cascade the engine runs per record.
type Classifier interface {
	Classify(rec core.RawTransaction, history []core.HistoryEntry) classify.Verdict
}

type Engine struct {
	store      storage.TransactionStore
	classifier Classifier
	group      singleflight.Group
	now        func() time.Time
}

func NewEngine(store storage.TransactionStore, classifier Classifier) *Engine {
	if classifier == nil {
		classifier = classify.NewClassifier(nil)
	}
	return &Engine{
		store:      store,
		classifier: classifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SyncSource fetches [start, end] from src and reconciles it. Concurrent
// calls for the same owner share one run; shared reports whether this
// caller received another caller's report.
func (e *Engine) SyncSource(ctx context.Context, ownerID string, src aggregator.Source, start, end time.Time) (report *Report, shared bool, err error) {
	v, err, shared := e.group.Do(ownerID, func() (interface{}, error) {
		return e.Sync(ctx, ownerID, src.Transactions(ctx, ownerID, start, end))
	})
	report, _ = v.(*Report)
	if shared {
		slog.InfoContext(ctx, "Joined in-flight sync", "owner_id", ownerID)
	}
	return report, shared, err
}

// Sync drains records and reconciles each one. On a store failure the
// partial report is returned together with the error.
func (e *Engine) Sync(ctx context.Context, ownerID string, records iter.Seq2[core.RawTransaction, error]) (*Report, error) {
	if ownerID == "" {
		return nil, core.ErrEmptyOwner
	}

	report := &Report{
		BatchID:   uuid.NewString(),
		OwnerID:   ownerID,
		StartedAt: e.now(),
	}
	logger := slog.With(applog.NewFields().WithOwner(ownerID).WithBatch(report.BatchID).ToSlice()...)

	batch, err := e.drain(ctx, logger, records, report)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		report.finish(e.now())
		return report, fmt.Errorf("read records: %w", err)
	}

	stored, err := e.store.History(ctx, ownerID)
	if err != nil {
		report.finish(e.now())
		return report, fmt.Errorf("load history: %w", err)
	}
	history := mergeHistory(stored, batch)

	err = e.inBatch(ctx, func(store storage.TransactionStore) error {
		for _, raw := range batch {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("sync cancelled: %w", err)
			}

			res, err := e.reconcile(ctx, logger, store, ownerID, raw, history)
			if err != nil {
				report.add(Result{ExternalID: raw.ExternalID, Status: StatusFailed, Reason: err.Error()})
				logger.ErrorContext(ctx, "Sync aborted on store failure",
					"external_id", raw.ExternalID, "error", err)
				return fmt.Errorf("reconcile %s: %w", raw.ExternalID, err)
			}
			report.add(res)
		}
		return nil
	})
	if err != nil {
		report.finish(e.now())
		return report, err
	}

	report.finish(e.now())
	fields := applog.NewFields().WithSyncCounts(report.Inserted, report.Updated, report.Skipped).ToSlice()
	logger.InfoContext(ctx, "Sync batch completed", append(fields,
		"unchanged", report.Unchanged,
		"fallback", report.Fallback,
		"duration", report.FinishedAt.Sub(report.StartedAt))...)
	return report, nil
}

// inBatch scopes the writes of one batch to a single store transaction when
// the store supports it. Records written before a failure stay written.
func (e *Engine) inBatch(ctx context.Context, fn func(storage.TransactionStore) error) error {
	if b, ok := e.store.(storage.BatchStore); ok {
		return b.InBatch(ctx, fn)
	}
	return fn(e.store)
}

// drain collects valid records. Per-record errors become skipped results;
// an aggregator.ErrUnavailable error ends the batch before anything is
// written.
func (e *Engine) drain(ctx context.Context, logger *slog.Logger, records iter.Seq2[core.RawTransaction, error], report *Report) ([]core.RawTransaction, error) {
	var batch []core.RawTransaction
	for raw, err := range records {
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, aggregator.ErrUnavailable) {
			return nil, err
		}
		if err == nil {
			err = raw.Validate()
		}
		if err != nil {
			logger.WarnContext(ctx, "Skipping malformed record",
				"external_id", raw.ExternalID, "error", err)
			report.add(Result{ExternalID: raw.ExternalID, Status: StatusSkipped, Reason: err.Error()})
			continue
		}
		batch = append(batch, raw)
	}
	return batch, nil
}

// mergeHistory overlays the incoming batch on stored history, keyed by
// external ID, so every record sees the same corroborating set regardless
// of its position in the batch.
func mergeHistory(stored []core.HistoryEntry, batch []core.RawTransaction) []core.HistoryEntry {
	index := make(map[string]int, len(stored)+len(batch))
	out := make([]core.HistoryEntry, 0, len(stored)+len(batch))
	for _, h := range stored {
		index[h.ExternalID] = len(out)
		out = append(out, h)
	}
	for _, raw := range batch {
		h := raw.History()
		if i, ok := index[h.ExternalID]; ok {
			out[i] = h
			continue
		}
		index[h.ExternalID] = len(out)
		out = append(out, h)
	}
	return out
}

// classify runs the cascade and converts a panic into the default category.
func (e *Engine) classify(raw core.RawTransaction, history []core.HistoryEntry) (v classify.Verdict, failure error) {
	defer func() {
		if r := recover(); r != nil {
			v = classify.Verdict{Category: core.DefaultCategory, Method: "fallback"}
			failure = fmt.Errorf("classification panic: %v", r)
		}
	}()
	v = e.classifier.Classify(raw, history)
	if v.Category == "" {
		v.Category = core.DefaultCategory
	}
	return v, nil
}

func (e *Engine) reconcile(ctx context.Context, logger *slog.Logger, store storage.TransactionStore, ownerID string, raw core.RawTransaction, history []core.HistoryEntry) (Result, error) {
	existing, err := store.FindByExternalID(ctx, raw.ExternalID)
	switch {
	case err == nil:
		return e.update(ctx, logger, store, ownerID, existing, raw, history)
	case !errors.Is(err, storage.ErrNotFound):
		return Result{}, fmt.Errorf("find by external id: %w", err)
	}

	verdict, failure := e.classify(raw, history)
	res := newResult(raw, verdict, failure)
	if failure != nil {
		logger.ErrorContext(ctx, "Classification failed, using default category",
			"external_id", raw.ExternalID, "error", failure)
	}

	tx := core.Transaction{
		OwnerID:          ownerID,
		ExternalID:       raw.ExternalID,
		DatePosted:       core.DateOnly(raw.Date),
		Name:             raw.Name,
		Amount:           absAmount(raw),
		Direction:        core.DirectionFor(raw.Amount),
		DeclaredCategory: raw.DeclaredCategory(),
		AssignedCategory: verdict.Category,
		IsRecurring:      verdict.IsRecurring,
		RunningBalance:   balance(raw),
	}

	saved, err := store.Insert(ctx, tx)
	if errors.Is(err, storage.ErrDuplicateExternalID) {
		// Lost an insert race with a concurrent sync.
		existing, ferr := store.FindByExternalID(ctx, raw.ExternalID)
		if ferr != nil {
			return Result{}, fmt.Errorf("re-read after duplicate insert: %w", ferr)
		}
		return e.update(ctx, logger, store, ownerID, existing, raw, history)
	}
	if err != nil {
		return Result{}, fmt.Errorf("insert: %w", err)
	}

	res.Status = StatusInserted
	res.TransactionID = saved.ID
	res.created = &saved
	return res, nil
}

func (e *Engine) update(ctx context.Context, logger *slog.Logger, store storage.TransactionStore, ownerID string, existing core.Transaction, raw core.RawTransaction, history []core.HistoryEntry) (Result, error) {
	if existing.OwnerID != ownerID {
		logger.WarnContext(ctx, "External ID already owned by another user",
			"external_id", raw.ExternalID,
			"existing_owner", existing.OwnerID)
	}

	verdict, failure := e.classify(raw, history)
	res := newResult(raw, verdict, failure)
	res.TransactionID = existing.ID
	if failure != nil {
		logger.ErrorContext(ctx, "Classification failed, keeping stored category",
			"external_id", raw.ExternalID, "error", failure)
	}

	next := existing
	next.Name = raw.Name
	next.Amount = absAmount(raw)
	next.Direction = core.DirectionFor(raw.Amount)
	next.DeclaredCategory = raw.DeclaredCategory()
	next.DatePosted = core.DateOnly(raw.Date)
	next.RunningBalance = balance(raw)

	if failure == nil && !existing.UserOverride {
		if verdict.Category != existing.AssignedCategory {
			next.AssignedCategory = verdict.Category
		}
		if verdict.IsRecurring != existing.IsRecurring {
			next.IsRecurring = verdict.IsRecurring
		}
	}
	res.Category = next.AssignedCategory
	res.IsRecurring = next.IsRecurring

	if sameContent(existing, next) {
		res.Status = StatusUnchanged
		return res, nil
	}

	if err := store.Update(ctx, next); err != nil {
		return Result{}, fmt.Errorf("update: %w", err)
	}
	res.Status = StatusUpdated
	return res, nil
}

func newResult(raw core.RawTransaction, v classify.Verdict, failure error) Result {
	res := Result{
		ExternalID:  raw.ExternalID,
		Category:    v.Category,
		IsRecurring: v.IsRecurring,
		Method:      v.Method,
		Confidence:  v.Confidence,
		Gambling:    v.Gambling.IsMatch,
	}
	if failure != nil {
		res.Fallback = true
		res.Reason = failure.Error()
	}
	return res
}

// absAmount rounds half-up to cents, the unit both stores keep.
func absAmount(raw core.RawTransaction) decimal.Decimal {
	return raw.Amount.Abs().Round(2)
}

func balance(raw core.RawTransaction) *decimal.Decimal {
	if raw.RunningBalance == nil {
		return nil
	}
	b := raw.RunningBalance.Round(2)
	return &b
}

func sameContent(a, b core.Transaction) bool {
	return a.Name == b.Name &&
		a.Amount.Equal(b.Amount) &&
		a.Direction == b.Direction &&
		a.DeclaredCategory == b.DeclaredCategory &&
		a.DatePosted.Equal(b.DatePosted) &&
		a.AssignedCategory == b.AssignedCategory &&
		a.IsRecurring == b.IsRecurring &&
		sameBalance(a.RunningBalance, b.RunningBalance)
}

func sameBalance(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
