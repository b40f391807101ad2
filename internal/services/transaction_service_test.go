package services

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mintmind/internal/aggregator"
	"mintmind/internal/core"
	"mintmind/internal/reconcile"
	sheetmem "mintmind/internal/sheets/memory"
	"mintmind/internal/storage"
	"mintmind/internal/storage/memory"
)

type sliceSource struct {
	raws []core.RawTransaction
}

func (s sliceSource) Transactions(_ context.Context, _ string, start, end time.Time) iter.Seq2[core.RawTransaction, error] {
	var in []core.RawTransaction
	for _, r := range s.raws {
		if aggregator.InWindow(r.Date, start, end) {
			in = append(in, r)
		}
	}
	return aggregator.FromSlice(in)
}

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	owners []string
	closed bool
}

func (f *fakePublisher) PublishSyncRequest(_ context.Context, ownerID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.owners = append(f.owners, ownerID)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func raw(id, name, amount string, date time.Time) core.RawTransaction {
	return core.RawTransaction{
		ExternalID: id,
		Name:       name,
		Amount:     decimal.RequireFromString(amount),
		Date:       date,
	}
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
}

type fixture struct {
	store    *memory.Store
	exporter *sheetmem.Exporter
	svc      *TransactionService
}

func newFixture(t *testing.T, pub Publisher) fixture {
	t.Helper()
	store := memory.New()
	exporter := sheetmem.New()
	src := sliceSource{raws: []core.RawTransaction{
		raw("t1", "DraftKings Deposit", "25.00", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		raw("t2", "Amazon.com", "45.00", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)),
		raw("old", "Amazon.com", "10.00", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
	}}
	svc := NewTransactionService(store, reconcile.NewEngine(store, nil), src, exporter, pub, SyncOptions{WindowDays: 90})
	svc.now = fixedNow
	return fixture{store: store, exporter: exporter, svc: svc}
}

func TestTransactionService_SyncOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if err := f.store.LinkAccount(ctx, "u1", "token", "bank"); err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}

	report, err := f.svc.SyncOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncOwner: %v", err)
	}
	if report.Inserted != 2 {
		t.Fatalf("expected 2 inserted (old record outside window), got %+v", report)
	}
	if got := len(f.exporter.Rows()); got != 2 {
		t.Errorf("expected 2 exported rows, got %d", got)
	}
	if !f.store.LastSynced("u1").Equal(fixedNow()) {
		t.Errorf("last synced = %v", f.store.LastSynced("u1"))
	}

	report, err = f.svc.SyncOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("second SyncOwner: %v", err)
	}
	if report.Inserted != 0 || report.Unchanged != 2 {
		t.Errorf("second sync should be a no-op, got %+v", report)
	}
	if got := len(f.exporter.Rows()); got != 2 {
		t.Errorf("second sync exported again: %d rows", got)
	}
}

func TestTransactionService_SyncWithoutBankLink(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.SyncOwner(context.Background(), "fixture-user"); err != nil {
		t.Fatalf("sync without a bank link should still succeed: %v", err)
	}
}

func TestTransactionService_RequestSync(t *testing.T) {
	ctx := context.Background()

	t.Run("queued when publisher works", func(t *testing.T) {
		pub := &fakePublisher{}
		f := newFixture(t, pub)
		out, err := f.svc.RequestSync(ctx, "u1", "manual")
		if err != nil {
			t.Fatalf("RequestSync: %v", err)
		}
		if !out.Queued || out.Report != nil {
			t.Errorf("expected queued outcome, got %+v", out)
		}
		if len(pub.owners) != 1 || pub.owners[0] != "u1" {
			t.Errorf("published owners = %v", pub.owners)
		}
	})

	t.Run("inline when publish fails", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("circuit breaker is open")}
		f := newFixture(t, pub)
		out, err := f.svc.RequestSync(ctx, "u1", "manual")
		if err != nil {
			t.Fatalf("RequestSync: %v", err)
		}
		if out.Queued || out.Report == nil || out.Report.Inserted != 2 {
			t.Errorf("expected inline sync, got %+v", out)
		}
	})

	t.Run("inline without publisher", func(t *testing.T) {
		f := newFixture(t, nil)
		out, err := f.svc.RequestSync(ctx, "u1", "manual")
		if err != nil || out.Report == nil {
			t.Fatalf("unexpected outcome %+v err=%v", out, err)
		}
	})

	t.Run("empty owner", func(t *testing.T) {
		f := newFixture(t, nil)
		if _, err := f.svc.RequestSync(ctx, "", "manual"); !errors.Is(err, core.ErrEmptyOwner) {
			t.Errorf("expected ErrEmptyOwner, got %v", err)
		}
	})
}

func TestTransactionService_EditTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.SyncOwner(ctx, "u1"); err != nil {
		t.Fatalf("SyncOwner: %v", err)
	}
	page, err := f.svc.ListTransactions(ctx, "u1", storage.Query{SortBy: storage.SortName})
	if err != nil || page.Total != 2 {
		t.Fatalf("ListTransactions: page=%+v err=%v", page, err)
	}
	amazon := page.Items[0]
	if amazon.Name != "Amazon.com" {
		t.Fatalf("expected Amazon.com first by name, got %q", amazon.Name)
	}

	cat := "Groceries"
	notes := "weekly shop"
	edited, err := f.svc.EditTransaction(ctx, "u1", amazon.ID, core.TransactionEdit{AssignedCategory: &cat, Notes: &notes})
	if err != nil {
		t.Fatalf("EditTransaction: %v", err)
	}
	if edited.AssignedCategory != "Groceries" || edited.Notes != "weekly shop" || !edited.UserOverride {
		t.Errorf("unexpected edited transaction: %+v", edited)
	}

	// A later sync must not undo the user's category.
	if _, err := f.svc.SyncOwner(ctx, "u1"); err != nil {
		t.Fatalf("resync: %v", err)
	}
	got, err := f.store.Get(ctx, "u1", amazon.ID)
	if err != nil || got.AssignedCategory != "Groceries" {
		t.Errorf("override lost after resync: %+v err=%v", got, err)
	}

	cats, err := f.svc.Categories(ctx, "u1")
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	var found bool
	for _, c := range cats {
		if c == "Groceries" {
			found = true
		}
	}
	if !found {
		t.Errorf("categories %v missing Groceries", cats)
	}

	tests := []struct {
		name string
		id   int64
		edit core.TransactionEdit
		want error
	}{
		{"blank category", amazon.ID, core.TransactionEdit{AssignedCategory: new(string)}, core.ErrEmptyCategory},
		{"unknown id", 9999, core.TransactionEdit{Notes: &notes}, storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.EditTransaction(ctx, "u1", tt.id, tt.edit); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := f.svc.EditTransaction(ctx, "u2", amazon.ID, core.TransactionEdit{Notes: &notes}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("another owner must not edit the row, got %v", err)
	}
}

func TestTransactionService_Close(t *testing.T) {
	pub := &fakePublisher{}
	f := newFixture(t, pub)
	if err := f.svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !pub.closed {
		t.Error("publisher should be closed")
	}
}
