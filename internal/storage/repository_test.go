package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mintmind/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "mintmind.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleTx(owner, ext, name, amount string, dir core.Direction, date time.Time, category string) core.Transaction {
	return core.Transaction{
		OwnerID:          owner,
		ExternalID:       ext,
		DatePosted:       date,
		Name:             name,
		Amount:           decimal.RequireFromString(amount),
		Direction:        dir,
		AssignedCategory: category,
	}
}

func TestSQLiteRepository_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	balance := decimal.RequireFromString("1234.56")
	tx := sampleTx("u1", "ext-1", "Amazon.com", "45.10", core.Expense, day(2025, 6, 1), "Shopping")
	tx.DeclaredCategory = "Shops, Online"
	tx.RunningBalance = &balance

	saved, err := repo.Insert(ctx, tx)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if saved.ID == 0 {
		t.Fatal("expected generated id")
	}

	got, err := repo.FindByExternalID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if !got.Amount.Equal(tx.Amount) || got.Direction != core.Expense || got.DeclaredCategory != "Shops, Online" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.RunningBalance == nil || !got.RunningBalance.Equal(balance) {
		t.Fatalf("running balance = %v", got.RunningBalance)
	}
	if !got.DatePosted.Equal(day(2025, 6, 1)) {
		t.Fatalf("date = %v", got.DatePosted)
	}

	if _, err := repo.FindByExternalID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing external id err = %v", err)
	}
	if _, err := repo.Insert(ctx, tx); !errors.Is(err, ErrDuplicateExternalID) {
		t.Fatalf("duplicate insert err = %v", err)
	}
}

func TestSQLiteRepository_InBatchKeepsWritesBeforeFailure(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	stop := errors.New("store failure")

	err := repo.InBatch(ctx, func(store TransactionStore) error {
		if _, err := store.Insert(ctx, sampleTx("u1", "b-1", "Netflix", "15.99", core.Expense, day(2025, 6, 1), "Entertainment")); err != nil {
			return err
		}
		_, err := store.Insert(ctx, sampleTx("u1", "b-1", "Netflix", "15.99", core.Expense, day(2025, 6, 1), "Entertainment"))
		if !errors.Is(err, ErrDuplicateExternalID) {
			t.Errorf("duplicate insert err = %v", err)
		}
		if _, err := store.Insert(ctx, sampleTx("u1", "b-2", "Spotify", "9.99", core.Expense, day(2025, 6, 2), "Entertainment")); err != nil {
			return err
		}
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("InBatch err = %v", err)
	}

	for _, ext := range []string{"b-1", "b-2"} {
		if _, err := repo.FindByExternalID(ctx, ext); err != nil {
			t.Errorf("%s not committed: %v", ext, err)
		}
	}
}

func TestSQLiteRepository_UpdateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	saved, err := repo.Insert(ctx, sampleTx("u1", "ext-1", "Netflix", "15.99", core.Expense, day(2025, 6, 1), "Entertainment"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	saved.AssignedCategory = "Subscriptions"
	saved.IsRecurring = true
	saved.UserOverride = true
	saved.Notes = "family plan"
	if err := repo.Update(ctx, saved); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.Get(ctx, "u1", saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AssignedCategory != "Subscriptions" || !got.IsRecurring || !got.UserOverride || got.Notes != "family plan" {
		t.Fatalf("update not persisted: %+v", got)
	}
	if !got.CreatedAt.Equal(saved.CreatedAt) {
		t.Fatalf("created_at changed: %v -> %v", saved.CreatedAt, got.CreatedAt)
	}

	if _, err := repo.Get(ctx, "someone-else", saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-owner get err = %v", err)
	}
	saved.ID = 9999
	if err := repo.Update(ctx, saved); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing err = %v", err)
	}
}

func seed(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()
	rows := []core.Transaction{
		sampleTx("u1", "a", "Amazon.com", "45.00", core.Expense, day(2025, 5, 3), "Shopping"),
		sampleTx("u1", "b", "Paycheck", "1500.00", core.Income, day(2025, 5, 15), "Income"),
		sampleTx("u1", "c", "DraftKings", "25.00", core.Expense, day(2025, 6, 2), "Sports Betting"),
		sampleTx("u1", "d", "Starbucks", "6.50", core.Expense, day(2025, 6, 10), "Food & Dining"),
		sampleTx("u1", "e", "amazon prime", "14.99", core.Expense, day(2025, 6, 20), "Shopping"),
		sampleTx("u2", "f", "Other owner", "99.00", core.Expense, day(2025, 6, 20), "Shopping"),
	}
	for _, tx := range rows {
		if _, err := repo.Insert(ctx, tx); err != nil {
			t.Fatalf("seed %s: %v", tx.ExternalID, err)
		}
	}
}

func TestSQLiteRepository_Query(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seed(t, repo)

	tests := []struct {
		name      string
		q         Query
		wantTotal int
		wantFirst string
	}{
		{"default newest first", Query{}, 5, "e"},
		{"amount ascending", Query{SortBy: SortAmount}, 5, "d"},
		{"income only", Query{Filter: Filter{Direction: core.Income}}, 1, "b"},
		{"category case-insensitive", Query{Filter: Filter{Category: "shopping"}}, 2, "e"},
		{"search name", Query{Filter: Filter{Search: "AMAZON"}, SortBy: SortDate}, 2, "a"},
		{"date window", Query{Filter: Filter{Start: day(2025, 6, 1), End: day(2025, 6, 20)}}, 2, "d"},
		{"second page", Query{PerPage: 2, Page: 2}, 5, "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.Query(ctx, "u1", tt.q)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if page.Total != tt.wantTotal {
				t.Fatalf("Total = %d, want %d", page.Total, tt.wantTotal)
			}
			if len(page.Items) == 0 || page.Items[0].ExternalID != tt.wantFirst {
				t.Fatalf("first item = %+v, want %s", page.Items, tt.wantFirst)
			}
		})
	}
}

func TestSQLiteRepository_Aggregates(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seed(t, repo)

	months, err := repo.MonthTotals(ctx, "u1", day(2025, 1, 1), day(2026, 1, 1))
	if err != nil {
		t.Fatalf("MonthTotals: %v", err)
	}
	if len(months) != 2 {
		t.Fatalf("months = %+v", months)
	}
	if months[0].Month != 5 || !months[0].Income.Equal(decimal.RequireFromString("1500")) || !months[0].Expense.Equal(decimal.RequireFromString("45")) {
		t.Fatalf("may totals = %+v", months[0])
	}
	if months[1].Month != 6 || months[1].Count != 3 {
		t.Fatalf("june totals = %+v", months[1])
	}

	cats, err := repo.CategoryTotals(ctx, "u1", core.Expense, day(2025, 1, 1), day(2026, 1, 1))
	if err != nil {
		t.Fatalf("CategoryTotals: %v", err)
	}
	if len(cats) != 3 || cats[0].Name != "Shopping" || !cats[0].Amount.Equal(decimal.RequireFromString("59.99")) || cats[0].Count != 2 {
		t.Fatalf("category totals = %+v", cats)
	}

	names, err := repo.Categories(ctx, "u1")
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	if len(names) != 4 || names[0] != "Food & Dining" {
		t.Fatalf("Categories = %v", names)
	}

	history, err := repo.History(ctx, "u1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 5 || !history[1].Amount.IsNegative() {
		t.Fatalf("History = %+v", history)
	}

	inRange, err := repo.Range(ctx, "u1", day(2025, 6, 1), day(2025, 7, 1))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(inRange) != 3 {
		t.Fatalf("Range = %d rows", len(inRange))
	}
}

func TestSQLiteRepository_BankLinks(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, err := repo.AccessToken(ctx, "u1"); !errors.Is(err, ErrNoBankLink) {
		t.Fatalf("AccessToken before link err = %v", err)
	}
	if err := repo.MarkSynced(ctx, "u1", time.Now()); !errors.Is(err, ErrNoBankLink) {
		t.Fatalf("MarkSynced before link err = %v", err)
	}

	if err := repo.LinkAccount(ctx, "u1", "access-sandbox-1", "First Platypus"); err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}
	if err := repo.LinkAccount(ctx, "u1", "access-sandbox-2", "First Platypus"); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if err := repo.LinkAccount(ctx, "u0", "access-sandbox-3", "Tartan Bank"); err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}

	token, err := repo.AccessToken(ctx, "u1")
	if err != nil || token != "access-sandbox-2" {
		t.Fatalf("AccessToken = %q, %v", token, err)
	}
	owners, err := repo.Owners(ctx)
	if err != nil || len(owners) != 2 || owners[0] != "u0" {
		t.Fatalf("Owners = %v, %v", owners, err)
	}
	if err := repo.MarkSynced(ctx, "u1", time.Now()); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
}

func TestQueryNormalize(t *testing.T) {
	q := Query{Page: -1, PerPage: 1000, SortBy: "bogus", Filter: Filter{Search: "  x "}}.Normalize()
	if q.Page != 1 || q.PerPage != MaxPerPage || q.SortBy != SortDate || !q.Desc || q.Search != "x" {
		t.Fatalf("Normalize() = %+v", q)
	}
	if got := (Page{Total: 101, PerPage: 50}).Pages(); got != 3 {
		t.Fatalf("Pages() = %d", got)
	}
}
