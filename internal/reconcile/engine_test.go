package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mintmind/internal/aggregator"
	"mintmind/internal/classify"
	"mintmind/internal/core"
	"mintmind/internal/storage"
	"mintmind/internal/storage/memory"
)

func rec(id, name, amount string, date time.Time, categories ...string) core.RawTransaction {
	return core.RawTransaction{
		ExternalID:         id,
		Name:               name,
		Amount:             decimal.RequireFromString(amount),
		Date:               date,
		DeclaredCategories: categories,
	}
}

func june(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestEngine_InsertsAndClassifies(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := NewEngine(store, nil)

	report, err := e.Sync(ctx, "u1", aggregator.FromSlice([]core.RawTransaction{
		rec("t1", "DraftKings Deposit", "25.00", june(1)),
		rec("t2", "Amazon.com", "45.00", june(2)),
		rec("t3", "Paycheck Direct Deposit", "-1500.00", june(3)),
	}))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Inserted != 3 || report.BatchID == "" || len(report.Created()) != 3 {
		t.Fatalf("report = %+v", report)
	}

	tests := []struct {
		id       string
		category string
		dir      core.Direction
		amount   string
	}{
		{"t1", classify.CategorySportsBetting, core.Expense, "25"},
		{"t2", "Shopping", core.Expense, "45"},
		{"t3", "Income", core.Income, "1500"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := store.FindByExternalID(ctx, tt.id)
			if err != nil {
				t.Fatalf("FindByExternalID: %v", err)
			}
			if got.AssignedCategory != tt.category || got.Direction != tt.dir || !got.Amount.Equal(decimal.RequireFromString(tt.amount)) {
				t.Fatalf("stored = %+v", got)
			}
		})
	}
}

func TestEngine_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := NewEngine(store, nil)
	batch := []core.RawTransaction{
		rec("n1", "Netflix.com", "15.99", june(1)),
		rec("n2", "Netflix.com", "15.99", june(2)),
		rec("n3", "Netflix.com", "15.99", june(3)),
		rec("a1", "Amazon.com", "45.00", june(4), "Shops"),
	}

	if _, err := e.Sync(ctx, "u1", aggregator.FromSlice(batch)); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	first, _ := store.Query(ctx, "u1", storage.Query{})

	report, err := e.Sync(ctx, "u1", aggregator.FromSlice(batch))
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if report.Inserted != 0 || report.Updated != 0 || report.Unchanged != 4 {
		t.Fatalf("second report = %+v", report)
	}

	second, _ := store.Query(ctx, "u1", storage.Query{})
	if first.Total != second.Total {
		t.Fatalf("row count drifted %d -> %d", first.Total, second.Total)
	}
	for i := range first.Items {
		a, b := first.Items[i], second.Items[i]
		if a.AssignedCategory != b.AssignedCategory || a.IsRecurring != b.IsRecurring || !a.Amount.Equal(b.Amount) {
			t.Fatalf("row %s drifted: %+v -> %+v", a.ExternalID, a, b)
		}
	}
}

func TestEngine_RecurrenceFromHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := NewEngine(store, nil)

	history := []core.RawTransaction{
		rec("n1", "Netflix.com", "15.99", time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)),
		rec("n2", "Netflix.com", "15.99", time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)),
		rec("n3", "Netflix.com", "15.99", time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)),
	}
	for _, r := range history {
		if _, err := store.Insert(ctx, core.Transaction{
			OwnerID: "u1", ExternalID: r.ExternalID, Name: r.Name, Amount: r.Amount,
			Direction: core.Expense, DatePosted: r.Date, AssignedCategory: "Entertainment",
		}); err != nil {
			t.Fatal(err)
		}
	}

	report, err := e.Sync(ctx, "u1", aggregator.FromSlice([]core.RawTransaction{rec("n4", "Netflix.com", "15.99", june(15))}))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Inserted != 1 || !report.Results[0].IsRecurring {
		t.Fatalf("report = %+v", report.Results)
	}
}

func TestEngine_SkipsMalformedRecords(t *testing.T) {
	seq := func(yield func(core.RawTransaction, error) bool) {
		if !yield(core.RawTransaction{}, errors.New("upstream decode failure")) {
			return
		}
		if !yield(rec("x1", "No date", "5", time.Time{}), nil) {
			return
		}
		yield(rec("ok", "Starbucks", "6.50", june(1)), nil)
	}

	report, err := NewEngine(memory.New(), nil).Sync(context.Background(), "u1", seq)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Skipped != 2 || report.Inserted != 1 || report.Total() != 3 {
		t.Fatalf("report = %+v", report)
	}
}

type panicky struct{ name string }

func (p panicky) Classify(rec core.RawTransaction, _ []core.HistoryEntry) classify.Verdict {
	if rec.Name == p.name {
		panic("boom")
	}
	return classify.Verdict{Category: "Shopping", Method: "merchant_match"}
}

func TestEngine_ClassificationPanicFallsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := NewEngine(store, panicky{name: "bad"})

	report, err := e.Sync(ctx, "u1", aggregator.FromSlice([]core.RawTransaction{
		rec("b", "bad", "10", june(1)),
		rec("g", "good", "10", june(1)),
	}))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Inserted != 2 || report.Fallback != 1 {
		t.Fatalf("report = %+v", report)
	}
	got, _ := store.FindByExternalID(ctx, "b")
	if got.AssignedCategory != core.DefaultCategory || got.IsRecurring {
		t.Fatalf("fallback row = %+v", got)
	}
}

func TestEngine_RespectsUserOverride(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := NewEngine(store, nil)
	batch := aggregator.FromSlice([]core.RawTransaction{rec("a", "Amazon.com", "45.00", june(1))})

	if _, err := e.Sync(ctx, "u1", batch); err != nil {
		t.Fatal(err)
	}
	tx, _ := store.FindByExternalID(ctx, "a")
	cat := "Gifts"
	edit := core.TransactionEdit{AssignedCategory: &cat}
	edit.Apply(&tx)
	if err := store.Update(ctx, tx); err != nil {
		t.Fatal(err)
	}

	renamed := aggregator.FromSlice([]core.RawTransaction{rec("a", "AMAZON.COM MKTPLACE", "45.00", june(1))})
	report, err := e.Sync(ctx, "u1", renamed)
	if err != nil {
		t.Fatal(err)
	}
	if report.Updated != 1 {
		t.Fatalf("report = %+v", report)
	}
	got, _ := store.FindByExternalID(ctx, "a")
	if got.AssignedCategory != "Gifts" || got.Name != "AMAZON.COM MKTPLACE" {
		t.Fatalf("override not respected: %+v", got)
	}
}

// failingStore fails every insert after the first.
type failingStore struct {
	*memory.Store
	mu      sync.Mutex
	inserts int
}

func (f *failingStore) Insert(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	f.mu.Lock()
	f.inserts++
	n := f.inserts
	f.mu.Unlock()
	if n > 1 {
		return core.Transaction{}, errors.New("disk full")
	}
	return f.Store.Insert(ctx, tx)
}

func TestEngine_StoreFailureAbortsWithPartialReport(t *testing.T) {
	store := &failingStore{Store: memory.New()}
	report, err := NewEngine(store, nil).Sync(context.Background(), "u1", aggregator.FromSlice([]core.RawTransaction{
		rec("1", "Starbucks", "5.00", june(1)),
		rec("2", "Starbucks", "5.00", june(2)),
		rec("3", "Starbucks", "5.00", june(3)),
	}))
	if err == nil {
		t.Fatal("expected store error")
	}
	if report == nil || report.Inserted != 1 || report.Failed != 1 || report.Total() != 2 {
		t.Fatalf("partial report = %+v", report)
	}
}

// racingStore reports a duplicate on insert as if another sync won the race.
type racingStore struct {
	*memory.Store
	once sync.Once
}

func (r *racingStore) FindByExternalID(ctx context.Context, id string) (core.Transaction, error) {
	var raced bool
	r.once.Do(func() { raced = true })
	if raced {
		_, _ = r.Store.Insert(ctx, core.Transaction{
			OwnerID: "u1", ExternalID: id, Name: "stale", Amount: decimal.NewFromInt(1),
			Direction: core.Expense, DatePosted: june(1), AssignedCategory: core.DefaultCategory,
		})
		return core.Transaction{}, storage.ErrNotFound
	}
	return r.Store.FindByExternalID(ctx, id)
}

func TestEngine_DuplicateInsertRaceBecomesUpdate(t *testing.T) {
	store := &racingStore{Store: memory.New()}
	report, err := NewEngine(store, nil).Sync(context.Background(), "u1", aggregator.FromSlice([]core.RawTransaction{
		rec("r1", "Amazon.com", "45.00", june(1)),
	}))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Updated != 1 || report.Inserted != 0 {
		t.Fatalf("report = %+v", report)
	}
	got, _ := store.Store.FindByExternalID(context.Background(), "r1")
	if got.Name != "Amazon.com" || got.AssignedCategory != "Shopping" {
		t.Fatalf("row = %+v", got)
	}
}

type countingSource struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (c *countingSource) Transactions(_ context.Context, _ string, _, _ time.Time) iter.Seq2[core.RawTransaction, error] {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return func(yield func(core.RawTransaction, error) bool) {
		<-c.gate
		yield(rec("s1", "Starbucks", "6.00", june(1)), nil)
	}
}

func TestEngine_SyncSourceCollapsesConcurrentCalls(t *testing.T) {
	src := &countingSource{gate: make(chan struct{})}
	e := NewEngine(memory.New(), nil)

	var wg sync.WaitGroup
	reports := make([]*Report, 2)
	started := make(chan struct{}, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			r, _, err := e.SyncSource(context.Background(), "u1", src, june(1), june(30))
			if err != nil {
				t.Errorf("SyncSource: %v", err)
			}
			reports[i] = r
		}()
	}
	<-started
	<-started
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	if reports[0] == nil || reports[1] == nil {
		t.Fatal("missing report")
	}
	if reports[0].Inserted+reports[1].Inserted == 0 {
		t.Fatal("nothing inserted")
	}
	if src.calls == 2 && reports[0].BatchID == reports[1].BatchID {
		t.Fatal("two fetches should yield two batches")
	}
}

func TestEngine_RejectsEmptyOwner(t *testing.T) {
	if _, err := NewEngine(memory.New(), nil).Sync(context.Background(), "", aggregator.FromSlice(nil)); !errors.Is(err, core.ErrEmptyOwner) {
		t.Fatalf("err = %v", err)
	}
}

func TestEngine_UnavailableSourceAbortsBeforeWriting(t *testing.T) {
	store := memory.New()
	seq := func(yield func(core.RawTransaction, error) bool) {
		if !yield(rec("a1", "Starbucks", "6.50", june(1)), nil) {
			return
		}
		yield(core.RawTransaction{}, fmt.Errorf("%w: call transactions/get: timeout", aggregator.ErrUnavailable))
	}

	report, err := NewEngine(store, nil).Sync(context.Background(), "u1", seq)
	if !errors.Is(err, aggregator.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if report == nil || report.Inserted != 0 {
		t.Fatalf("nothing should be written, report = %+v", report)
	}
	if _, err := store.FindByExternalID(context.Background(), "a1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("record from a failed fetch was stored: %v", err)
	}
}

func TestEngine_SQLiteBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "mintmind.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	defer repo.Close()

	e := NewEngine(repo, nil)
	batch := []core.RawTransaction{
		rec("s1", "DraftKings", "25.00", june(1)),
		rec("s2", "Whole Foods", "10.125", june(2)),
	}

	report, err := e.Sync(ctx, "u1", aggregator.FromSlice(batch))
	if err != nil || report.Inserted != 2 {
		t.Fatalf("first sync report=%+v err=%v", report, err)
	}
	report, err = e.Sync(ctx, "u1", aggregator.FromSlice(batch))
	if err != nil || report.Inserted != 0 || report.Unchanged != 2 {
		t.Fatalf("second sync report=%+v err=%v", report, err)
	}

	got, err := repo.FindByExternalID(ctx, "s2")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if got.Amount.String() != "10.13" {
		t.Errorf("amount = %s, want cents rounded half-up", got.Amount)
	}
}

func TestEngine_BadRecordInFixtureIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	payload := `[
  {"transaction_id":"f1","name":"Shell","amount":40,"date":"2025-06-01"},
  {"transaction_id":"f2","name":"Broken","amount":{"v":1},"date":"2025-06-02"},
  {"transaction_id":"f3","name":"Target","amount":"12.50","date":"2025-06-03"}
]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	store := memory.New()
	e := NewEngine(store, nil)
	report, _, err := e.SyncSource(context.Background(), "u1", aggregator.NewFileSource(path), june(1), june(30))
	if err != nil {
		t.Fatalf("SyncSource: %v", err)
	}
	if report.Inserted != 2 || report.Skipped != 1 {
		t.Fatalf("report = %+v", report)
	}
}
