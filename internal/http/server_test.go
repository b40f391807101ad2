package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mintmind/internal/analytics"
	"mintmind/internal/core"
	applog "mintmind/internal/log"
	"mintmind/internal/reconcile"
	"mintmind/internal/services"
	"mintmind/internal/storage"
)

type fakeTransactions struct {
	mu        sync.Mutex
	lastOwner string
	lastQuery storage.Query
	lastEdit  core.TransactionEdit
	items     []core.Transaction
	editErr   error
	outcome   services.SyncOutcome
	syncs     int
}

func (f *fakeTransactions) ListTransactions(_ context.Context, ownerID string, q storage.Query) (storage.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOwner, f.lastQuery = ownerID, q
	return storage.Page{Items: f.items, Total: len(f.items), Page: q.Page, PerPage: q.PerPage}, nil
}

func (f *fakeTransactions) EditTransaction(_ context.Context, ownerID string, id int64, edit core.TransactionEdit) (core.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOwner, f.lastEdit = ownerID, edit
	if f.editErr != nil {
		return core.Transaction{}, f.editErr
	}
	tx := core.Transaction{ID: id, OwnerID: ownerID, Name: "Amazon.com", Amount: decimal.RequireFromString("45.004"),
		Direction: core.Expense, AssignedCategory: "Shopping", DatePosted: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)}
	if edit.AssignedCategory != nil {
		tx.AssignedCategory = *edit.AssignedCategory
		tx.UserOverride = true
	}
	return tx, nil
}

func (f *fakeTransactions) Categories(context.Context, string) ([]string, error) {
	return []string{"Gambling", "Groceries"}, nil
}

func (f *fakeTransactions) RequestSync(_ context.Context, ownerID, _ string) (services.SyncOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOwner = ownerID
	f.syncs++
	return f.outcome, nil
}

type fakeAnalytics struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (f *fakeAnalytics) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
}

func (f *fakeAnalytics) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAnalytics) Overview(_ context.Context, _ string, now time.Time) (analytics.Overview, error) {
	f.hit("overview")
	return analytics.Overview{
		Month:     analytics.MonthlySummary(nil, now.Year(), now.Month()),
		Breakdown: analytics.MonthlyBreakdown(nil),
	}, f.err
}

func (f *fakeAnalytics) Gambling(_ context.Context, _ string, now time.Time) (analytics.GamblingView, error) {
	f.hit("gambling")
	if f.err != nil {
		return analytics.GamblingView{}, f.err
	}
	v := analytics.GamblingSummary(nil, now, nil)
	v.MonthTotal = decimal.NewFromInt(120)
	v.MonthCount = 3
	return v, nil
}

func (f *fakeAnalytics) AlertsFor(context.Context, string, time.Time) ([]analytics.Alert, analytics.AlertInput, error) {
	f.hit("alerts")
	in := analytics.AlertInput{
		MonthTotal:    decimal.NewFromInt(250),
		MonthCount:    3,
		MonthExpenses: decimal.NewFromInt(1000),
	}
	return analytics.Alerts(in), in, f.err
}

func (f *fakeAnalytics) SpendingChart(_ context.Context, _ string, now time.Time) (analytics.Chart, error) {
	f.hit("chart")
	return analytics.Chart{Series: analytics.DailySeries(nil, now, analytics.SeriesDays, nil)}, f.err
}

func (f *fakeAnalytics) MonthlyIncome(_ context.Context, _ string, _ time.Time, months int) (analytics.Income, error) {
	f.hit("income")
	return analytics.Income{MonthlyAverage: decimal.RequireFromString("1500"), MonthsCounted: 2, MonthsWindow: months}, f.err
}

func (f *fakeAnalytics) Dashboard(_ context.Context, _ string, now time.Time) analytics.Dashboard {
	f.hit("dashboard")
	d := analytics.Dashboard{
		Gambling: analytics.GamblingSummary(nil, now, nil),
		Errors:   map[string]string{},
	}
	if f.err != nil {
		d.Errors["summary"] = analytics.ComputationErrorMessage
		d.Errors["alerts"] = analytics.ComputationErrorMessage
		return d
	}
	d.Alerts = analytics.Alerts(analytics.AlertInput{MonthTotal: decimal.NewFromInt(250), MonthCount: 3})
	return d
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func testLogger() *applog.Logger {
	cfg := applog.DefaultConfig()
	cfg.Output = io.Discard
	return applog.New(cfg)
}

func newTestServer(t *testing.T, cfg Config, deps Deps) *Server {
	t.Helper()
	if deps.Transactions == nil {
		deps.Transactions = &fakeTransactions{}
	}
	if deps.Analytics == nil {
		deps.Analytics = &fakeAnalytics{}
	}
	deps.Logger = testLogger()
	srv, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.now = func() time.Time { return time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(srv *Server, method, path, owner, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if owner != "" {
		req.Header.Set(HeaderUserID, owner)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := newTestServer(t, Config{}, Deps{Ready: fakePinger{}})
		for _, path := range []string{"/healthz", "/readyz"} {
			rr := do(srv, http.MethodGet, path, "", "")
			if rr.Code != http.StatusOK {
				t.Fatalf("%s status=%d", path, rr.Code)
			}
		}
	})

	t.Run("store down", func(t *testing.T) {
		srv := newTestServer(t, Config{}, Deps{Ready: fakePinger{err: errors.New("database is locked")}})
		rr := do(srv, http.MethodGet, "/readyz", "", "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if body := decode(t, rr); body["status"] != "not_ready" {
			t.Errorf("status = %v", body["status"])
		}
	})
}

func TestMiddlewareHeaders(t *testing.T) {
	srv := newTestServer(t, Config{}, Deps{})
	rr := do(srv, http.MethodGet, "/api/transactions/categories", "u1", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Content-Type":           "application/json",
	} {
		if got := rr.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		owner      string
		remoteAddr string
		want       int
	}{
		{"missing header", Config{}, "", "", http.StatusUnauthorized},
		{"blank header", Config{}, "   ", "", http.StatusUnauthorized},
		{"too long", Config{}, strings.Repeat("u", 200), "", http.StatusUnauthorized},
		{"accepted", Config{}, "u1", "", http.StatusOK},
		{"untrusted peer", Config{RequireTrustedIdentity: true}, "u1", "203.0.113.5:4000", http.StatusUnauthorized},
		{"trusted peer", Config{RequireTrustedIdentity: true}, "u1", "10.0.0.7:4000", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.cfg, Deps{})
			req := httptest.NewRequest(http.MethodGet, "/api/transactions/categories", nil)
			if tt.owner != "" {
				req.Header.Set(HeaderUserID, tt.owner)
			}
			if tt.remoteAddr != "" {
				req.RemoteAddr = tt.remoteAddr
			}
			rr := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status=%d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestListTransactions(t *testing.T) {
	txs := &fakeTransactions{items: []core.Transaction{{
		ID: 7, ExternalID: "t1", Name: "DraftKings Deposit", Amount: decimal.RequireFromString("25"),
		Direction: core.Expense, AssignedCategory: "Gambling", DatePosted: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}}}
	srv := newTestServer(t, Config{}, Deps{Transactions: txs})

	rr := do(srv, http.MethodGet, "/api/transactions?page=2&per_page=500&sort_by=amount&sort_order=asc&type=expense&end_date=2025-06-30", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	q := txs.lastQuery
	if txs.lastOwner != "u1" || q.Page != 2 || q.PerPage != storage.MaxPerPage || q.SortBy != storage.SortAmount || q.Desc {
		t.Errorf("unexpected query %+v for owner %q", q, txs.lastOwner)
	}
	if q.Direction != core.Expense || !q.End.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected filter %+v", q.Filter)
	}

	body := decode(t, rr)
	list, _ := body["transactions"].([]any)
	if len(list) != 1 {
		t.Fatalf("transactions = %v", body["transactions"])
	}
	first := list[0].(map[string]any)
	if first["date"] != "2025-06-01" || first["assigned_category"] != "Gambling" || first["type"] != "expense" {
		t.Errorf("unexpected transaction JSON %v", first)
	}

	if rr := do(srv, http.MethodGet, "/api/transactions?type=transfer", "u1", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid type: status=%d", rr.Code)
	}
}

func TestEditTransaction(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		editErr error
		want    int
	}{
		{"ok", "/api/transactions/7", `{"assigned_category":"Groceries","notes":"weekly"}`, nil, http.StatusOK},
		{"user_category alias", "/api/transactions/7", `{"user_category":"Groceries"}`, nil, http.StatusOK},
		{"empty body", "/api/transactions/7", `{}`, nil, http.StatusBadRequest},
		{"malformed json", "/api/transactions/7", `{"notes":`, nil, http.StatusBadRequest},
		{"unknown field", "/api/transactions/7", `{"amount":1}`, nil, http.StatusBadRequest},
		{"not found", "/api/transactions/9", `{"notes":"x"}`, storage.ErrNotFound, http.StatusNotFound},
		{"blank category", "/api/transactions/7", `{"assigned_category":" "}`, core.ErrEmptyCategory, http.StatusUnprocessableEntity},
		{"store failure", "/api/transactions/7", `{"notes":"x"}`, errors.New("disk I/O error"), http.StatusInternalServerError},
		{"non numeric id", "/api/transactions/abc", `{"notes":"x"}`, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := &fakeTransactions{editErr: tt.editErr}
			srv := newTestServer(t, Config{}, Deps{Transactions: txs})
			rr := do(srv, http.MethodPut, tt.path, "u1", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
			if tt.want == http.StatusOK {
				body := decode(t, rr)
				if body["assigned_category"] != "Groceries" || body["amount"] != 45.0 {
					t.Errorf("unexpected body %v", body)
				}
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(rr.Body.String(), "disk") {
				t.Error("internal error details leaked to client")
			}
		})
	}
}

func TestSync(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		txs := &fakeTransactions{outcome: services.SyncOutcome{Queued: true}}
		srv := newTestServer(t, Config{}, Deps{Transactions: txs})
		rr := do(srv, http.MethodPost, "/api/transactions/sync", "u1", "")
		if rr.Code != http.StatusAccepted {
			t.Fatalf("status=%d", rr.Code)
		}
		if body := decode(t, rr); body["status"] != "queued" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("inline", func(t *testing.T) {
		txs := &fakeTransactions{outcome: services.SyncOutcome{Report: &reconcile.Report{BatchID: "b1", Inserted: 3, Skipped: 1}}}
		srv := newTestServer(t, Config{}, Deps{Transactions: txs})
		rr := do(srv, http.MethodPost, "/api/transactions/sync", "u1", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
		body := decode(t, rr)
		if body["status"] != "completed" || body["inserted"] != 3.0 || body["skipped"] != 1.0 {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("rate limited per owner", func(t *testing.T) {
		txs := &fakeTransactions{outcome: services.SyncOutcome{Queued: true}}
		srv := newTestServer(t, Config{SyncPerMinute: 2}, Deps{Transactions: txs})
		for i := 0; i < 2; i++ {
			if rr := do(srv, http.MethodPost, "/api/transactions/sync", "u1", ""); rr.Code != http.StatusAccepted {
				t.Fatalf("request %d: status=%d", i, rr.Code)
			}
		}
		rr := do(srv, http.MethodPost, "/api/transactions/sync", "u1", "")
		if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
			t.Fatalf("expected 429 with Retry-After, got %d", rr.Code)
		}
		if rr := do(srv, http.MethodPost, "/api/transactions/sync", "u2", ""); rr.Code != http.StatusAccepted {
			t.Errorf("other owner should not be limited, got %d", rr.Code)
		}
		if txs.syncs != 3 {
			t.Errorf("expected 3 sync calls, got %d", txs.syncs)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		srv := newTestServer(t, Config{}, Deps{})
		if rr := do(srv, http.MethodGet, "/api/transactions/sync", "u1", ""); rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("status=%d", rr.Code)
		}
	})
}

func TestGamblingSummaryCache(t *testing.T) {
	an := &fakeAnalytics{}
	srv := newTestServer(t, Config{}, Deps{Analytics: an})

	for i := 0; i < 2; i++ {
		rr := do(srv, http.MethodGet, "/api/gambling/summary", "u1", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
		body := decode(t, rr)
		if body["month_total"] != 120.0 || body["month_count"] != 3.0 {
			t.Errorf("body = %v", body)
		}
	}
	if n := an.count("gambling"); n != 1 {
		t.Fatalf("expected 1 computation, got %d", n)
	}

	do(srv, http.MethodGet, "/api/gambling/summary", "u2", "")
	if n := an.count("gambling"); n != 2 {
		t.Fatalf("owners must not share cache entries, got %d computations", n)
	}

	if rr := do(srv, http.MethodPut, "/api/transactions/7", "u1", `{"assigned_category":"Groceries"}`); rr.Code != http.StatusOK {
		t.Fatalf("edit status=%d", rr.Code)
	}
	do(srv, http.MethodGet, "/api/gambling/summary", "u1", "")
	if n := an.count("gambling"); n != 3 {
		t.Errorf("edit should invalidate the owner's cache, got %d computations", n)
	}
}

func TestAggregateEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{}, Deps{})

	rr := do(srv, http.MethodGet, "/api/gambling/alerts", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("alerts status=%d", rr.Code)
	}
	alerts := decode(t, rr)["alerts"].([]any)
	if len(alerts) == 0 {
		t.Fatal("expected alerts for a 250 month")
	}
	first := alerts[0].(map[string]any)
	if first["type"] != "threshold" || first["severity"] != "medium" {
		t.Errorf("first alert = %v", first)
	}

	rr = do(srv, http.MethodGet, "/api/spending/chart", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("chart status=%d", rr.Code)
	}
	if daily := decode(t, rr)["daily_data"].([]any); len(daily) != analytics.SeriesDays {
		t.Errorf("daily_data has %d points", len(daily))
	}

	rr = do(srv, http.MethodGet, "/api/transactions/monthly-income?months=6", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("income status=%d", rr.Code)
	}
	if body := decode(t, rr); body["monthly_income"] != 1500.0 || body["months_analyzed"] != 6.0 {
		t.Errorf("income body = %v", body)
	}

	rr = do(srv, http.MethodGet, "/api/transactions/summary", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status=%d", rr.Code)
	}
	month := decode(t, rr)["month"].(map[string]any)
	if month["year"] != 2025.0 || month["month"] != 6.0 {
		t.Errorf("summary month = %v", month)
	}
}

func TestAggregateComputationError(t *testing.T) {
	an := &fakeAnalytics{err: errors.New("no such table: transactions")}
	srv := newTestServer(t, Config{}, Deps{Analytics: an})

	for _, path := range []string{
		"/api/transactions/summary",
		"/api/transactions/monthly-income",
		"/api/gambling/summary",
		"/api/gambling/alerts",
		"/api/spending/chart",
	} {
		t.Run(path, func(t *testing.T) {
			rr := do(srv, http.MethodGet, path, "u1", "")
			if rr.Code != http.StatusInternalServerError {
				t.Fatalf("status=%d", rr.Code)
			}
			body := decode(t, rr)
			if body["error"] != analytics.ComputationErrorMessage {
				t.Errorf("error = %v", body["error"])
			}
			if strings.Contains(rr.Body.String(), "no such table") {
				t.Error("internal error leaked")
			}
		})
	}

	rr := do(srv, http.MethodGet, "/api/gambling/summary", "u1", "")
	body := decode(t, rr)
	if body["month_total"] != 0.0 || len(body["daily_data"].([]any)) != analytics.SeriesDays {
		t.Errorf("expected zeroed gambling payload, got %v", body)
	}
}

func TestGamblingDashboard(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := newTestServer(t, Config{}, Deps{})
		rr := do(srv, http.MethodGet, "/api/gambling/dashboard", "u1", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
		body := decode(t, rr)
		if len(body["alerts"].([]any)) == 0 {
			t.Error("expected alerts for a 250 month")
		}
		if len(body["errors"].(map[string]any)) != 0 {
			t.Errorf("errors = %v", body["errors"])
		}
	})

	t.Run("failed parts are reported", func(t *testing.T) {
		srv := newTestServer(t, Config{}, Deps{Analytics: &fakeAnalytics{err: errors.New("no such table")}})
		rr := do(srv, http.MethodGet, "/api/gambling/dashboard", "u1", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
		body := decode(t, rr)
		errs := body["errors"].(map[string]any)
		if errs["summary"] != analytics.ComputationErrorMessage || errs["alerts"] != analytics.ComputationErrorMessage {
			t.Errorf("errors = %v", errs)
		}
		gambling := body["gambling"].(map[string]any)
		if gambling["month_total"] != 0.0 {
			t.Errorf("gambling not zeroed: %v", gambling)
		}
	})
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t, Config{}, Deps{})
	rr := do(srv, http.MethodGet, "/nope", "u1", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	if body := decode(t, rr); body["error"] != "not found" {
		t.Errorf("body = %v", body)
	}
}

func TestNewServer_InvalidProxy(t *testing.T) {
	if _, err := NewServer(Config{TrustedProxies: []string{"not-a-cidr"}}, Deps{Logger: testLogger()}); err == nil {
		t.Fatal("expected error for invalid trusted proxy")
	}
}

func TestDefaultConfig_CacheTTLBoundsStaleness(t *testing.T) {
	if got := DefaultConfig().CacheTTL; got != time.Minute {
		t.Fatalf("CacheTTL = %v, want 1m", got)
	}
}
