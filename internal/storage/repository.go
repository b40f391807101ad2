package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mintmind/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

var (
	_ Repository = (*SQLiteRepository)(nil)
	_ BatchStore = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY
	// between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     func() time.Time { return time.Now().UTC() },
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection for readiness probes.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// InBatch implements BatchStore. The scoped repository reaches the database
// only through the transaction.
func (r *SQLiteRepository) InBatch(ctx context.Context, fn func(TransactionStore) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	scoped := &SQLiteRepository{queries: r.queries.WithTx(tx), now: r.now}
	fnErr := fn(scoped)

	if err := tx.Commit(); err != nil {
		return errors.Join(fnErr, fmt.Errorf("commit batch: %w", err))
	}
	return fnErr
}

// FindByExternalID implements TransactionStore
func (r *SQLiteRepository) FindByExternalID(ctx context.Context, externalID string) (core.Transaction, error) {
	row, err := r.queries.GetTransactionByExternalID(ctx, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction by external id %s: %w", externalID, err)
	}
	return fromRow(row)
}

// Insert implements TransactionStore
func (r *SQLiteRepository) Insert(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("validate transaction: %w", err)
	}

	now := r.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	row, err := r.queries.CreateTransaction(ctx, toRow(tx))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Transaction{}, fmt.Errorf("insert %s: %w", tx.ExternalID, ErrDuplicateExternalID)
		}
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", row.ID,
		"owner_id", row.OwnerID,
		"external_id", row.ExternalID,
		"amount_cents", row.AmountCents,
		"category", row.AssignedCategory)

	return fromRow(row)
}

// Update implements TransactionStore. CreatedAt is never rewritten.
func (r *SQLiteRepository) Update(ctx context.Context, tx core.Transaction) error {
	if tx.ID == 0 {
		return fmt.Errorf("update transaction: %w", ErrNotFound)
	}
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("validate transaction: %w", err)
	}
	tx.UpdatedAt = r.now()

	n, err := r.queries.UpdateTransaction(ctx, toRow(tx))
	if err != nil {
		return fmt.Errorf("update transaction %d: %w", tx.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update transaction %d: %w", tx.ID, ErrNotFound)
	}
	return nil
}

// Get implements TransactionStore
func (r *SQLiteRepository) Get(ctx context.Context, ownerID string, id int64) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, ownerID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return fromRow(row)
}

// History implements TransactionStore
func (r *SQLiteRepository) History(ctx context.Context, ownerID string) ([]core.HistoryEntry, error) {
	rows, err := r.queries.ListHistory(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]core.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(time.DateOnly, row.DatePosted)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", row.DatePosted, err)
		}
		amount := core.FromCents(row.AmountCents)
		if core.Direction(row.Direction) == core.Income {
			amount = amount.Neg()
		}
		out = append(out, core.HistoryEntry{
			ExternalID: row.ExternalID,
			Name:       row.Name,
			Amount:     amount,
			Date:       date,
		})
	}
	return out, nil
}

// Query implements TransactionStore
func (r *SQLiteRepository) Query(ctx context.Context, ownerID string, q Query) (Page, error) {
	q = q.Normalize()

	total, err := r.queries.CountTransactions(ctx, ownerID, q.Filter)
	if err != nil {
		return Page{}, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := r.queries.SearchTransactions(ctx, ownerID, q)
	if err != nil {
		return Page{}, fmt.Errorf("search transactions: %w", err)
	}

	items, err := fromRows(rows)
	if err != nil {
		return Page{}, err
	}

	return Page{Items: items, Total: total, Page: q.Page, PerPage: q.PerPage}, nil
}

// Range implements TransactionStore
func (r *SQLiteRepository) Range(ctx context.Context, ownerID string, start, end time.Time) ([]core.Transaction, error) {
	rows, err := r.queries.ListRange(ctx, ownerID, dateKey(start), dateKey(end))
	if err != nil {
		return nil, fmt.Errorf("list range: %w", err)
	}
	return fromRows(rows)
}

// Categories implements TransactionStore
func (r *SQLiteRepository) Categories(ctx context.Context, ownerID string) ([]string, error) {
	cats, err := r.queries.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

// MonthTotals implements AggregateReader
func (r *SQLiteRepository) MonthTotals(ctx context.Context, ownerID string, start, end time.Time) ([]core.MonthTotals, error) {
	rows, err := r.queries.GetMonthTotals(ctx, ownerID, dateKey(start), dateKey(end))
	if err != nil {
		return nil, fmt.Errorf("get month totals: %w", err)
	}
	out := make([]core.MonthTotals, 0, len(rows))
	for _, row := range rows {
		ym, err := time.Parse("2006-01", row.YearMonth)
		if err != nil {
			return nil, fmt.Errorf("parse month %q: %w", row.YearMonth, err)
		}
		out = append(out, core.MonthTotals{
			Year:    ym.Year(),
			Month:   int(ym.Month()),
			Income:  core.FromCents(row.IncomeCents),
			Expense: core.FromCents(row.ExpenseCents),
			Count:   int(row.Count),
		})
	}
	return out, nil
}

// CategoryTotals implements AggregateReader
func (r *SQLiteRepository) CategoryTotals(ctx context.Context, ownerID string, direction core.Direction, start, end time.Time) ([]core.CategoryAmount, error) {
	rows, err := r.queries.GetCategoryTotals(ctx, ownerID, string(direction), dateKey(start), dateKey(end))
	if err != nil {
		return nil, fmt.Errorf("get category totals: %w", err)
	}
	out := make([]core.CategoryAmount, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.CategoryAmount{
			Name:   row.Category,
			Amount: core.FromCents(row.TotalCents),
			Count:  int(row.Count),
		})
	}
	return out, nil
}

// LinkAccount implements LinkStore
func (r *SQLiteRepository) LinkAccount(ctx context.Context, ownerID, accessToken, institution string) error {
	if strings.TrimSpace(ownerID) == "" {
		return core.ErrEmptyOwner
	}
	if err := r.queries.UpsertBankLink(ctx, ownerID, accessToken, institution, r.now().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert bank link: %w", err)
	}
	return nil
}

// AccessToken implements LinkStore
func (r *SQLiteRepository) AccessToken(ctx context.Context, ownerID string) (string, error) {
	token, err := r.queries.GetAccessToken(ctx, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoBankLink
	}
	if err != nil {
		return "", fmt.Errorf("get access token: %w", err)
	}
	return token, nil
}

// Owners implements LinkStore
func (r *SQLiteRepository) Owners(ctx context.Context) ([]string, error) {
	owners, err := r.queries.ListLinkedOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list linked owners: %w", err)
	}
	return owners, nil
}

// MarkSynced implements LinkStore
func (r *SQLiteRepository) MarkSynced(ctx context.Context, ownerID string, at time.Time) error {
	n, err := r.queries.MarkBankLinkSynced(ctx, ownerID, at.UTC().Format(time.RFC3339Nano), r.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("mark bank link synced: %w", err)
	}
	if n == 0 {
		return ErrNoBankLink
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toRow(tx core.Transaction) TransactionRow {
	row := TransactionRow{
		ID:               tx.ID,
		OwnerID:          tx.OwnerID,
		ExternalID:       tx.ExternalID,
		DatePosted:       dateKey(tx.DatePosted),
		Name:             tx.Name,
		AmountCents:      core.ToCents(tx.Amount),
		Direction:        string(tx.Direction),
		DeclaredCategory: tx.DeclaredCategory,
		AssignedCategory: tx.AssignedCategory,
		IsRecurring:      tx.IsRecurring,
		Notes:            tx.Notes,
		UserOverride:     tx.UserOverride,
		CreatedAt:        tx.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:        tx.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if tx.RunningBalance != nil {
		row.RunningBalanceCents = sql.NullInt64{Int64: core.ToCents(*tx.RunningBalance), Valid: true}
	}
	return row
}

func fromRow(row TransactionRow) (core.Transaction, error) {
	date, err := time.Parse(time.DateOnly, row.DatePosted)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse date %q: %w", row.DatePosted, err)
	}
	created, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse created_at %q: %w", row.CreatedAt, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, row.UpdatedAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse updated_at %q: %w", row.UpdatedAt, err)
	}

	tx := core.Transaction{
		ID:               row.ID,
		OwnerID:          row.OwnerID,
		ExternalID:       row.ExternalID,
		DatePosted:       date,
		Name:             row.Name,
		Amount:           core.FromCents(row.AmountCents),
		Direction:        core.Direction(row.Direction),
		DeclaredCategory: row.DeclaredCategory,
		AssignedCategory: row.AssignedCategory,
		IsRecurring:      row.IsRecurring,
		Notes:            row.Notes,
		UserOverride:     row.UserOverride,
		CreatedAt:        created,
		UpdatedAt:        updated,
	}
	if row.RunningBalanceCents.Valid {
		b := decimal.New(row.RunningBalanceCents.Int64, -2)
		tx.RunningBalance = &b
	}
	return tx, nil
}

func fromRows(rows []TransactionRow) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}
