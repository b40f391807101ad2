package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// TransactionRow mirrors the transactions table.
type TransactionRow struct {
	ID                  int64
	OwnerID             string
	ExternalID          string
	DatePosted          string
	Name                string
	AmountCents         int64
	Direction           string
	DeclaredCategory    string
	AssignedCategory    string
	IsRecurring         bool
	RunningBalanceCents sql.NullInt64
	Notes               string
	UserOverride        bool
	CreatedAt           string
	UpdatedAt           string
}

const transactionColumns = `id, owner_id, external_id, date_posted, name, amount_cents, direction,
declared_category, assigned_category, is_recurring, running_balance_cents, notes, user_override,
created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s rowScanner) (TransactionRow, error) {
	var i TransactionRow
	err := s.Scan(
		&i.ID,
		&i.OwnerID,
		&i.ExternalID,
		&i.DatePosted,
		&i.Name,
		&i.AmountCents,
		&i.Direction,
		&i.DeclaredCategory,
		&i.AssignedCategory,
		&i.IsRecurring,
		&i.RunningBalanceCents,
		&i.Notes,
		&i.UserOverride,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectTransactions(rows *sql.Rows) ([]TransactionRow, error) {
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		i, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createTransaction = `INSERT INTO transactions (
    owner_id, external_id, date_posted, name, amount_cents, direction,
    declared_category, assigned_category, is_recurring, running_balance_cents,
    notes, user_override, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + transactionColumns

func (q *Queries) CreateTransaction(ctx context.Context, arg TransactionRow) (TransactionRow, error) {
	row := q.db.QueryRowContext(ctx, createTransaction,
		arg.OwnerID,
		arg.ExternalID,
		arg.DatePosted,
		arg.Name,
		arg.AmountCents,
		arg.Direction,
		arg.DeclaredCategory,
		arg.AssignedCategory,
		arg.IsRecurring,
		arg.RunningBalanceCents,
		arg.Notes,
		arg.UserOverride,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return scanTransaction(row)
}

const updateTransaction = `UPDATE transactions SET
    date_posted = ?, name = ?, amount_cents = ?, direction = ?, declared_category = ?,
    assigned_category = ?, is_recurring = ?, running_balance_cents = ?, notes = ?,
    user_override = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, arg TransactionRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateTransaction,
		arg.DatePosted,
		arg.Name,
		arg.AmountCents,
		arg.Direction,
		arg.DeclaredCategory,
		arg.AssignedCategory,
		arg.IsRecurring,
		arg.RunningBalanceCents,
		arg.Notes,
		arg.UserOverride,
		arg.UpdatedAt,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getTransactionByExternalID = `SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = ?`

func (q *Queries) GetTransactionByExternalID(ctx context.Context, externalID string) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransactionByExternalID, externalID))
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE owner_id = ? AND id = ?`

func (q *Queries) GetTransaction(ctx context.Context, ownerID string, id int64) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, ownerID, id))
}

const listHistory = `SELECT external_id, name, amount_cents, direction, date_posted
FROM transactions WHERE owner_id = ? ORDER BY date_posted, id`

type HistoryRow struct {
	ExternalID  string
	Name        string
	AmountCents int64
	Direction   string
	DatePosted  string
}

func (q *Queries) ListHistory(ctx context.Context, ownerID string) ([]HistoryRow, error) {
	rows, err := q.db.QueryContext(ctx, listHistory, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []HistoryRow
	for rows.Next() {
		var i HistoryRow
		if err := rows.Scan(&i.ExternalID, &i.Name, &i.AmountCents, &i.Direction, &i.DatePosted); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const listRange = `SELECT ` + transactionColumns + ` FROM transactions
WHERE owner_id = ? AND date_posted >= ? AND date_posted < ?
ORDER BY date_posted, id`

func (q *Queries) ListRange(ctx context.Context, ownerID, start, end string) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listRange, ownerID, start, end)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

const listCategories = `SELECT DISTINCT assigned_category FROM transactions
WHERE owner_id = ? AND assigned_category != '' ORDER BY assigned_category`

func (q *Queries) ListCategories(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listCategories, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

var sortColumns = map[SortField]string{
	SortDate:     "date_posted",
	SortAmount:   "amount_cents",
	SortName:     "name COLLATE NOCASE",
	SortType:     "direction",
	SortCategory: "assigned_category COLLATE NOCASE",
}

// buildWhere renders the filter as a WHERE clause with positional args.
func buildWhere(ownerID string, f Filter) (string, []interface{}) {
	clauses := []string{"owner_id = ?"}
	args := []interface{}{ownerID}

	if f.Direction != "" {
		clauses = append(clauses, "direction = ?")
		args = append(args, string(f.Direction))
	}
	if f.Category != "" {
		clauses = append(clauses, "assigned_category = ? COLLATE NOCASE")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		clauses = append(clauses, "(name LIKE ? ESCAPE '\\' OR notes LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(f.Search) + "%"
		args = append(args, pattern, pattern)
	}
	if !f.Start.IsZero() {
		clauses = append(clauses, "date_posted >= ?")
		args = append(args, dateKey(f.Start))
	}
	if !f.End.IsZero() {
		clauses = append(clauses, "date_posted < ?")
		args = append(args, dateKey(f.End))
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (q *Queries) CountTransactions(ctx context.Context, ownerID string, f Filter) (int, error) {
	where, args := buildWhere(ownerID, f)
	var n int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions "+where, args...).Scan(&n)
	return n, err
}

// SearchTransactions expects a normalized Query.
func (q *Queries) SearchTransactions(ctx context.Context, ownerID string, query Query) ([]TransactionRow, error) {
	where, args := buildWhere(ownerID, query.Filter)
	order := "DESC"
	if !query.Desc {
		order = "ASC"
	}
	column, ok := sortColumns[query.SortBy]
	if !ok {
		column = sortColumns[SortDate]
	}
	stmt := fmt.Sprintf("SELECT %s FROM transactions %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?",
		transactionColumns, where, column, order, order)
	args = append(args, query.PerPage, query.Offset())

	rows, err := q.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

const getMonthTotals = `SELECT substr(date_posted, 1, 7) AS ym,
    COALESCE(SUM(CASE WHEN direction = 'income' THEN amount_cents ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN direction = 'expense' THEN amount_cents ELSE 0 END), 0),
    COUNT(*)
FROM transactions
WHERE owner_id = ? AND date_posted >= ? AND date_posted < ?
GROUP BY ym ORDER BY ym`

type MonthTotalsRow struct {
	YearMonth    string
	IncomeCents  int64
	ExpenseCents int64
	Count        int64
}

func (q *Queries) GetMonthTotals(ctx context.Context, ownerID, start, end string) ([]MonthTotalsRow, error) {
	rows, err := q.db.QueryContext(ctx, getMonthTotals, ownerID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MonthTotalsRow
	for rows.Next() {
		var i MonthTotalsRow
		if err := rows.Scan(&i.YearMonth, &i.IncomeCents, &i.ExpenseCents, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const getCategoryTotals = `SELECT assigned_category, SUM(amount_cents) AS total, COUNT(*)
FROM transactions
WHERE owner_id = ? AND direction = ? AND date_posted >= ? AND date_posted < ?
GROUP BY assigned_category
ORDER BY total DESC, assigned_category`

type CategoryTotalsRow struct {
	Category   string
	TotalCents int64
	Count      int64
}

func (q *Queries) GetCategoryTotals(ctx context.Context, ownerID, direction, start, end string) ([]CategoryTotalsRow, error) {
	rows, err := q.db.QueryContext(ctx, getCategoryTotals, ownerID, direction, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryTotalsRow
	for rows.Next() {
		var i CategoryTotalsRow
		if err := rows.Scan(&i.Category, &i.TotalCents, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const upsertBankLink = `INSERT INTO bank_links (owner_id, access_token, institution, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(owner_id) DO UPDATE SET
    access_token = excluded.access_token,
    institution = excluded.institution,
    updated_at = excluded.updated_at`

func (q *Queries) UpsertBankLink(ctx context.Context, ownerID, accessToken, institution, now string) error {
	_, err := q.db.ExecContext(ctx, upsertBankLink, ownerID, accessToken, institution, now, now)
	return err
}

const getAccessToken = `SELECT access_token FROM bank_links WHERE owner_id = ?`

func (q *Queries) GetAccessToken(ctx context.Context, ownerID string) (string, error) {
	var token string
	err := q.db.QueryRowContext(ctx, getAccessToken, ownerID).Scan(&token)
	return token, err
}

const listLinkedOwners = `SELECT owner_id FROM bank_links ORDER BY owner_id`

func (q *Queries) ListLinkedOwners(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listLinkedOwners)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const markBankLinkSynced = `UPDATE bank_links SET last_synced_at = ?, updated_at = ? WHERE owner_id = ?`

func (q *Queries) MarkBankLinkSynced(ctx context.Context, ownerID, at, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markBankLinkSynced, at, now, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
