package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"mintmind/internal/core"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateExternalID = errors.New("duplicate external id")
	ErrNoBankLink          = errors.New("no bank link for owner")
)

// Ports implemented by the SQLite and in-memory repositories.
type (
	// TransactionStore persists reconciled transactions. External IDs are
	// unique across all owners, so FindByExternalID is not owner-scoped.
	TransactionStore interface {
		FindByExternalID(ctx context.Context, externalID string) (core.Transaction, error)
		Insert(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		Update(ctx context.Context, tx core.Transaction) error
		Get(ctx context.Context, ownerID string, id int64) (core.Transaction, error)
		History(ctx context.Context, ownerID string) ([]core.HistoryEntry, error)
		Query(ctx context.Context, ownerID string, q Query) (Page, error)
		Range(ctx context.Context, ownerID string, start, end time.Time) ([]core.Transaction, error)
		Categories(ctx context.Context, ownerID string) ([]string, error)
	}

	// BatchStore scopes a sync batch to one database transaction. Writes
	// that succeeded before fn returns an error are still committed.
	BatchStore interface {
		InBatch(ctx context.Context, fn func(TransactionStore) error) error
	}

	// AggregateReader answers group-by queries over [start, end).
	AggregateReader interface {
		MonthTotals(ctx context.Context, ownerID string, start, end time.Time) ([]core.MonthTotals, error)
		CategoryTotals(ctx context.Context, ownerID string, direction core.Direction, start, end time.Time) ([]core.CategoryAmount, error)
	}

	// LinkStore keeps the aggregator access token per owner.
	LinkStore interface {
		LinkAccount(ctx context.Context, ownerID, accessToken, institution string) error
		AccessToken(ctx context.Context, ownerID string) (string, error)
		Owners(ctx context.Context) ([]string, error)
		MarkSynced(ctx context.Context, ownerID string, at time.Time) error
	}

	// Repository is everything the application needs from persistence.
	Repository interface {
		TransactionStore
		AggregateReader
		LinkStore
		Close() error
	}
)

// SortField names a sortable transaction column.
type SortField string

const (
	SortDate     SortField = "date"
	SortAmount   SortField = "amount"
	SortName     SortField = "name"
	SortType     SortField = "type"
	SortCategory SortField = "category"
)

const (
	DefaultPerPage = 50
	MaxPerPage     = 100
)

// Filter narrows a transaction listing. Zero values mean "no filter".
// Start is inclusive and End exclusive.
type Filter struct {
	Direction core.Direction
	Category  string
	Search    string
	Start     time.Time
	End       time.Time
}

// Query is a filtered, sorted, paginated listing request.
type Query struct {
	Filter
	SortBy  SortField
	Desc    bool
	Page    int
	PerPage int
}

// Page is one page of results plus the unpaginated total.
type Page struct {
	Items   []core.Transaction
	Total   int
	Page    int
	PerPage int
}

// Pages returns the number of pages for Total.
func (p Page) Pages() int {
	if p.PerPage <= 0 {
		return 0
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

// Normalize clamps paging and defaults sorting to newest first.
func (q Query) Normalize() Query {
	switch q.SortBy {
	case SortDate, SortAmount, SortName, SortType, SortCategory:
	default:
		q.SortBy = SortDate
		q.Desc = true
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}
	q.Search = strings.TrimSpace(q.Search)
	q.Category = strings.TrimSpace(q.Category)
	return q
}

// Offset is the zero-based index of the first row on the page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.PerPage
}

func dateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
