package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Expense Direction = "expense"
	Income  Direction = "income"
)

// DefaultCategory is assigned when nothing better can be inferred.
const DefaultCategory = "Other"

type (
	Direction string

	// RawTransaction is a single record as supplied by the bank-data aggregator.
	// Amount follows the aggregator sign convention: positive means money
	// leaving the account, negative means money entering it.
	RawTransaction struct {
		ExternalID         string
		Name               string
		MerchantName       string // empty when the aggregator has none
		Amount             decimal.Decimal
		Date               time.Time
		DeclaredCategories []string
		AccountRef         string
		RunningBalance     *decimal.Decimal
	}

	// Transaction is the persisted, reconciled form of a RawTransaction.
	Transaction struct {
		ID               int64
		OwnerID          string
		ExternalID       string
		DatePosted       time.Time
		Name             string
		Amount           decimal.Decimal // always absolute
		Direction        Direction
		DeclaredCategory string // aggregator categories joined verbatim
		AssignedCategory string
		IsRecurring      bool
		RunningBalance   *decimal.Decimal
		Notes            string
		UserOverride     bool
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

	// HistoryEntry is the slice of a transaction the recurrence detector needs.
	HistoryEntry struct {
		ExternalID string
		Name       string
		Amount     decimal.Decimal
		Date       time.Time
	}
)

var (
	ErrMissingExternalID = errors.New("missing external id")
	ErrMissingName       = errors.New("missing name")
	ErrMissingDate       = errors.New("missing date")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrEmptyOwner        = errors.New("empty owner id")
	ErrEmptyCategory     = errors.New("empty category")
	ErrNotesTooLong      = errors.New("notes too long (max 500 characters)")
)

func (d Direction) IsValid() bool {
	return d == Expense || d == Income
}

// DirectionFor derives the direction from an aggregator-signed amount.
func DirectionFor(amount decimal.Decimal) Direction {
	if amount.IsNegative() {
		return Income
	}
	return Expense
}

// IsIncome reports whether the record moves money into the account.
func (r RawTransaction) IsIncome() bool {
	return r.Amount.IsNegative()
}

// DeclaredCategory joins the aggregator categories the way they are stored.
func (r RawTransaction) DeclaredCategory() string {
	return strings.Join(r.DeclaredCategories, ", ")
}

func (r RawTransaction) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return ErrMissingExternalID
	}
	if strings.TrimSpace(r.Name) == "" {
		return ErrMissingName
	}
	if r.Date.IsZero() {
		return ErrMissingDate
	}
	return nil
}

// History returns the recurrence view of the record.
func (r RawTransaction) History() HistoryEntry {
	return HistoryEntry{
		ExternalID: r.ExternalID,
		Name:       r.Name,
		Amount:     r.Amount,
		Date:       r.Date,
	}
}

// SignedAmount restores the aggregator sign convention.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == Income {
		return t.Amount.Neg()
	}
	return t.Amount
}

// History returns the recurrence view of the persisted transaction.
func (t Transaction) History() HistoryEntry {
	return HistoryEntry{
		ExternalID: t.ExternalID,
		Name:       t.Name,
		Amount:     t.SignedAmount(),
		Date:       t.DatePosted,
	}
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if strings.TrimSpace(t.ExternalID) == "" {
		return ErrMissingExternalID
	}
	if t.DatePosted.IsZero() {
		return ErrMissingDate
	}
	if !t.Direction.IsValid() {
		return ErrInvalidDirection
	}
	if t.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(t.AssignedCategory) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// TransactionEdit holds the fields a user may change on a transaction.
// Nil fields are left untouched.
type TransactionEdit struct {
	AssignedCategory *string
	Notes            *string
	IsRecurring      *bool
}

func (e TransactionEdit) Validate() error {
	if e.AssignedCategory != nil && strings.TrimSpace(*e.AssignedCategory) == "" {
		return ErrEmptyCategory
	}
	if e.Notes != nil && len(*e.Notes) > 500 {
		return ErrNotesTooLong
	}
	return nil
}

// Apply writes the edit onto t. Category and recurrence edits mark the row
// as user-overridden so later syncs leave them alone.
func (e TransactionEdit) Apply(t *Transaction) {
	if e.AssignedCategory != nil {
		t.AssignedCategory = strings.TrimSpace(*e.AssignedCategory)
		t.UserOverride = true
	}
	if e.IsRecurring != nil {
		t.IsRecurring = *e.IsRecurring
		t.UserOverride = true
	}
	if e.Notes != nil {
		t.Notes = *e.Notes
	}
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
