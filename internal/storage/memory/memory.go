// Package memory is an in-process storage.Repository used by tests and by
// DATA_BACKEND=memory.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mintmind/internal/core"
	"mintmind/internal/storage"
)

type link struct {
	token       string
	institution string
	lastSynced  time.Time
}

type Store struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]core.Transaction
	byExt  map[string]int64
	links  map[string]link
	now    func() time.Time
}

var _ storage.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		byID:  map[int64]core.Transaction{},
		byExt: map[string]int64{},
		links: map[string]link{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) FindByExternalID(_ context.Context, externalID string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExt[externalID]
	if !ok {
		return core.Transaction{}, storage.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *Store) Insert(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("validate transaction: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byExt[tx.ExternalID]; ok {
		return core.Transaction{}, fmt.Errorf("insert %s: %w", tx.ExternalID, storage.ErrDuplicateExternalID)
	}
	s.nextID++
	now := s.now()
	tx.ID = s.nextID
	tx.DatePosted = core.DateOnly(tx.DatePosted)
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	s.byID[tx.ID] = tx
	s.byExt[tx.ExternalID] = tx.ID
	return tx, nil
}

func (s *Store) Update(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("validate transaction: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[tx.ID]
	if !ok {
		return fmt.Errorf("update transaction %d: %w", tx.ID, storage.ErrNotFound)
	}
	tx.OwnerID = old.OwnerID
	tx.ExternalID = old.ExternalID
	tx.CreatedAt = old.CreatedAt
	tx.DatePosted = core.DateOnly(tx.DatePosted)
	tx.UpdatedAt = s.now()
	s.byID[tx.ID] = tx
	return nil
}

func (s *Store) Get(_ context.Context, ownerID string, id int64) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok || tx.OwnerID != ownerID {
		return core.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (s *Store) History(_ context.Context, ownerID string) ([]core.HistoryEntry, error) {
	items := s.owned(ownerID, func(core.Transaction) bool { return true })
	sortBy(items, storage.SortDate, false)
	out := make([]core.HistoryEntry, 0, len(items))
	for _, tx := range items {
		out = append(out, tx.History())
	}
	return out, nil
}

func (s *Store) Query(_ context.Context, ownerID string, q storage.Query) (storage.Page, error) {
	q = q.Normalize()
	items := s.owned(ownerID, func(tx core.Transaction) bool { return matches(tx, q.Filter) })
	sortBy(items, q.SortBy, q.Desc)

	page := storage.Page{Total: len(items), Page: q.Page, PerPage: q.PerPage}
	start := min(q.Offset(), len(items))
	end := min(start+q.PerPage, len(items))
	page.Items = items[start:end]
	return page, nil
}

func (s *Store) Range(_ context.Context, ownerID string, start, end time.Time) ([]core.Transaction, error) {
	items := s.owned(ownerID, func(tx core.Transaction) bool { return inRange(tx, start, end) })
	sortBy(items, storage.SortDate, false)
	return items, nil
}

func (s *Store) Categories(_ context.Context, ownerID string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, tx := range s.owned(ownerID, func(core.Transaction) bool { return true }) {
		if tx.AssignedCategory == "" {
			continue
		}
		if _, ok := seen[tx.AssignedCategory]; ok {
			continue
		}
		seen[tx.AssignedCategory] = struct{}{}
		out = append(out, tx.AssignedCategory)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) MonthTotals(_ context.Context, ownerID string, start, end time.Time) ([]core.MonthTotals, error) {
	byMonth := map[[2]int]*core.MonthTotals{}
	for _, tx := range s.owned(ownerID, func(tx core.Transaction) bool { return inRange(tx, start, end) }) {
		key := [2]int{tx.DatePosted.Year(), int(tx.DatePosted.Month())}
		m, ok := byMonth[key]
		if !ok {
			m = &core.MonthTotals{Year: key[0], Month: key[1], Income: decimal.Zero, Expense: decimal.Zero}
			byMonth[key] = m
		}
		if tx.Direction == core.Income {
			m.Income = m.Income.Add(tx.Amount)
		} else {
			m.Expense = m.Expense.Add(tx.Amount)
		}
		m.Count++
	}
	out := make([]core.MonthTotals, 0, len(byMonth))
	for _, m := range byMonth {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b core.MonthTotals) int {
		return cmp.Or(cmp.Compare(a.Year, b.Year), cmp.Compare(a.Month, b.Month))
	})
	return out, nil
}

func (s *Store) CategoryTotals(_ context.Context, ownerID string, direction core.Direction, start, end time.Time) ([]core.CategoryAmount, error) {
	byCat := map[string]*core.CategoryAmount{}
	for _, tx := range s.owned(ownerID, func(tx core.Transaction) bool {
		return tx.Direction == direction && inRange(tx, start, end)
	}) {
		c, ok := byCat[tx.AssignedCategory]
		if !ok {
			c = &core.CategoryAmount{Name: tx.AssignedCategory, Amount: decimal.Zero}
			byCat[tx.AssignedCategory] = c
		}
		c.Amount = c.Amount.Add(tx.Amount)
		c.Count++
	}
	out := make([]core.CategoryAmount, 0, len(byCat))
	for _, c := range byCat {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b core.CategoryAmount) int {
		return cmp.Or(b.Amount.Cmp(a.Amount), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

func (s *Store) LinkAccount(_ context.Context, ownerID, accessToken, institution string) error {
	if strings.TrimSpace(ownerID) == "" {
		return core.ErrEmptyOwner
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.links[ownerID]
	l.token = accessToken
	l.institution = institution
	s.links[ownerID] = l
	return nil
}

func (s *Store) AccessToken(_ context.Context, ownerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[ownerID]
	if !ok {
		return "", storage.ErrNoBankLink
	}
	return l.token, nil
}

func (s *Store) Owners(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.links))
	for owner := range s.links {
		out = append(out, owner)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) MarkSynced(_ context.Context, ownerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[ownerID]
	if !ok {
		return storage.ErrNoBankLink
	}
	l.lastSynced = at
	s.links[ownerID] = l
	return nil
}

// LastSynced reports when MarkSynced last ran for the owner.
func (s *Store) LastSynced(ownerID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[ownerID].lastSynced
}

func (s *Store) owned(ownerID string, keep func(core.Transaction) bool) []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.byID {
		if tx.OwnerID == ownerID && keep(tx) {
			out = append(out, tx)
		}
	}
	return out
}

func inRange(tx core.Transaction, start, end time.Time) bool {
	d := core.DateOnly(tx.DatePosted)
	if !start.IsZero() && d.Before(core.DateOnly(start)) {
		return false
	}
	if !end.IsZero() && !d.Before(core.DateOnly(end)) {
		return false
	}
	return true
}

func matches(tx core.Transaction, f storage.Filter) bool {
	if f.Direction != "" && tx.Direction != f.Direction {
		return false
	}
	if f.Category != "" && !strings.EqualFold(tx.AssignedCategory, f.Category) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(tx.Name), needle) && !strings.Contains(strings.ToLower(tx.Notes), needle) {
			return false
		}
	}
	return inRange(tx, f.Start, f.End)
}

func sortBy(items []core.Transaction, field storage.SortField, desc bool) {
	slices.SortFunc(items, func(a, b core.Transaction) int {
		var c int
		switch field {
		case storage.SortAmount:
			c = a.Amount.Cmp(b.Amount)
		case storage.SortName:
			c = cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case storage.SortType:
			c = cmp.Compare(a.Direction, b.Direction)
		case storage.SortCategory:
			c = cmp.Compare(strings.ToLower(a.AssignedCategory), strings.ToLower(b.AssignedCategory))
		default:
			c = a.DatePosted.Compare(b.DatePosted)
		}
		c = cmp.Or(c, cmp.Compare(a.ID, b.ID))
		if desc {
			return -c
		}
		return c
	})
}
