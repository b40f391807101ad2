package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"mintmind/internal/classify"
	"mintmind/internal/core"
)

// ComputationErrorMessage is the user-facing text for a failed sub-aggregate.
const ComputationErrorMessage = "computation error"

// Reader is the slice of the store the analytics service reads.
type Reader interface {
	Range(ctx context.Context, ownerID string, start, end time.Time) ([]core.Transaction, error)
}

type Service struct {
	store      Reader
	isGambling GamblingFunc
}

func NewService(store Reader, rules *classify.Rules) *Service {
	if rules == nil {
		rules = classify.MustDefaultRules()
	}
	return &Service{
		store: store,
		isGambling: func(tx core.Transaction) bool {
			return rules.IsGamblingCategory(tx.AssignedCategory)
		},
	}
}

// IsGambling exposes the predicate aggregates use.
func (s *Service) IsGambling(tx core.Transaction) bool {
	return s.isGambling(tx)
}

func monthStart(t time.Time) time.Time {
	d := core.DateOnly(t)
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// tomorrow is the exclusive upper bound covering all of today.
func tomorrow(now time.Time) time.Time {
	return core.DateOnly(now).AddDate(0, 0, 1)
}

// Overview is the transaction summary endpoint payload: the current month
// plus a twelve-month breakdown.
type Overview struct {
	Month     Summary
	Breakdown Breakdown
}

func (s *Service) Overview(ctx context.Context, ownerID string, now time.Time) (Overview, error) {
	start := monthStart(now).AddDate(0, -11, 0)
	txs, err := s.store.Range(ctx, ownerID, start, tomorrow(now))
	if err != nil {
		return Overview{}, fmt.Errorf("load transactions: %w", err)
	}
	return Overview{
		Month:     MonthlySummary(txs, now.Year(), now.Month()),
		Breakdown: MonthlyBreakdown(txs),
	}, nil
}

func (s *Service) Gambling(ctx context.Context, ownerID string, now time.Time) (GamblingView, error) {
	start := core.DateOnly(now).AddDate(0, 0, -(SeriesDays - 1))
	if ms := monthStart(now); ms.Before(start) {
		start = ms
	}
	txs, err := s.store.Range(ctx, ownerID, start, tomorrow(now))
	if err != nil {
		return GamblingView{}, fmt.Errorf("load transactions: %w", err)
	}
	return GamblingSummary(txs, now, s.isGambling), nil
}

// AlertsFor evaluates the alert thresholds for the month containing now.
func (s *Service) AlertsFor(ctx context.Context, ownerID string, now time.Time) ([]Alert, AlertInput, error) {
	current := monthStart(now)
	txs, err := s.store.Range(ctx, ownerID, current.AddDate(0, -trendLookbackMonths, 0), tomorrow(now))
	if err != nil {
		return nil, AlertInput{}, fmt.Errorf("load transactions: %w", err)
	}

	in := AlertInput{
		MonthTotal:     decimal.Zero,
		MonthExpenses:  decimal.Zero,
		PreviousMonths: make([]decimal.Decimal, trendLookbackMonths),
	}
	for i := range in.PreviousMonths {
		in.PreviousMonths[i] = decimal.Zero
	}

	for _, tx := range txs {
		if tx.Direction != core.Expense {
			continue
		}
		m := monthStart(tx.DatePosted)
		if m.Equal(current) {
			in.MonthExpenses = in.MonthExpenses.Add(tx.Amount)
			if s.isGambling(tx) {
				in.MonthTotal = in.MonthTotal.Add(tx.Amount)
				in.MonthCount++
			}
			continue
		}
		if !s.isGambling(tx) {
			continue
		}
		for i := 1; i <= trendLookbackMonths; i++ {
			if m.Equal(current.AddDate(0, -i, 0)) {
				in.PreviousMonths[i-1] = in.PreviousMonths[i-1].Add(tx.Amount)
			}
		}
	}
	return Alerts(in), in, nil
}

// Chart is the 90-day spending chart payload.
type Chart struct {
	Series          []DailyPoint
	TotalSpending   decimal.Decimal
	GamblingTotal   decimal.Decimal
	TrendPercentage float64
}

func (s *Service) SpendingChart(ctx context.Context, ownerID string, now time.Time) (Chart, error) {
	start := core.DateOnly(now).AddDate(0, 0, -(SeriesDays - 1))
	txs, err := s.store.Range(ctx, ownerID, start, tomorrow(now))
	if err != nil {
		return Chart{}, fmt.Errorf("load transactions: %w", err)
	}
	c := Chart{
		Series:        DailySeries(txs, now, SeriesDays, s.isGambling),
		TotalSpending: decimal.Zero,
		GamblingTotal: decimal.Zero,
	}
	for _, p := range c.Series {
		c.TotalSpending = c.TotalSpending.Add(p.Total)
		c.GamblingTotal = c.GamblingTotal.Add(p.Gambling)
	}
	c.TrendPercentage = TrendPercentage(GamblingValues(c.Series))
	return c, nil
}

type Income struct {
	MonthlyAverage decimal.Decimal
	MonthsCounted  int
	MonthsWindow   int
}

func (s *Service) MonthlyIncome(ctx context.Context, ownerID string, now time.Time, months int) (Income, error) {
	start := monthStart(now).AddDate(0, -months, 0)
	txs, err := s.store.Range(ctx, ownerID, start, monthStart(now))
	if err != nil {
		return Income{}, fmt.Errorf("load transactions: %w", err)
	}
	avg, counted := MonthlyIncome(txs, now, months)
	return Income{MonthlyAverage: avg, MonthsCounted: counted, MonthsWindow: months}, nil
}

// Dashboard combines the gambling view and its alerts. A failing part is
// zeroed and named in Errors so the rest can still be shown.
type Dashboard struct {
	Gambling GamblingView
	Alerts   []Alert
	Errors   map[string]string
}

func (s *Service) Dashboard(ctx context.Context, ownerID string, now time.Time) Dashboard {
	d := Dashboard{Errors: map[string]string{}}

	view, err := s.Gambling(ctx, ownerID, now)
	if err != nil {
		slog.ErrorContext(ctx, "Gambling summary failed", "owner_id", ownerID, "error", err)
		view = GamblingSummary(nil, now, s.isGambling)
		d.Errors["summary"] = ComputationErrorMessage
	}
	d.Gambling = view

	alerts, _, err := s.AlertsFor(ctx, ownerID, now)
	if err != nil {
		slog.ErrorContext(ctx, "Gambling alerts failed", "owner_id", ownerID, "error", err)
		alerts = nil
		d.Errors["alerts"] = ComputationErrorMessage
	}
	d.Alerts = alerts
	return d
}
