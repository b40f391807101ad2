// Package analytics computes read-side summaries over persisted
// transactions: monthly totals, category breakdowns, the 90-day daily
// series, trend deltas and threshold alerts.
//
// Everything here works on decimal.Decimal; rounding to cents happens only
// when results are serialized.
package analytics

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"mintmind/internal/core"
)

const (
	SeriesDays  = 90
	trendWindow = 30
)

// GamblingFunc reports whether a persisted transaction counts as gambling.
type GamblingFunc func(core.Transaction) bool

type CategoryTotal struct {
	Amount decimal.Decimal
	Count  int
}

// Summary is the income/expense picture for one calendar month.
type Summary struct {
	Year       int
	Month      time.Month
	Income     decimal.Decimal
	Expenses   decimal.Decimal
	Net        decimal.Decimal
	Count      int
	Categories map[string]CategoryTotal // expenses only
}

// MonthlySummary totals txs falling in year/month.
func MonthlySummary(txs []core.Transaction, year int, month time.Month) Summary {
	s := Summary{
		Year:       year,
		Month:      month,
		Income:     decimal.Zero,
		Expenses:   decimal.Zero,
		Categories: map[string]CategoryTotal{},
	}
	for _, tx := range txs {
		if tx.DatePosted.Year() != year || tx.DatePosted.Month() != month {
			continue
		}
		s.Count++
		if tx.Direction == core.Income {
			s.Income = s.Income.Add(tx.Amount)
			continue
		}
		s.Expenses = s.Expenses.Add(tx.Amount)
		addCategory(s.Categories, tx)
	}
	s.Net = s.Income.Sub(s.Expenses)
	return s
}

type MonthRow struct {
	Year     int
	Month    time.Month
	Income   decimal.Decimal
	Expenses decimal.Decimal
	Net      decimal.Decimal
	// Running totals accumulate from the first month in the breakdown.
	RunningIncome   decimal.Decimal
	RunningExpenses decimal.Decimal
	RunningNet      decimal.Decimal
}

type Breakdown struct {
	Months     []MonthRow
	Categories map[string]CategoryTotal
}

// MonthlyBreakdown groups txs by month, oldest first, with running totals.
func MonthlyBreakdown(txs []core.Transaction) Breakdown {
	type key struct {
		y int
		m time.Month
	}
	rows := map[key]*MonthRow{}
	b := Breakdown{Categories: map[string]CategoryTotal{}}

	for _, tx := range txs {
		k := key{tx.DatePosted.Year(), tx.DatePosted.Month()}
		row, ok := rows[k]
		if !ok {
			row = &MonthRow{Year: k.y, Month: k.m, Income: decimal.Zero, Expenses: decimal.Zero}
			rows[k] = row
		}
		if tx.Direction == core.Income {
			row.Income = row.Income.Add(tx.Amount)
		} else {
			row.Expenses = row.Expenses.Add(tx.Amount)
			addCategory(b.Categories, tx)
		}
	}

	for _, row := range rows {
		b.Months = append(b.Months, *row)
	}
	slices.SortFunc(b.Months, func(a, c MonthRow) int {
		return cmp.Or(cmp.Compare(a.Year, c.Year), cmp.Compare(a.Month, c.Month))
	})

	income, expenses := decimal.Zero, decimal.Zero
	for i := range b.Months {
		m := &b.Months[i]
		m.Net = m.Income.Sub(m.Expenses)
		income = income.Add(m.Income)
		expenses = expenses.Add(m.Expenses)
		m.RunningIncome = income
		m.RunningExpenses = expenses
		m.RunningNet = income.Sub(expenses)
	}
	return b
}

// DailyPoint is one calendar day of spending.
type DailyPoint struct {
	Date     time.Time
	Total    decimal.Decimal
	Gambling decimal.Decimal
}

// DailySeries returns exactly days points ending at end (inclusive), one per
// calendar day, zero-filled. Only expenses count as spending.
func DailySeries(txs []core.Transaction, end time.Time, days int, isGambling GamblingFunc) []DailyPoint {
	if days <= 0 {
		return nil
	}
	last := core.DateOnly(end)
	first := last.AddDate(0, 0, -(days - 1))

	series := make([]DailyPoint, days)
	index := make(map[time.Time]int, days)
	for i := range series {
		d := first.AddDate(0, 0, i)
		series[i] = DailyPoint{Date: d, Total: decimal.Zero, Gambling: decimal.Zero}
		index[d] = i
	}

	for _, tx := range txs {
		if tx.Direction != core.Expense {
			continue
		}
		i, ok := index[core.DateOnly(tx.DatePosted)]
		if !ok {
			continue
		}
		series[i].Total = series[i].Total.Add(tx.Amount)
		if isGambling != nil && isGambling(tx) {
			series[i].Gambling = series[i].Gambling.Add(tx.Amount)
		}
	}
	return series
}

// TrendPercentage compares the last 30 points with the first 30:
// (last − first) / first × 100. A zero first window yields 0.
func TrendPercentage(values []decimal.Decimal) float64 {
	n := min(trendWindow, len(values))
	if n == 0 {
		return 0
	}
	first := sum(values[:n])
	last := sum(values[len(values)-n:])
	if first.IsZero() {
		return 0
	}
	pct := last.Sub(first).Div(first).Mul(decimal.NewFromInt(100))
	return core.Round2(pct)
}

// GamblingValues extracts the gambling column of a series.
func GamblingValues(series []DailyPoint) []decimal.Decimal {
	out := make([]decimal.Decimal, len(series))
	for i, p := range series {
		out[i] = p.Gambling
	}
	return out
}

// GamblingView is the gambling-specific dashboard block.
type GamblingView struct {
	MonthTotal      decimal.Decimal
	NinetyDayTotal  decimal.Decimal
	DailyAverage    decimal.Decimal
	MonthCount      int
	Categories      map[string]CategoryTotal
	TrendPercentage float64
	TotalSpending90 decimal.Decimal
	Series          []DailyPoint
}

// GamblingSummary builds the gambling view as of now. The daily average is
// the current month total divided by the day of month.
func GamblingSummary(txs []core.Transaction, now time.Time, isGambling GamblingFunc) GamblingView {
	today := core.DateOnly(now)
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

	v := GamblingView{
		MonthTotal:      decimal.Zero,
		NinetyDayTotal:  decimal.Zero,
		DailyAverage:    decimal.Zero,
		Categories:      map[string]CategoryTotal{},
		TotalSpending90: decimal.Zero,
	}
	v.Series = DailySeries(txs, today, SeriesDays, isGambling)
	for _, p := range v.Series {
		v.NinetyDayTotal = v.NinetyDayTotal.Add(p.Gambling)
		v.TotalSpending90 = v.TotalSpending90.Add(p.Total)
	}
	v.TrendPercentage = TrendPercentage(GamblingValues(v.Series))

	for _, tx := range txs {
		if tx.Direction != core.Expense || isGambling == nil || !isGambling(tx) {
			continue
		}
		d := core.DateOnly(tx.DatePosted)
		if d.Before(monthStart) || d.After(today) {
			continue
		}
		v.MonthTotal = v.MonthTotal.Add(tx.Amount)
		v.MonthCount++
		addCategory(v.Categories, tx)
	}
	v.DailyAverage = v.MonthTotal.Div(decimal.NewFromInt(int64(today.Day())))
	return v
}

// MonthlyIncome averages income over the given number of complete months
// before now. Months without any income are left out of the average.
func MonthlyIncome(txs []core.Transaction, now time.Time, months int) (avg decimal.Decimal, counted int) {
	if months <= 0 {
		return decimal.Zero, 0
	}
	today := core.DateOnly(now)
	end := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, -months, 0)

	perMonth := map[time.Time]decimal.Decimal{}
	for _, tx := range txs {
		if tx.Direction != core.Income {
			continue
		}
		d := core.DateOnly(tx.DatePosted)
		if d.Before(start) || !d.Before(end) {
			continue
		}
		k := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		perMonth[k] = perMonth[k].Add(tx.Amount)
	}
	if len(perMonth) == 0 {
		return decimal.Zero, 0
	}
	total := decimal.Zero
	for _, v := range perMonth {
		total = total.Add(v)
	}
	return total.Div(decimal.NewFromInt(int64(len(perMonth)))), len(perMonth)
}

func addCategory(m map[string]CategoryTotal, tx core.Transaction) {
	c := m[tx.AssignedCategory]
	c.Amount = c.Amount.Add(tx.Amount)
	c.Count++
	m[tx.AssignedCategory] = c
}

func sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
