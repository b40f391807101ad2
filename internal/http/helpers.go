package http

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mintmind/internal/analytics"
	"mintmind/internal/core"
	"mintmind/internal/reconcile"
	"mintmind/internal/storage"
)

// JSON views. Amounts leave the process rounded to cents.

type transactionJSON struct {
	ID               int64    `json:"id"`
	ExternalID       string   `json:"external_id"`
	Date             string   `json:"date"`
	Name             string   `json:"name"`
	Amount           float64  `json:"amount"`
	Type             string   `json:"type"`
	DeclaredCategory string   `json:"declared_category"`
	AssignedCategory string   `json:"assigned_category"`
	IsRecurring      bool     `json:"is_recurring"`
	RunningBalance   *float64 `json:"running_balance"`
	Notes            string   `json:"notes"`
	UserOverride     bool     `json:"user_override"`
	UpdatedAt        string   `json:"updated_at,omitempty"`
}

type paginationJSON struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

type listJSON struct {
	Transactions []transactionJSON `json:"transactions"`
	Pagination   paginationJSON    `json:"pagination"`
}

type categoryJSON struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Count  int     `json:"count"`
}

type monthJSON struct {
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Income   float64 `json:"income"`
	Expenses float64 `json:"expenses"`
	Net      float64 `json:"net"`
}

type summaryJSON struct {
	monthJSON
	Count      int            `json:"count"`
	Categories []categoryJSON `json:"categories"`
}

type breakdownRowJSON struct {
	monthJSON
	RunningIncome   float64 `json:"running_income"`
	RunningExpenses float64 `json:"running_expenses"`
	RunningNet      float64 `json:"running_net"`
}

type overviewJSON struct {
	Month     summaryJSON        `json:"month"`
	Breakdown []breakdownRowJSON `json:"breakdown"`
	Error     string             `json:"error,omitempty"`
}

type dailyJSON struct {
	Date             string  `json:"date"`
	TotalSpending    float64 `json:"total_spending"`
	GamblingSpending float64 `json:"gambling_spending"`
}

type gamblingJSON struct {
	MonthTotal              float64        `json:"month_total"`
	NinetyDayTotal          float64        `json:"ninety_day_total"`
	DailyAverage            float64        `json:"daily_average"`
	MonthCount              int            `json:"month_count"`
	Categories              []categoryJSON `json:"categories"`
	GamblingTrendPercentage float64        `json:"gambling_trend_percentage"`
	TotalSpending90Days     float64        `json:"total_spending_90_days"`
	DailyData               []dailyJSON    `json:"daily_data"`
	Error                   string         `json:"error,omitempty"`
}

type alertJSON struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	Recommendation string `json:"recommendation"`
}

type alertsJSON struct {
	Alerts     []alertJSON `json:"alerts"`
	MonthTotal float64     `json:"month_total"`
	MonthCount int         `json:"month_count"`
	Error      string      `json:"error,omitempty"`
}

type dashboardJSON struct {
	Gambling gamblingJSON      `json:"gambling"`
	Alerts   []alertJSON       `json:"alerts"`
	Errors   map[string]string `json:"errors"`
}

type chartJSON struct {
	DailyData               []dailyJSON `json:"daily_data"`
	TotalSpending90Days     float64     `json:"total_spending_90_days"`
	GamblingSpending90Days  float64     `json:"gambling_spending_90_days"`
	GamblingTrendPercentage float64     `json:"gambling_trend_percentage"`
	Error                   string      `json:"error,omitempty"`
}

type incomeJSON struct {
	MonthlyIncome float64 `json:"monthly_income"`
	MonthsCounted int     `json:"months_with_income"`
	MonthsWindow  int     `json:"months_analyzed"`
	Error         string  `json:"error,omitempty"`
}

type categoriesJSON struct {
	Categories []string `json:"categories"`
	Count      int      `json:"count"`
}

type syncJSON struct {
	Status    string `json:"status"`
	BatchID   string `json:"batch_id,omitempty"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Fallback  int    `json:"fallback"`
}

func toTransactionJSON(tx core.Transaction) transactionJSON {
	out := transactionJSON{
		ID:               tx.ID,
		ExternalID:       tx.ExternalID,
		Date:             tx.DatePosted.Format(time.DateOnly),
		Name:             tx.Name,
		Amount:           core.Round2(tx.Amount),
		Type:             string(tx.Direction),
		DeclaredCategory: tx.DeclaredCategory,
		AssignedCategory: tx.AssignedCategory,
		IsRecurring:      tx.IsRecurring,
		Notes:            tx.Notes,
		UserOverride:     tx.UserOverride,
	}
	if tx.RunningBalance != nil {
		b := core.Round2(*tx.RunningBalance)
		out.RunningBalance = &b
	}
	if !tx.UpdatedAt.IsZero() {
		out.UpdatedAt = tx.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func toListJSON(p storage.Page) listJSON {
	out := listJSON{
		Transactions: make([]transactionJSON, 0, len(p.Items)),
		Pagination: paginationJSON{
			Page:    p.Page,
			PerPage: p.PerPage,
			Total:   p.Total,
			Pages:   p.Pages(),
			HasNext: p.Page < p.Pages(),
			HasPrev: p.Page > 1,
		},
	}
	for _, tx := range p.Items {
		out.Transactions = append(out.Transactions, toTransactionJSON(tx))
	}
	return out
}

// toCategoriesJSON orders categories by amount, largest first, then by name.
func toCategoriesJSON(m map[string]analytics.CategoryTotal) []categoryJSON {
	names := slices.Sorted(maps.Keys(m))
	slices.SortStableFunc(names, func(a, b string) int {
		return m[b].Amount.Cmp(m[a].Amount)
	})
	out := make([]categoryJSON, 0, len(names))
	for _, n := range names {
		out = append(out, categoryJSON{Name: n, Amount: core.Round2(m[n].Amount), Count: m[n].Count})
	}
	return out
}

func toMonthJSON(year int, month time.Month, income, expenses, net decimal.Decimal) monthJSON {
	return monthJSON{
		Year:     year,
		Month:    int(month),
		Income:   core.Round2(income),
		Expenses: core.Round2(expenses),
		Net:      core.Round2(net),
	}
}

func toOverviewJSON(o analytics.Overview) overviewJSON {
	out := overviewJSON{
		Month: summaryJSON{
			monthJSON:  toMonthJSON(o.Month.Year, o.Month.Month, o.Month.Income, o.Month.Expenses, o.Month.Net),
			Count:      o.Month.Count,
			Categories: toCategoriesJSON(o.Month.Categories),
		},
		Breakdown: make([]breakdownRowJSON, 0, len(o.Breakdown.Months)),
	}
	for _, m := range o.Breakdown.Months {
		out.Breakdown = append(out.Breakdown, breakdownRowJSON{
			monthJSON:       toMonthJSON(m.Year, m.Month, m.Income, m.Expenses, m.Net),
			RunningIncome:   core.Round2(m.RunningIncome),
			RunningExpenses: core.Round2(m.RunningExpenses),
			RunningNet:      core.Round2(m.RunningNet),
		})
	}
	return out
}

func toDailyJSON(series []analytics.DailyPoint) []dailyJSON {
	out := make([]dailyJSON, 0, len(series))
	for _, p := range series {
		out = append(out, dailyJSON{
			Date:             p.Date.Format(time.DateOnly),
			TotalSpending:    core.Round2(p.Total),
			GamblingSpending: core.Round2(p.Gambling),
		})
	}
	return out
}

func toGamblingJSON(v analytics.GamblingView) gamblingJSON {
	return gamblingJSON{
		MonthTotal:              core.Round2(v.MonthTotal),
		NinetyDayTotal:          core.Round2(v.NinetyDayTotal),
		DailyAverage:            core.Round2(v.DailyAverage),
		MonthCount:              v.MonthCount,
		Categories:              toCategoriesJSON(v.Categories),
		GamblingTrendPercentage: v.TrendPercentage,
		TotalSpending90Days:     core.Round2(v.TotalSpending90),
		DailyData:               toDailyJSON(v.Series),
	}
}

func toDashboardJSON(d analytics.Dashboard) dashboardJSON {
	errs := d.Errors
	if errs == nil {
		errs = map[string]string{}
	}
	return dashboardJSON{
		Gambling: toGamblingJSON(d.Gambling),
		Alerts:   toAlertsJSON(d.Alerts, analytics.AlertInput{}).Alerts,
		Errors:   errs,
	}
}

func toAlertsJSON(alerts []analytics.Alert, in analytics.AlertInput) alertsJSON {
	out := alertsJSON{
		Alerts:     make([]alertJSON, 0, len(alerts)),
		MonthTotal: core.Round2(in.MonthTotal),
		MonthCount: in.MonthCount,
	}
	for _, a := range alerts {
		out.Alerts = append(out.Alerts, alertJSON{
			Type:           string(a.Kind),
			Severity:       string(a.Severity),
			Message:        a.Message,
			Recommendation: a.Recommendation,
		})
	}
	return out
}

func toChartJSON(c analytics.Chart) chartJSON {
	return chartJSON{
		DailyData:               toDailyJSON(c.Series),
		TotalSpending90Days:     core.Round2(c.TotalSpending),
		GamblingSpending90Days:  core.Round2(c.GamblingTotal),
		GamblingTrendPercentage: c.TrendPercentage,
	}
}

func toIncomeJSON(i analytics.Income) incomeJSON {
	return incomeJSON{
		MonthlyIncome: core.Round2(i.MonthlyAverage),
		MonthsCounted: i.MonthsCounted,
		MonthsWindow:  i.MonthsWindow,
	}
}

func toSyncJSON(status string, r *reconcile.Report) syncJSON {
	out := syncJSON{Status: status}
	if r == nil {
		return out
	}
	out.BatchID = r.BatchID
	out.Inserted = r.Inserted
	out.Updated = r.Updated
	out.Unchanged = r.Unchanged
	out.Skipped = r.Skipped
	out.Failed = r.Failed
	out.Fallback = r.Fallback
	return out
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}
