package analytics

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type AlertKind string

const (
	AlertThreshold     AlertKind = "threshold"
	AlertTrend         AlertKind = "trend"
	AlertConcentration AlertKind = "concentration"
	AlertFrequency     AlertKind = "frequency"
)

// Monthly gambling limits. A month at or above a tier raises that tier;
// only the highest reached tier is reported.
var (
	LowThreshold    = decimal.NewFromInt(50)
	MediumThreshold = decimal.NewFromInt(200)
	HighThreshold   = decimal.NewFromInt(500)
)

const (
	trendMultiplier     = 1.5
	concentrationShare  = 0.20
	frequencyLimit      = 20
	trendLookbackMonths = 3
)

type Alert struct {
	Kind           AlertKind
	Severity       Severity
	Message        string
	Recommendation string
}

// AlertInput is what Alerts needs about the month being evaluated.
type AlertInput struct {
	MonthTotal    decimal.Decimal // gambling spend this month
	MonthCount    int             // gambling transactions this month
	MonthExpenses decimal.Decimal // all expenses this month
	// PreviousMonths holds gambling spend of the preceding calendar months,
	// most recent first. Only the first three are used.
	PreviousMonths []decimal.Decimal
}

// Alerts evaluates the static thresholds.
func Alerts(in AlertInput) []Alert {
	var out []Alert

	if a, ok := thresholdAlert(in.MonthTotal); ok {
		out = append(out, a)
	}

	prev := in.PreviousMonths
	if len(prev) > trendLookbackMonths {
		prev = prev[:trendLookbackMonths]
	}
	if len(prev) > 0 {
		avg := sum(prev).Div(decimal.NewFromInt(int64(len(prev))))
		limit := avg.Mul(decimal.NewFromFloat(trendMultiplier))
		if avg.IsPositive() && in.MonthTotal.GreaterThan(limit) {
			pct := in.MonthTotal.Sub(avg).Div(avg).Mul(decimal.NewFromInt(100)).Round(0)
			out = append(out, Alert{
				Kind:           AlertTrend,
				Severity:       SeverityMedium,
				Message:        fmt.Sprintf("Gambling spending is up %s%% on your %d-month average of $%s", pct, len(prev), avg.StringFixed(2)),
				Recommendation: "Compare this month with previous months and identify what changed.",
			})
		}
	}

	if in.MonthExpenses.IsPositive() {
		share := in.MonthTotal.Div(in.MonthExpenses)
		if share.GreaterThan(decimal.NewFromFloat(concentrationShare)) {
			out = append(out, Alert{
				Kind:           AlertConcentration,
				Severity:       SeverityHigh,
				Message:        fmt.Sprintf("Gambling is %s%% of your spending this month", share.Mul(decimal.NewFromInt(100)).Round(0)),
				Recommendation: "Set a budget that keeps gambling below a fifth of your monthly spending.",
			})
		}
	}

	if in.MonthCount > frequencyLimit {
		out = append(out, Alert{
			Kind:           AlertFrequency,
			Severity:       SeverityMedium,
			Message:        fmt.Sprintf("%d gambling transactions this month", in.MonthCount),
			Recommendation: "Consider deposit limits or a cooling-off period with your operators.",
		})
	}
	return out
}

func thresholdAlert(total decimal.Decimal) (Alert, bool) {
	amount := total.StringFixed(2)
	switch {
	case total.GreaterThanOrEqual(HighThreshold):
		return Alert{
			Kind:           AlertThreshold,
			Severity:       SeverityHigh,
			Message:        fmt.Sprintf("You spent $%s on gambling this month, above the $%s high-risk limit", amount, HighThreshold),
			Recommendation: "Reduce gambling spending now: set a hard monthly limit or self-exclude, and talk to a support service if it feels hard to stop.",
		}, true
	case total.GreaterThanOrEqual(MediumThreshold):
		return Alert{
			Kind:           AlertThreshold,
			Severity:       SeverityMedium,
			Message:        fmt.Sprintf("You spent $%s on gambling this month", amount),
			Recommendation: "Set a monthly gambling budget and track it weekly.",
		}, true
	case total.GreaterThanOrEqual(LowThreshold):
		return Alert{
			Kind:           AlertThreshold,
			Severity:       SeverityLow,
			Message:        fmt.Sprintf("You spent $%s on gambling this month", amount),
			Recommendation: "Keep an eye on how often you gamble.",
		}, true
	}
	return Alert{}, false
}
