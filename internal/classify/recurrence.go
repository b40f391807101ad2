package classify

import (
	"strings"

	"github.com/shopspring/decimal"

	"mintmind/internal/core"
)

// RecurrenceDetector flags transactions that repeat by name and amount.
//
// Each call scans the whole history, which is fine for personal-finance
// volumes but grows linearly with an owner's transaction count.
type RecurrenceDetector struct {
	rules     *Rules
	tolerance decimal.Decimal
}

func NewRecurrenceDetector(rules *Rules) *RecurrenceDetector {
	if rules == nil {
		rules = MustDefaultRules()
	}
	return &RecurrenceDetector{
		rules:     rules,
		tolerance: decimal.NewFromFloat(rules.amountTolerance),
	}
}

// IsRecurring reports whether at least MinMatches history entries share a
// similar name and an amount within tolerance of candidate. Entries with the
// candidate's own external ID are skipped.
func (d *RecurrenceDetector) IsRecurring(candidate core.HistoryEntry, history []core.HistoryEntry) bool {
	return d.Matches(candidate, history) >= d.rules.minMatches
}

// Matches counts corroborating history entries.
func (d *RecurrenceDetector) Matches(candidate core.HistoryEntry, history []core.HistoryEntry) int {
	name := d.normalizeName(candidate.Name)
	if len(name) < d.rules.minNameLength {
		return 0
	}
	amount := candidate.Amount.Abs()

	var count int
	for _, h := range history {
		if candidate.ExternalID != "" && h.ExternalID == candidate.ExternalID {
			continue
		}
		if !d.namesSimilar(name, d.normalizeName(h.Name)) {
			continue
		}
		if d.amountsSimilar(amount, h.Amount.Abs()) {
			count++
		}
	}
	return count
}

// normalizeName lowercases the name and strips the configured bank
// prefixes and corporate suffixes.
func (d *RecurrenceDetector) normalizeName(name string) string {
	n := strings.ToLower(Normalize(name))
	for _, p := range d.rules.prefixes {
		n = strings.TrimPrefix(n, p)
	}
	for _, s := range d.rules.suffixes {
		n = strings.TrimSuffix(n, s)
	}
	return strings.TrimSpace(n)
}

func (d *RecurrenceDetector) namesSimilar(a, b string) bool {
	if len(a) < d.rules.minNameLength || len(b) < d.rules.minNameLength {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// amountsSimilar compares absolute amounts relative to the larger one.
func (d *RecurrenceDetector) amountsSimilar(a, b decimal.Decimal) bool {
	larger := decimal.Max(a, b)
	if larger.IsZero() {
		return true
	}
	return a.Sub(b).Abs().LessThanOrEqual(larger.Mul(d.tolerance))
}
