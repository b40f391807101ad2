package classify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"mintmind/internal/core"
)

// CategoryMethod names the categorizer branch that produced a result.
type CategoryMethod string

const (
	MethodDeclared      CategoryMethod = "declared_category"
	MethodMerchantMatch CategoryMethod = "merchant_match"
	MethodAmountPattern CategoryMethod = "amount_pattern"
	MethodFallback      CategoryMethod = "fallback"
)

const (
	merchantAcceptAbove = 0.6
	amountAcceptAbove   = 0.5
	fallbackConfidence  = 0.3
)

var (
	five     = decimal.NewFromInt(5)
	fifty    = decimal.NewFromInt(50)
	twoHund  = decimal.NewFromInt(200)
	thousand = decimal.NewFromInt(1000)

	foodWords    = []string{"coffee", "drink", "snack", "food"}
	housingWords = []string{"rent", "mortgage", "payment"}
)

// Categorization is the general categorizer's verdict.
type Categorization struct {
	Category    string
	Confidence  float64
	IsRecurring bool
	Method      CategoryMethod
	Reasoning   string
}

// Categorizer assigns a general spending category to records the gambling
// detector did not flag.
type Categorizer struct {
	rules      *Rules
	recurrence *RecurrenceDetector
}

func NewCategorizer(rules *Rules) *Categorizer {
	if rules == nil {
		rules = MustDefaultRules()
	}
	return &Categorizer{
		rules:      rules,
		recurrence: NewRecurrenceDetector(rules),
	}
}

// Categorize runs declared passthrough, merchant patterns, the amount
// heuristic and the fallback, stopping at the first accepted result.
// Inflows skip merchant patterns: the sign is decisive for income.
func (c *Categorizer) Categorize(rec core.RawTransaction, history []core.HistoryEntry) Categorization {
	result := c.categorize(rec)
	result.IsRecurring = c.recurrence.IsRecurring(rec.History(), history)
	return result
}

func (c *Categorizer) categorize(rec core.RawTransaction) Categorization {
	if len(rec.DeclaredCategories) > 0 {
		first := strings.TrimSpace(rec.DeclaredCategories[0])
		if first != "" && first != core.DefaultCategory {
			return Categorization{
				Category:   first,
				Confidence: c.rules.declaredConfidence,
				Method:     MethodDeclared,
				Reasoning:  fmt.Sprintf("used declared category: %s", first),
			}
		}
	}

	if !rec.IsIncome() {
		if category, confidence := c.ByMerchant(rec.Name, rec.MerchantName); confidence > merchantAcceptAbove {
			return Categorization{
				Category:   category,
				Confidence: confidence,
				Method:     MethodMerchantMatch,
				Reasoning:  fmt.Sprintf("matched merchant pattern: %s", category),
			}
		}
	}

	if category, confidence := ByAmount(rec.Amount, rec.Name); confidence > amountAcceptAbove {
		return Categorization{
			Category:   category,
			Confidence: confidence,
			Method:     MethodAmountPattern,
			Reasoning:  fmt.Sprintf("based on amount pattern: %s", category),
		}
	}

	return Categorization{
		Category:   core.DefaultCategory,
		Confidence: fallbackConfidence,
		Method:     MethodFallback,
		Reasoning:  "no specific patterns detected",
	}
}

// ByMerchant returns the best merchant-pattern category. Patterns longer than
// five characters score 0.8, shorter ones 0.6; the first strictly better hit
// wins. Returns ("Other", 0) when nothing matches.
func (c *Categorizer) ByMerchant(name, merchant string) (string, float64) {
	best, bestConfidence := core.DefaultCategory, 0.0
	for _, text := range texts(name, merchant) {
		lower := strings.ToLower(text)
		for _, rule := range c.rules.categories {
			for _, p := range rule.patterns {
				if !p.pattern.MatchString(lower) {
					continue
				}
				confidence := 0.6
				if len(p.source) > 5 {
					confidence = 0.8
				}
				if confidence > bestConfidence {
					best, bestConfidence = rule.category, confidence
				}
			}
		}
	}
	return best, bestConfidence
}

// ByAmount buckets a signed aggregator amount.
func ByAmount(amount decimal.Decimal, name string) (string, float64) {
	lower := strings.ToLower(name)
	switch {
	case amount.IsNegative():
		return "Income", 0.9
	case amount.LessThan(five):
		return core.DefaultCategory, 0.3
	case amount.LessThanOrEqual(fifty):
		if containsAny(lower, foodWords) {
			return "Food & Dining", 0.7
		}
		return core.DefaultCategory, 0.4
	case amount.LessThanOrEqual(twoHund):
		return "Shopping", 0.5
	case amount.LessThanOrEqual(thousand):
		return "Shopping", 0.6
	default:
		if containsAny(lower, housingWords) {
			return "Housing", 0.8
		}
		return core.DefaultCategory, 0.4
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
