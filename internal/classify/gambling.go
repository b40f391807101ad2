package classify

import (
	"math"
	"strings"

	"mintmind/internal/core"
)

// Method names the signal that produced a verdict.
type Method string

const (
	MethodMerchant Method = "merchant_match"
	MethodCategory Method = "category_match"
	MethodKeyword  Method = "keyword_match"
	MethodNone     Method = "none"
)

// Gambling categories assigned to matched transactions.
const (
	CategoryGambling      = "Gambling"
	CategorySportsBetting = "Sports Betting"
	CategoryCasino        = "Casino"
)

// Detection is the gambling verdict for one record. Evidence slices keep
// first-seen order without duplicates.
type Detection struct {
	IsMatch    bool
	Confidence float64
	Method     Method
	Merchants  []string
	Keywords   []string
	Categories []string
}

// GamblingDetector flags gambling spend from merchant, keyword and category
// signals.
type GamblingDetector struct {
	rules *Rules
}

func NewGamblingDetector(rules *Rules) *GamblingDetector {
	if rules == nil {
		rules = MustDefaultRules()
	}
	return &GamblingDetector{rules: rules}
}

// Detect analyses rec. Income is never flagged.
func (g *GamblingDetector) Detect(rec core.RawTransaction) Detection {
	if rec.IsIncome() {
		return Detection{Method: MethodNone}
	}

	candidates := texts(rec.Name, rec.MerchantName)
	d := Detection{
		Merchants:  g.matchMerchants(candidates),
		Keywords:   g.matchKeywords(candidates),
		Categories: g.matchCategories(rec.DeclaredCategories),
	}

	var confidence float64
	d.Method = MethodNone
	if len(d.Keywords) > 0 {
		confidence += g.rules.keywordWeight
		d.Method = MethodKeyword
	}
	if len(d.Categories) > 0 {
		confidence += g.rules.categoryWeight
		d.Method = MethodCategory
	}
	if len(d.Merchants) > 0 {
		confidence += g.rules.merchantWeight
		d.Method = MethodMerchant
	}

	d.IsMatch = d.Method != MethodNone
	d.Confidence = math.Min(confidence, 1.0)
	return d
}

func (g *GamblingDetector) matchMerchants(candidates []string) []string {
	var matched []string
	for _, text := range candidates {
		for _, m := range g.rules.merchants {
			if m.pattern.MatchString(text) {
				matched = appendUnique(matched, m.name)
			}
		}
	}
	return matched
}

func (g *GamblingDetector) matchKeywords(candidates []string) []string {
	var matched []string
	for _, text := range candidates {
		for _, k := range g.rules.keywords {
			if k.pattern.MatchString(text) {
				matched = appendUnique(matched, k.term)
			}
		}
	}
	return matched
}

// matchCategories compares declared categories with the gambling vocabulary
// by substring in either direction. Matches come out in vocabulary order.
// Blank declared categories are ignored since an empty string is a
// substring of everything.
func (g *GamblingDetector) matchCategories(declared []string) []string {
	var matched []string
	for _, gc := range g.rules.gamblingCategories {
		lower := strings.ToLower(gc)
		for _, raw := range declared {
			cat := strings.ToLower(strings.TrimSpace(raw))
			if cat == "" {
				continue
			}
			if strings.Contains(lower, cat) || strings.Contains(cat, lower) {
				matched = appendUnique(matched, gc)
				break
			}
		}
	}
	return matched
}

// Category picks the assigned category for a matched detection.
func (g *GamblingDetector) Category(d Detection) string {
	if len(d.Merchants) > 0 {
		var casino bool
		for _, name := range d.Merchants {
			kind := g.merchantKind(name)
			lower := strings.ToLower(name)
			if kind == KindSportsbook || strings.Contains(lower, "sports") || strings.Contains(lower, "bet") {
				return CategorySportsBetting
			}
			if kind == KindCasino || strings.Contains(lower, "casino") || strings.Contains(lower, "poker") {
				casino = true
			}
		}
		if casino {
			return CategoryCasino
		}
		return CategoryGambling
	}

	if len(d.Categories) > 0 {
		return d.Categories[0]
	}

	if len(d.Keywords) > 0 {
		var casino bool
		for _, term := range d.Keywords {
			switch g.keywordKind(term) {
			case KeywordSports:
				return CategorySportsBetting
			case KeywordCasino:
				casino = true
			}
		}
		if casino {
			return CategoryCasino
		}
	}

	return CategoryGambling
}

func (g *GamblingDetector) merchantKind(name string) string {
	for _, m := range g.rules.merchants {
		if m.name == name {
			return m.kind
		}
	}
	return ""
}

func (g *GamblingDetector) keywordKind(term string) string {
	for _, k := range g.rules.keywords {
		if k.term == term {
			return k.kind
		}
	}
	return ""
}

// IsGamblingCategory reports whether an assigned category counts as
// gambling spend in aggregates.
func (r *Rules) IsGamblingCategory(category string) bool {
	c := strings.TrimSpace(category)
	if c == "" {
		return false
	}
	switch {
	case strings.EqualFold(c, CategoryGambling),
		strings.EqualFold(c, CategorySportsBetting),
		strings.EqualFold(c, CategoryCasino):
		return true
	}
	for _, gc := range r.gamblingCategories {
		if strings.EqualFold(c, gc) {
			return true
		}
	}
	return false
}
