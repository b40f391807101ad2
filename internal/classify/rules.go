package classify

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Merchant kinds.
const (
	KindSportsbook = "sportsbook"
	KindCasino     = "casino"
	KindFantasy    = "fantasy"
	KindLottery    = "lottery"
)

// Keyword kinds.
const (
	KeywordSports  = "sports"
	KeywordCasino  = "casino"
	KeywordGeneral = "general"
)

// RulesFile is the YAML shape of the detector vocabulary.
type RulesFile struct {
	Gambling struct {
		Weights struct {
			Merchant float64 `yaml:"merchant"`
			Category float64 `yaml:"category"`
			Keyword  float64 `yaml:"keyword"`
		} `yaml:"weights"`
		Merchants []struct {
			Name string `yaml:"name"`
			Kind string `yaml:"kind"`
		} `yaml:"merchants"`
		Keywords []struct {
			Term string `yaml:"term"`
			Kind string `yaml:"kind"`
		} `yaml:"keywords"`
		Categories []string `yaml:"categories"`
	} `yaml:"gambling"`

	Categorizer struct {
		DeclaredConfidence float64 `yaml:"declared_confidence"`
		MerchantPatterns   []struct {
			Category string   `yaml:"category"`
			Patterns []string `yaml:"patterns"`
		} `yaml:"merchant_patterns"`
	} `yaml:"categorizer"`

	Recurrence struct {
		Prefixes        []string `yaml:"prefixes"`
		Suffixes        []string `yaml:"suffixes"`
		MinNameLength   int      `yaml:"min_name_length"`
		AmountTolerance float64  `yaml:"amount_tolerance"`
		MinMatches      int      `yaml:"min_matches"`
	} `yaml:"recurrence"`
}

type merchantRule struct {
	name    string
	kind    string
	pattern *regexp.Regexp
}

type keywordRule struct {
	term    string
	kind    string
	pattern *regexp.Regexp
}

type categoryPattern struct {
	source  string
	pattern *regexp.Regexp
}

type categoryRule struct {
	category string
	patterns []categoryPattern
}

// Rules is the compiled, read-only detector vocabulary. Build it once with
// LoadRules or DefaultRules and share it between detectors.
type Rules struct {
	merchantWeight float64
	categoryWeight float64
	keywordWeight  float64

	merchants          []merchantRule
	keywords           []keywordRule
	gamblingCategories []string

	declaredConfidence float64
	categories         []categoryRule

	prefixes        []string
	suffixes        []string
	minNameLength   int
	amountTolerance float64
	minMatches      int
}

// DefaultRules compiles the embedded vocabulary.
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRulesYAML)
}

// MustDefaultRules is DefaultRules for tests and package-level setup.
func MustDefaultRules() *Rules {
	r, err := DefaultRules()
	if err != nil {
		panic(fmt.Sprintf("compile default rules: %v", err))
	}
	return r
}

// LoadRules reads rules from path, falling back to the embedded defaults
// when path is empty.
func LoadRules(path string) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and compiles a YAML rules document.
func ParseRules(data []byte) (*Rules, error) {
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f.Compile()
}

// Validate checks the document and returns every problem at once.
func (f *RulesFile) Validate() error {
	var errs []string

	w := f.Gambling.Weights
	for name, v := range map[string]float64{"merchant": w.Merchant, "category": w.Category, "keyword": w.Keyword} {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("gambling %s weight %v: must be in (0, 1]", name, v))
		}
	}
	if len(f.Gambling.Merchants) == 0 && len(f.Gambling.Keywords) == 0 && len(f.Gambling.Categories) == 0 {
		errs = append(errs, "gambling vocabulary is empty")
	}
	for i, m := range f.Gambling.Merchants {
		if strings.TrimSpace(m.Name) == "" {
			errs = append(errs, fmt.Sprintf("gambling merchant %d: empty name", i))
		}
	}
	for i, k := range f.Gambling.Keywords {
		if strings.TrimSpace(k.Term) == "" {
			errs = append(errs, fmt.Sprintf("gambling keyword %d: empty term", i))
		}
	}

	c := f.Categorizer
	if c.DeclaredConfidence <= 0 || c.DeclaredConfidence > 1 {
		errs = append(errs, fmt.Sprintf("declared confidence %v: must be in (0, 1]", c.DeclaredConfidence))
	}
	for i, mp := range c.MerchantPatterns {
		if strings.TrimSpace(mp.Category) == "" {
			errs = append(errs, fmt.Sprintf("merchant pattern group %d: empty category", i))
		}
	}

	r := f.Recurrence
	if r.MinMatches < 1 {
		errs = append(errs, fmt.Sprintf("recurrence min_matches %d: must be at least 1", r.MinMatches))
	}
	if r.AmountTolerance < 0 || r.AmountTolerance >= 1 {
		errs = append(errs, fmt.Sprintf("recurrence amount_tolerance %v: must be in [0, 1)", r.AmountTolerance))
	}
	if r.MinNameLength < 1 {
		errs = append(errs, fmt.Sprintf("recurrence min_name_length %d: must be at least 1", r.MinNameLength))
	}

	if len(errs) > 0 {
		return fmt.Errorf("rules validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// Compile turns the document into matchers.
func (f *RulesFile) Compile() (*Rules, error) {
	r := &Rules{
		merchantWeight:     f.Gambling.Weights.Merchant,
		categoryWeight:     f.Gambling.Weights.Category,
		keywordWeight:      f.Gambling.Weights.Keyword,
		declaredConfidence: f.Categorizer.DeclaredConfidence,
		minNameLength:      f.Recurrence.MinNameLength,
		amountTolerance:    f.Recurrence.AmountTolerance,
		minMatches:         f.Recurrence.MinMatches,
	}

	for _, m := range f.Gambling.Merchants {
		r.merchants = append(r.merchants, merchantRule{
			name:    m.Name,
			kind:    strings.ToLower(m.Kind),
			pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(m.Name)),
		})
	}
	for _, k := range f.Gambling.Keywords {
		r.keywords = append(r.keywords, keywordRule{
			term:    k.Term,
			kind:    strings.ToLower(k.Kind),
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(k.Term) + `\b`),
		})
	}
	for _, c := range f.Gambling.Categories {
		if c = strings.TrimSpace(c); c != "" {
			r.gamblingCategories = append(r.gamblingCategories, c)
		}
	}

	for _, mp := range f.Categorizer.MerchantPatterns {
		rule := categoryRule{category: mp.Category}
		for _, p := range mp.Patterns {
			re, err := regexp.Compile(`(?i)` + p)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q for %s: %w", p, mp.Category, err)
			}
			rule.patterns = append(rule.patterns, categoryPattern{source: p, pattern: re})
		}
		r.categories = append(r.categories, rule)
	}

	for _, p := range f.Recurrence.Prefixes {
		r.prefixes = append(r.prefixes, strings.ToLower(p))
	}
	for _, s := range f.Recurrence.Suffixes {
		r.suffixes = append(r.suffixes, strings.ToLower(s))
	}

	return r, nil
}

// GamblingCategories returns the category vocabulary that marks gambling.
func (r *Rules) GamblingCategories() []string {
	return append([]string(nil), r.gamblingCategories...)
}

// Categories returns the merchant-pattern categories in evaluation order.
func (r *Rules) Categories() []string {
	out := make([]string, 0, len(r.categories))
	for _, c := range r.categories {
		out = append(out, c.category)
	}
	return out
}
