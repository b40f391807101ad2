package classify

import (
	"mintmind/internal/core"
)

// Verdict is the combined outcome of the detector cascade for one record.
type Verdict struct {
	Category    string
	IsRecurring bool
	Confidence  float64
	Method      string
	Reasoning   string
	Gambling    Detection
}

// Classifier runs the gambling detector first and the general categorizer
// for everything it does not flag.
type Classifier struct {
	rules       *Rules
	gambling    *GamblingDetector
	categorizer *Categorizer
	recurrence  *RecurrenceDetector
}

func NewClassifier(rules *Rules) *Classifier {
	if rules == nil {
		rules = MustDefaultRules()
	}
	return &Classifier{
		rules:       rules,
		gambling:    NewGamblingDetector(rules),
		categorizer: NewCategorizer(rules),
		recurrence:  NewRecurrenceDetector(rules),
	}
}

// Rules exposes the vocabulary the classifier was built with.
func (c *Classifier) Rules() *Rules {
	return c.rules
}

// Classify assigns a category and recurrence flag to rec.
func (c *Classifier) Classify(rec core.RawTransaction, history []core.HistoryEntry) Verdict {
	d := c.gambling.Detect(rec)
	if d.IsMatch {
		category := c.gambling.Category(d)
		return Verdict{
			Category:    category,
			IsRecurring: c.recurrence.IsRecurring(rec.History(), history),
			Confidence:  d.Confidence,
			Method:      string(d.Method),
			Reasoning:   "gambling signals: " + category,
			Gambling:    d,
		}
	}

	cat := c.categorizer.Categorize(rec, history)
	return Verdict{
		Category:    cat.Category,
		IsRecurring: cat.IsRecurring,
		Confidence:  cat.Confidence,
		Method:      string(cat.Method),
		Reasoning:   cat.Reasoning,
		Gambling:    d,
	}
}
