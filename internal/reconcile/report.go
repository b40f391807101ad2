package reconcile

import (
	"time"

	"mintmind/internal/core"
)

type Status string

const (
	StatusInserted  Status = "inserted"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Result is the outcome for a single record.
type Result struct {
	ExternalID    string
	Status        Status
	TransactionID int64
	Category      string
	IsRecurring   bool
	Method        string
	Confidence    float64
	Gambling      bool
	// Fallback is set when classification failed and the default category
	// was used instead.
	Fallback bool
	Reason   string

	created *core.Transaction
}

// Report summarises one sync batch.
type Report struct {
	BatchID    string
	OwnerID    string
	StartedAt  time.Time
	FinishedAt time.Time

	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int
	Failed    int
	Fallback  int

	Results []Result
	created []core.Transaction
}

func (r *Report) add(res Result) {
	switch res.Status {
	case StatusInserted:
		r.Inserted++
		if res.created != nil {
			r.created = append(r.created, *res.created)
			res.created = nil
		}
	case StatusUpdated:
		r.Updated++
	case StatusUnchanged:
		r.Unchanged++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
	if res.Fallback {
		r.Fallback++
	}
	r.Results = append(r.Results, res)
}

func (r *Report) finish(at time.Time) {
	r.FinishedAt = at
}

// Created returns the transactions inserted by this batch.
func (r *Report) Created() []core.Transaction {
	if r == nil {
		return nil
	}
	return r.created
}

// Total is the number of records seen, valid or not.
func (r *Report) Total() int {
	return len(r.Results)
}
