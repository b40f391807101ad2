// Package aggregator turns bank-data aggregator payloads into typed
// core.RawTransaction values.
//
// Records are validated here, at the boundary. Classifiers downstream never
// see a record without an external ID, name or date.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mintmind/internal/core"
)

var (
	ErrMalformedRecord = errors.New("malformed aggregator record")
	// ErrUnavailable marks errors after which a source yields nothing more,
	// such as a failed request or a missing fixture.
	ErrUnavailable = errors.New("aggregator unavailable")
)

// Source yields raw records for one owner in [start, end]. The sequence is
// lazy; an error value does not stop iteration unless the implementation
// cannot continue.
type Source interface {
	Transactions(ctx context.Context, ownerID string, start, end time.Time) iter.Seq2[core.RawTransaction, error]
}

// Record is the Plaid-shaped JSON transaction. Optional fields are pointers
// or nil slices so absent and null both decode to the zero value.
type Record struct {
	TransactionID string           `json:"transaction_id"`
	Name          string           `json:"name"`
	MerchantName  *string          `json:"merchant_name"`
	Amount        *decimal.Decimal `json:"amount"`
	Date          string           `json:"date"`
	Category      []string         `json:"category"`
	AccountID     string           `json:"account_id"`
	Balance       *decimal.Decimal `json:"balance"`
}

// Raw converts and validates the record.
func (r Record) Raw() (core.RawTransaction, error) {
	if r.Amount == nil {
		return core.RawTransaction{}, fmt.Errorf("%w: %s: missing amount", ErrMalformedRecord, r.TransactionID)
	}

	var date time.Time
	if s := strings.TrimSpace(r.Date); s != "" {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return core.RawTransaction{}, fmt.Errorf("%w: %s: parse date %q: %v", ErrMalformedRecord, r.TransactionID, r.Date, err)
		}
		date = d
	}

	raw := core.RawTransaction{
		ExternalID:     strings.TrimSpace(r.TransactionID),
		Name:           strings.TrimSpace(r.Name),
		Amount:         *r.Amount,
		Date:           date,
		AccountRef:     r.AccountID,
		RunningBalance: r.Balance,
	}
	if r.MerchantName != nil {
		raw.MerchantName = strings.TrimSpace(*r.MerchantName)
	}
	for _, c := range r.Category {
		if c = strings.TrimSpace(c); c != "" {
			raw.DeclaredCategories = append(raw.DeclaredCategories, c)
		}
	}

	if err := raw.Validate(); err != nil {
		return core.RawTransaction{}, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, r.TransactionID, err)
	}
	return raw, nil
}

// envelope matches a /transactions/get response body.
type envelope struct {
	Transactions []json.RawMessage `json:"transactions"`
}

// DecodeRecords reads either a bare JSON array of records or an object with
// a "transactions" array. Records are split but not decoded, so one
// wrong-typed record cannot fail the payload.
func DecodeRecords(rd io.Reader) ([]json.RawMessage, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var msgs []json.RawMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return msgs, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return env.Transactions, nil
}

// ParseRecord decodes one record. A wrong-typed field is an
// ErrMalformedRecord.
func ParseRecord(msg json.RawMessage) (Record, error) {
	var rec Record
	if err := json.Unmarshal(msg, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return rec, nil
}

// Decode converts undecoded records into a lazy sequence. Records that fail
// to decode or validate are yielded as errors so the consumer can skip them.
func Decode(msgs []json.RawMessage) iter.Seq2[core.RawTransaction, error] {
	return func(yield func(core.RawTransaction, error) bool) {
		for i, msg := range msgs {
			rec, err := ParseRecord(msg)
			if err != nil {
				if !yield(core.RawTransaction{}, fmt.Errorf("record %d: %w", i, err)) {
					return
				}
				continue
			}
			if !yield(rec.Raw()) {
				return
			}
		}
	}
}

// FromRecords validates typed records lazily.
func FromRecords(recs []Record) iter.Seq2[core.RawTransaction, error] {
	return func(yield func(core.RawTransaction, error) bool) {
		for _, rec := range recs {
			if !yield(rec.Raw()) {
				return
			}
		}
	}
}

// FromSlice yields already-typed records.
func FromSlice(raws []core.RawTransaction) iter.Seq2[core.RawTransaction, error] {
	return func(yield func(core.RawTransaction, error) bool) {
		for _, r := range raws {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// FileSource serves the same JSON fixture to every owner. Used for
// development and for the categorize CLI.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Transactions(_ context.Context, _ string, start, end time.Time) iter.Seq2[core.RawTransaction, error] {
	return func(yield func(core.RawTransaction, error) bool) {
		f, err := os.Open(s.Path)
		if err != nil {
			yield(core.RawTransaction{}, fmt.Errorf("%w: open fixture: %w", ErrUnavailable, err))
			return
		}
		recs, err := DecodeRecords(f)
		f.Close()
		if err != nil {
			yield(core.RawTransaction{}, fmt.Errorf("%w: %w", ErrUnavailable, err))
			return
		}

		for raw, err := range Decode(recs) {
			if err == nil && !InWindow(raw.Date, start, end) {
				continue
			}
			if !yield(raw, err) {
				return
			}
		}
	}
}

// InWindow reports whether d falls within [start, end] by calendar date.
// Zero bounds are open.
func InWindow(d, start, end time.Time) bool {
	d = core.DateOnly(d)
	if !start.IsZero() && d.Before(core.DateOnly(start)) {
		return false
	}
	if !end.IsZero() && d.After(core.DateOnly(end)) {
		return false
	}
	return true
}

// Window returns the inclusive sync window of days calendar days ending
// today.
func Window(now time.Time, days int) (time.Time, time.Time) {
	end := core.DateOnly(now)
	if days < 1 {
		days = 1
	}
	return end.AddDate(0, 0, -(days - 1)), end
}
