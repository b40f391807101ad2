// Package http provides the JSON API server and its handlers.
//
// This file implements utilities for parsing and validating HTTP request data:
// listing query strings, edit bodies and small numeric parameters.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mintmind/internal/core"
	"mintmind/internal/storage"
)

// maxEditBody bounds PUT bodies; notes are at most 500 characters.
const maxEditBody = 16 << 10

// ParseListQuery turns the listing query string into a storage query.
// Unknown sort fields fall back to newest first; malformed numbers, types
// and dates are rejected.
func ParseListQuery(v url.Values) (storage.Query, error) {
	var q storage.Query

	var err error
	if q.Page, err = optionalInt(v, "page"); err != nil {
		return q, err
	}
	if q.PerPage, err = optionalInt(v, "per_page"); err != nil {
		return q, err
	}

	q.SortBy = storage.SortField(strings.ToLower(strings.TrimSpace(v.Get("sort_by"))))
	if q.SortBy == "" {
		q.SortBy = storage.SortDate
	}
	switch order := strings.ToLower(strings.TrimSpace(v.Get("sort_order"))); order {
	case "", "desc":
		q.Desc = true
	case "asc":
		q.Desc = false
	default:
		return q, fmt.Errorf("invalid sort_order %q", order)
	}

	if t := strings.ToLower(strings.TrimSpace(v.Get("type"))); t != "" {
		d := core.Direction(t)
		if !d.IsValid() {
			return q, fmt.Errorf("invalid type %q", t)
		}
		q.Direction = d
	}
	q.Category = sanitizeInput(v.Get("category"))
	q.Search = sanitizeInput(v.Get("search"))

	if q.Start, err = optionalDate(v, "start_date"); err != nil {
		return q, err
	}
	end, err := optionalDate(v, "end_date")
	if err != nil {
		return q, err
	}
	if !end.IsZero() {
		// end_date is inclusive on the wire, the store bound is exclusive
		q.End = end.AddDate(0, 0, 1)
	}
	if !q.Start.IsZero() && !q.End.IsZero() && !q.Start.Before(q.End) {
		return q, errors.New("start_date must not be after end_date")
	}

	return q.Normalize(), nil
}

// ParseMonths reads a positive month count, defaulting to def and capped at limit.
func ParseMonths(v url.Values, def, limit int) (int, error) {
	n, err := optionalInt(v, "months")
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return def, nil
	}
	return min(n, limit), nil
}

// editRequest is the PUT body. user_category is accepted as an alias of
// assigned_category.
type editRequest struct {
	AssignedCategory *string `json:"assigned_category"`
	UserCategory     *string `json:"user_category"`
	Notes            *string `json:"notes"`
	IsRecurring      *bool   `json:"is_recurring"`
}

// ParseEditRequest decodes and validates a transaction edit body.
func ParseEditRequest(body io.Reader) (core.TransactionEdit, error) {
	var req editRequest
	dec := json.NewDecoder(io.LimitReader(body, maxEditBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return core.TransactionEdit{}, fmt.Errorf("decode edit body: %w", err)
	}

	edit := core.TransactionEdit{
		AssignedCategory: req.AssignedCategory,
		Notes:            req.Notes,
		IsRecurring:      req.IsRecurring,
	}
	if edit.AssignedCategory == nil {
		edit.AssignedCategory = req.UserCategory
	}
	if edit.AssignedCategory != nil {
		c := sanitizeInput(*edit.AssignedCategory)
		edit.AssignedCategory = &c
	}
	if edit.AssignedCategory == nil && edit.Notes == nil && edit.IsRecurring == nil {
		return edit, errors.New("no editable fields in request")
	}
	return edit, nil
}

// ParseID parses a positive transaction ID path segment.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid transaction id %q", s)
	}
	return id, nil
}

func optionalInt(v url.Values, key string) (int, error) {
	s := strings.TrimSpace(v.Get(key))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return n, nil
}

func optionalDate(v url.Values, key string) (time.Time, error) {
	s := strings.TrimSpace(v.Get(key))
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q (want YYYY-MM-DD)", key, s)
	}
	return t, nil
}
