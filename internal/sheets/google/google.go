package google

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"mintmind/internal/core"
	ports "mintmind/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// DefaultSheetName is the base tab name; the transaction year is prefixed.
const DefaultSheetName = "Transactions"

// Exported rows span A:H. The external id lives in the last column so the
// exporter can read it back to skip rows it already wrote.
const (
	columnRange    = "A:H"
	externalIDCell = "H:H"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
}

var _ ports.TransactionExporter = (*Client)(nil)

// NewFromEnv creates a Sheets client from GOOGLE_SPREADSHEET_ID and
// GOOGLE_SHEET_NAME plus service account credentials.
func NewFromEnv(ctx context.Context) (*Client, error) {
	return New(ctx, os.Getenv("GOOGLE_SPREADSHEET_ID"), os.Getenv("GOOGLE_SHEET_NAME"))
}

// New creates a Sheets client for spreadsheetID. Each transaction lands on the
// tab "<year> <sheetBase>" of its posting year.
func New(ctx context.Context, spreadsheetID, sheetBase string) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheetBase = strings.TrimSpace(sheetBase)
	if sheetBase == "" {
		sheetBase = DefaultSheetName
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     sheetBase,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	credentialsJSON, err := serviceAccountCredentials(ctx)
	if err != nil {
		return nil, err
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created", "credentials_size", len(credentialsJSON))
	return service, nil
}

func serviceAccountCredentials(ctx context.Context) ([]byte, error) {
	inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	file := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		slog.DebugContext(ctx, "Using inline service account credentials")
		return []byte(inline), nil
	case file != "":
		slog.DebugContext(ctx, "Reading service account credentials", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// Export appends txs to the yearly tabs, skipping external ids the tab
// already holds. Returns the number of rows written.
func (c *Client) Export(ctx context.Context, ownerID string, txs []core.Transaction) (int, error) {
	if c.svc == nil {
		return 0, errors.New("sheets service not initialized")
	}
	if len(txs) == 0 {
		return 0, nil
	}

	var appended int
	for _, group := range groupByYear(txs) {
		sheet := yearPrefixedName(c.sheetBase, group.year)

		existing, err := c.readCol(ctx, sheet, externalIDCell)
		if err != nil {
			return appended, fmt.Errorf("read exported ids: %w", err)
		}
		rows := pendingRows(ownerID, group.txs, exportedIDs(existing))
		if len(rows) == 0 {
			continue
		}

		rng := fmt.Sprintf("%s!%s", sheet, columnRange)
		vr := &gsheet.ValueRange{Values: rows}
		resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		if err != nil {
			return appended, fmt.Errorf("append rows to %s: %w", sheet, err)
		}
		appended += len(rows)

		var updated string
		if resp.Updates != nil {
			updated = resp.Updates.UpdatedRange
		}
		slog.InfoContext(ctx, "Exported transactions to sheet",
			"owner_id", ownerID,
			"sheet", sheet,
			"rows", len(rows),
			"range", updated)
	}
	return appended, nil
}

func (c *Client) readCol(ctx context.Context, sheetName, col string) ([]string, error) {
	rng := fmt.Sprintf("%s!%s", sheetName, col)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	var out []string
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		out = append(out, toStrings(row)[0])
	}
	return out, nil
}

type yearGroup struct {
	year int
	txs  []core.Transaction
}

// groupByYear splits txs by posting year, oldest year first, keeping input
// order inside a year.
func groupByYear(txs []core.Transaction) []yearGroup {
	idx := make(map[int]int)
	var groups []yearGroup
	for _, tx := range txs {
		y := tx.DatePosted.Year()
		i, ok := idx[y]
		if !ok {
			i = len(groups)
			idx[y] = i
			groups = append(groups, yearGroup{year: y})
		}
		groups[i].txs = append(groups[i].txs, tx)
	}
	slices.SortFunc(groups, func(a, b yearGroup) int { return cmp.Compare(a.year, b.year) })
	return groups
}

func pendingRows(ownerID string, txs []core.Transaction, seen map[string]struct{}) [][]any {
	var rows [][]any
	for _, tx := range txs {
		if _, ok := seen[tx.ExternalID]; ok {
			continue
		}
		seen[tx.ExternalID] = struct{}{}
		rows = append(rows, toRow(ownerID, tx))
	}
	return rows
}

// toRow lays out one transaction as date, name, amount, direction, category,
// recurring, owner, external id.
func toRow(ownerID string, tx core.Transaction) []any {
	return []any{
		tx.DatePosted.Format("2006-01-02"),
		tx.Name,
		tx.Amount.StringFixed(2),
		string(tx.Direction),
		tx.AssignedCategory,
		strconv.FormatBool(tx.IsRecurring),
		ownerID,
		tx.ExternalID,
	}
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
