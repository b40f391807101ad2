// Package plaid fetches transactions from the Plaid /transactions/get
// endpoint through the official Go SDK.
package plaid

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	plaidapi "github.com/plaid/plaid-go/v29/plaid"
	"github.com/shopspring/decimal"

	"mintmind/internal/aggregator"
	"mintmind/internal/core"
)

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"

	maxPageSize = 500
)

var hosts = map[string]plaidapi.Environment{
	EnvSandbox:    plaidapi.Sandbox,
	EnvProduction: plaidapi.Production,
}

// BaseURL returns the API host for env, or "" for an unknown env.
func BaseURL(env string) string {
	return string(hosts[strings.ToLower(strings.TrimSpace(env))])
}

// TokenResolver maps an owner to the access token of their linked item.
type TokenResolver interface {
	AccessToken(ctx context.Context, ownerID string) (string, error)
}

type Config struct {
	ClientID string
	Secret   string
	Env      string
	// BaseURL overrides Env. Tests point it at an httptest server.
	BaseURL  string
	PageSize int
	Timeout  time.Duration
}

type Client struct {
	api      *plaidapi.APIClient
	pageSize int
	tokens   TokenResolver
}

var _ aggregator.Source = (*Client)(nil)

func NewClient(cfg Config, tokens TokenResolver) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = BaseURL(cfg.Env)
	}
	if base == "" {
		return nil, fmt.Errorf("unknown plaid environment %q", cfg.Env)
	}
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("plaid client id and secret are required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("plaid token resolver is required")
	}
	size := cfg.PageSize
	if size <= 0 || size > maxPageSize {
		size = maxPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	conf := plaidapi.NewConfiguration()
	conf.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	conf.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	conf.UseEnvironment(plaidapi.Environment(strings.TrimRight(base, "/")))
	conf.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:      plaidapi.NewAPIClient(conf),
		pageSize: size,
		tokens:   tokens,
	}, nil
}

// APIError is a decoded Plaid error response.
type APIError struct {
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("plaid %s/%s: %s", e.Type, e.Code, e.Message)
}

// Transactions pages through /transactions/get. A transport or API error
// ends the sequence after it is yielded; invalid records are yielded as
// errors and iteration continues.
func (c *Client) Transactions(ctx context.Context, ownerID string, start, end time.Time) iter.Seq2[core.RawTransaction, error] {
	return func(yield func(core.RawTransaction, error) bool) {
		token, err := c.tokens.AccessToken(ctx, ownerID)
		if err != nil {
			yield(core.RawTransaction{}, fmt.Errorf("%w: resolve access token: %w", aggregator.ErrUnavailable, err))
			return
		}

		offset := 0
		for {
			resp, err := c.fetch(ctx, token, start, end, offset)
			if err != nil {
				yield(core.RawTransaction{}, fmt.Errorf("%w: %w", aggregator.ErrUnavailable, err))
				return
			}
			txs := resp.GetTransactions()
			total := int(resp.GetTotalTransactions())
			slog.DebugContext(ctx, "Fetched transactions page",
				"owner_id", ownerID,
				"offset", offset,
				"count", len(txs),
				"total", total)

			recs := make([]aggregator.Record, 0, len(txs))
			for _, tx := range txs {
				recs = append(recs, toRecord(tx))
			}
			for raw, err := range aggregator.FromRecords(recs) {
				if !yield(raw, err) {
					return
				}
			}

			offset += len(txs)
			if len(txs) == 0 || offset >= total {
				return
			}
		}
	}
}

func (c *Client) fetch(ctx context.Context, token string, start, end time.Time, offset int) (plaidapi.TransactionsGetResponse, error) {
	opts := plaidapi.TransactionsGetRequestOptions{}
	opts.SetCount(int32(c.pageSize))
	opts.SetOffset(int32(offset))

	req := plaidapi.TransactionsGetRequest{}
	req.SetAccessToken(token)
	req.SetStartDate(start.Format(time.DateOnly))
	req.SetEndDate(end.Format(time.DateOnly))
	req.SetOptions(opts)

	resp, _, err := c.api.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(req).Execute()
	if err != nil {
		return resp, fmt.Errorf("call transactions/get: %w", decodeError(err))
	}
	return resp, nil
}

// decodeError turns a Plaid error body into an APIError when possible.
func decodeError(err error) error {
	pe, convErr := plaidapi.ToPlaidError(err)
	if convErr != nil || pe.ErrorCode == "" {
		return err
	}
	return &APIError{Type: string(pe.ErrorType), Code: pe.ErrorCode, Message: pe.ErrorMessage}
}

func toRecord(tx plaidapi.Transaction) aggregator.Record {
	amount := decimal.NewFromFloat(tx.GetAmount())
	rec := aggregator.Record{
		TransactionID: tx.GetTransactionId(),
		Name:          tx.GetName(),
		Amount:        &amount,
		Date:          tx.GetDate(),
		Category:      tx.GetCategory(),
		AccountID:     tx.GetAccountId(),
	}
	if m, ok := tx.GetMerchantNameOk(); ok && m != nil {
		rec.MerchantName = m
	}
	return rec
}
