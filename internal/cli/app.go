package cli

import (
	"context"
	"errors"
	"fmt"

	"mintmind/internal/aggregator"
	"mintmind/internal/aggregator/plaid"
	"mintmind/internal/amqp"
	"mintmind/internal/analytics"
	"mintmind/internal/classify"
	"mintmind/internal/config"
	applog "mintmind/internal/log"
	"mintmind/internal/reconcile"
	"mintmind/internal/services"
	"mintmind/internal/sheets"
	gsheet "mintmind/internal/sheets/google"
	"mintmind/internal/storage"
)

// App holds the services assembled from configuration.
type App struct {
	Rules        *classify.Rules
	Transactions *services.TransactionService
	Analytics    *analytics.Service
	// AMQP is nil when AMQP_URL is unset or the broker was unreachable.
	AMQP *amqp.Client

	publishes bool
}

// Options selects how BuildApp uses AMQP.
type Options struct {
	// Publish routes manual syncs through the queue. The worker leaves it
	// off: it consumes requests and syncs inline.
	Publish bool
}

// NewSource returns the fixture source when AGGREGATOR_FIXTURE is set and
// the Plaid client otherwise.
func NewSource(cfg *config.Config, tokens plaid.TokenResolver) (aggregator.Source, error) {
	if cfg.AggregatorFixture != "" {
		return aggregator.NewFileSource(cfg.AggregatorFixture), nil
	}
	return plaid.NewClient(plaid.Config{
		ClientID: cfg.PlaidClientID,
		Secret:   cfg.PlaidSecret,
		Env:      cfg.PlaidEnv,
	}, tokens)
}

// NewExporter returns the Google Sheets exporter, or nil when no
// spreadsheet is configured.
func NewExporter(ctx context.Context, cfg *config.Config) (sheets.TransactionExporter, error) {
	if cfg.GoogleSpreadsheetID == "" {
		return nil, nil
	}
	return gsheet.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
}

// BuildApp wires rules, aggregator, exporter, AMQP and services on top of
// repo. The AMQP client is only created when AMQP_URL is set; a connection
// failure there is logged and syncs run inline.
func BuildApp(ctx context.Context, logger *applog.Logger, cfg *config.Config, repo storage.Repository, opts Options) (*App, error) {
	rules, err := classify.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	source, err := NewSource(cfg, repo)
	if err != nil {
		return nil, fmt.Errorf("init aggregator: %w", err)
	}

	exporter, err := NewExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init sheets exporter: %w", err)
	}

	app := &App{Rules: rules, publishes: opts.Publish}

	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, syncing inline", "error", err)
		} else {
			app.AMQP = client
			if opts.Publish {
				publisher = client
			}
			logger.Info("Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	}

	engine := reconcile.NewEngine(repo, classify.NewClassifier(rules))
	app.Transactions = services.NewTransactionService(repo, engine, source, exporter, publisher, services.SyncOptions{
		WindowDays: cfg.SyncWindowDays,
		Timeout:    cfg.SyncTimeout,
	})
	app.Analytics = analytics.NewService(repo, rules)

	logger.Info("Application wired",
		"backend", cfg.DataBackend,
		"fixture", cfg.AggregatorFixture != "",
		"sheets_export", exporter != nil,
		"amqp_enabled", app.AMQP != nil,
		"publish", publisher != nil)

	return app, nil
}

// Close releases the repository and the AMQP connection.
func (a *App) Close() error {
	var err error
	if a.Transactions != nil {
		err = a.Transactions.Close()
	}
	// The service already closed the client if it was publishing with it.
	if a.AMQP != nil && !a.publishes {
		err = errors.Join(err, a.AMQP.Close())
	}
	return err
}
