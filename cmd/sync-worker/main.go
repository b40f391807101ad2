package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"mintmind/internal/cli"
	applog "mintmind/internal/log"
	"mintmind/internal/services"
	"mintmind/internal/storage"
	"mintmind/internal/worker"
)

type linkFlags []string

func (l *linkFlags) String() string { return strings.Join(*l, ",") }

func (l *linkFlags) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// bankLink is one -link value: owner:token[:institution].
type bankLink struct {
	owner, token, institution string
}

func parseLink(v string) (bankLink, error) {
	parts := strings.SplitN(v, ":", 3)
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return bankLink{}, fmt.Errorf("invalid link %q: want owner:token[:institution]", v)
	}
	link := bankLink{owner: strings.TrimSpace(parts[0]), token: strings.TrimSpace(parts[1])}
	if len(parts) == 3 {
		link.institution = strings.TrimSpace(parts[2])
	}
	return link, nil
}

func registerLinks(ctx context.Context, links storage.LinkStore, values []string) error {
	for _, v := range values {
		link, err := parseLink(v)
		if err != nil {
			return err
		}
		if err := links.LinkAccount(ctx, link.owner, link.token, link.institution); err != nil {
			return fmt.Errorf("link owner %s: %w", link.owner, err)
		}
	}
	return nil
}

func main() {
	var links linkFlags
	flag.Var(&links, "link", "register a bank link owner:token[:institution] before starting (repeatable)")
	once := flag.Bool("once", false, "run one sync pass over all linked owners and exit")
	flag.Parse()

	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentWorker)
	logger.Info("Starting sync-worker")

	ctx := context.Background()
	res := cli.InitBackend(ctx, logger, cfg)

	app, err := cli.BuildApp(ctx, logger, cfg, res.Repository, cli.Options{})
	if err != nil {
		logger.Error("Failed to wire application", "error", err)
		_ = res.Cleanup()
		os.Exit(1)
	}
	defer app.Close()

	if err := registerLinks(ctx, res.Repository, links); err != nil {
		logger.Error("Failed to register bank links", "error", err)
		os.Exit(1)
	}

	processor := services.NewSyncProcessor(res.Repository, app.Transactions, services.SyncProcessorConfig{
		Schedule:    cfg.SyncSchedule,
		Concurrency: cfg.SyncConcurrency,
		RunOnStart:  cfg.SyncRunOnStart,
	})

	if *once {
		result, err := processor.RunOnce(ctx)
		if err != nil {
			logger.Error("Sync pass failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Sync pass completed",
			"owners", result.Owners,
			"synced", result.Synced,
			"failed", result.Failed,
			"inserted", result.Inserted,
			"duration", result.Duration)
		return
	}

	runCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down worker...")
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Failed to stop sync processor", "error", err)
		}
	})

	if err := processor.Start(runCtx); err != nil {
		logger.Error("Failed to start sync processor", "error", err)
		os.Exit(1)
	}

	if app.AMQP != nil {
		syncWorker := worker.NewSyncWorker(app.Transactions, cfg.SyncMaxAge)
		go func() {
			err := app.AMQP.ConsumeSyncRequests(runCtx, syncWorker.HandleSyncRequest)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", "error", err)
			}
		}()
		logger.Info("Consuming sync requests", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Skipping AMQP message consumption - no AMQP_URL provided")
	}

	cli.WaitForShutdown(runCtx, done)
	logger.Info("Worker shutdown complete")
}
