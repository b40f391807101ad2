package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"mintmind/internal/cli"
	apphttp "mintmind/internal/http"
	applog "mintmind/internal/log"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentApp)

	ctx := context.Background()
	res := cli.InitBackend(ctx, logger, cfg)

	app, err := cli.BuildApp(ctx, logger, cfg, res.Repository, cli.Options{Publish: true})
	if err != nil {
		logger.Error("Failed to wire application", "error", err)
		_ = res.Cleanup()
		os.Exit(1)
	}

	httpCfg := apphttp.DefaultConfig()
	httpCfg.Addr = cfg.Addr()
	httpCfg.CacheTTL = cfg.CacheTTL
	httpCfg.SyncPerMinute = cfg.SyncRatePerMinute
	httpCfg.RequireTrustedIdentity = cfg.RequireTrustedIdentity
	if len(cfg.TrustedProxies) > 0 {
		httpCfg.TrustedProxies = cfg.TrustedProxies
	}

	srv, err := apphttp.NewServer(httpCfg, apphttp.Deps{
		Transactions: app.Transactions,
		Analytics:    app.Analytics,
		Ready:        res.Ready,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", "error", err)
		_ = app.Close()
		os.Exit(1)
	}

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := app.Close(); err != nil {
			logger.Error("Failed to close application", "error", err)
		}
	})

	logger.Info("Starting mintmind server", "addr", httpCfg.Addr, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "addr", httpCfg.Addr)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
