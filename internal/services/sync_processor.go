package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"mintmind/internal/reconcile"
)

// SyncProcessorConfig holds configuration for the scheduled sync processor
type SyncProcessorConfig struct {
	// Schedule is a standard five-field cron expression (default: every 6 hours)
	Schedule string

	// Concurrency bounds how many owners sync at once (default: 4)
	Concurrency int

	// RunOnStart triggers one pass immediately after Start
	RunOnStart bool
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		Schedule:    "0 */6 * * *",
		Concurrency: 4,
	}
}

// OwnerLister lists owners with a linked bank account.
type OwnerLister interface {
	Owners(ctx context.Context) ([]string, error)
}

// OwnerSyncer reconciles one owner.
type OwnerSyncer interface {
	SyncOwner(ctx context.Context, ownerID string) (*reconcile.Report, error)
}

// PassResult summarises one scheduled pass over all owners.
type PassResult struct {
	Owners   int
	Synced   int
	Failed   int
	Inserted int
	Duration time.Duration
}

// SyncProcessor runs scheduled syncs of every linked owner.
type SyncProcessor struct {
	owners OwnerLister
	syncer OwnerSyncer
	config SyncProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	cancel  context.CancelFunc
	passes  sync.WaitGroup
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(owners OwnerLister, syncer OwnerSyncer, config SyncProcessorConfig) *SyncProcessor {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultSyncProcessorConfig().Concurrency
	}
	if config.Schedule == "" {
		config.Schedule = DefaultSyncProcessorConfig().Schedule
	}
	return &SyncProcessor{
		owners: owners,
		syncer: syncer,
		config: config,
	}
}

// Start registers the schedule and starts the cron runner. Returns an error
// if already running or if the schedule does not parse.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("sync processor is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(p.config.Schedule, func() { p.runPass(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("parse sync schedule %q: %w", p.config.Schedule, err)
	}

	p.cron = c
	p.cancel = cancel
	p.running = true
	c.Start()

	if p.config.RunOnStart {
		p.passes.Add(1)
		go func() {
			defer p.passes.Done()
			p.runPass(runCtx)
		}()
	}

	slog.InfoContext(ctx, "Sync processor started",
		"schedule", p.config.Schedule,
		"concurrency", p.config.Concurrency)
	return nil
}

// Stop cancels in-flight passes and waits for them to return.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	c, cancel := p.cron, p.cancel
	p.mu.Unlock()

	cancel()
	cronDone := c.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		p.passes.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.cron = nil
	p.mu.Unlock()
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runPass(ctx context.Context) {
	res, err := p.RunOnce(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Scheduled sync pass failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "Scheduled sync pass completed",
		"owners", res.Owners,
		"synced", res.Synced,
		"failed", res.Failed,
		"inserted", res.Inserted,
		"duration", res.Duration)
}

// RunOnce syncs every linked owner with bounded concurrency. A failing owner
// is logged and counted; it never stops the others.
func (p *SyncProcessor) RunOnce(ctx context.Context) (PassResult, error) {
	started := time.Now()
	owners, err := p.owners.Owners(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("list owners: %w", err)
	}

	var synced, failed, inserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)
	for _, owner := range owners {
		g.Go(func() error {
			if gctx.Err() != nil {
				failed.Add(1)
				return nil
			}
			report, err := p.syncer.SyncOwner(gctx, owner)
			if err != nil {
				failed.Add(1)
				slog.WarnContext(gctx, "Owner sync failed", "owner_id", owner, "error", err)
				return nil
			}
			synced.Add(1)
			if report != nil {
				inserted.Add(int64(report.Inserted))
			}
			return nil
		})
	}
	_ = g.Wait()

	return PassResult{
		Owners:   len(owners),
		Synced:   int(synced.Load()),
		Failed:   int(failed.Load()),
		Inserted: int(inserted.Load()),
		Duration: time.Since(started),
	}, nil
}
