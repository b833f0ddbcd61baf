// Package server assembles the intake pipeline from configuration.
package server

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docintake/internal/checksum"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/export"
	"github.com/joseph-ayodele/docintake/internal/fields"
	"github.com/joseph-ayodele/docintake/internal/health"
	"github.com/joseph-ayodele/docintake/internal/ingest"
	"github.com/joseph-ayodele/docintake/internal/ocr"
	"github.com/joseph-ayodele/docintake/internal/pipeline"
	repo "github.com/joseph-ayodele/docintake/internal/repository"
	"github.com/joseph-ayodele/docintake/internal/queue"
	"github.com/joseph-ayodele/docintake/internal/storage"
)

// App holds every long-lived component of one intake instance.
type App struct {
	Config    *common.Config
	Logger    *slog.Logger
	DB        *repo.DB
	Jobs      repo.JobRepository
	Transport *queue.Transport
	Relocator *storage.Relocator
	Extractor *ocr.Extractor
	Parser    *fields.Parser
	Submitter *ingest.Submitter
	Health    *health.Checker
	Export    *export.Service
}

// New connects the store, the broker (when configured) and object storage
// (when a bucket is configured). Close releases them.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	db, err := ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	jobs := repo.NewJobRepository(db, logger)

	var broker queue.Broker
	if cfg.Queue.URL != "" {
		broker = queue.NewRabbitMQ(cfg.Queue, logger)
	} else {
		logger.Warn("no broker configured, running on the in-process queue only")
	}
	transport, err := queue.NewTransport(broker, cfg.Pipeline.PollInterval, logger)
	if err != nil {
		CloseDB(db, logger)
		return nil, err
	}

	var store storage.ObjectStore
	if cfg.Storage.Bucket != "" {
		s3, err := storage.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			CloseDB(db, logger)
			return nil, err
		}
		store = s3
	}
	relocator := storage.NewRelocator(storage.FoldersFrom(cfg.Storage), store, cfg.Flags(), logger)
	if err := relocator.EnsureFolders(); err != nil {
		CloseDB(db, logger)
		return nil, err
	}

	extractor := ocr.NewExtractor(ocr.ConfigFrom(cfg.OCR), logger)
	return &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Jobs:      jobs,
		Transport: transport,
		Relocator: relocator,
		Extractor: extractor,
		Parser:    fields.NewParser(logger),
		Submitter: ingest.NewSubmitter(jobs, transport.Tasks, cfg.Storage.PendingDir, logger),
		Health:    health.NewChecker(db, jobs, transport, relocator, extractor, logger),
		Export:    export.NewService(jobs, logger),
	}, nil
}

// Processor builds the per-task processor.
func (a *App) Processor() *pipeline.Processor {
	return pipeline.NewProcessor(
		a.Jobs,
		checksum.NewGate(a.Jobs, a.Logger),
		a.Extractor,
		a.Parser,
		a.Relocator,
		a.Transport.Results,
		a.Config.Pipeline.MaxRetries,
		a.Logger,
	)
}

// Run re-enqueues pending jobs, then runs the worker manager, the result
// consumer and the health server until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	pc := a.Config.Pipeline
	manager := pipeline.NewManager(a.Transport.Tasks, a.Processor(), a.Jobs, a.Logger,
		pipeline.WithMaxWorkers(pc.MaxWorkers),
		pipeline.WithScanInterval(pc.ScanInterval),
		pipeline.WithPollTimeout(2*pc.PollInterval),
		pipeline.WithTaskTimeout(pc.TaskTimeout),
		pipeline.WithShutdownGrace(pc.ShutdownGrace),
		pipeline.WithMaxRetries(pc.MaxRetries),
	)
	if _, err := manager.Recover(ctx); err != nil {
		return err
	}

	consumer := pipeline.NewResultConsumer(a.Jobs, a.Transport.Results, a.Transport.Tasks, pc.MaxRetries, a.Logger)
	healthSrv := health.NewServer(a.Health, 0, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	// the consumer outlives the workers so their last results are applied
	consumerCtx, stopConsumer := context.WithCancel(context.WithoutCancel(ctx))
	defer stopConsumer()
	g.Go(func() error {
		defer stopConsumer()
		if err := manager.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*pc.ShutdownGrace)
		defer cancel()
		manager.Shutdown(shutdownCtx)
		return nil
	})
	g.Go(func() error { return consumer.Run(consumerCtx) })
	if a.Config.Server.GRPCAddr != "" {
		g.Go(func() error { return healthSrv.Serve(gctx, a.Config.Server.GRPCAddr) })
	}
	a.Logger.Info("intake pipeline running", "max_workers", pc.MaxWorkers, "broker", a.Transport.HasBroker())
	return g.Wait()
}

func (a *App) Close() {
	if err := a.Transport.Close(); err != nil {
		a.Logger.Warn("closing broker", "error", err)
	}
	CloseDB(a.DB, a.Logger)
}
