package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/backend"
	"mediaforge/internal/chain"
	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/infra/credentials"
	"mediaforge/internal/orchestrator"
	"mediaforge/internal/storage"
)

// jobWorker drains the queue one job at a time. The single loop is
// deliberate: the local engine owns one GPU, so there is never a reason to
// process two jobs concurrently.
type jobWorker struct {
	ctx    context.Context
	svc    *orchestrator.Service
	logger infra.Logger
	poll   time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: database connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	credStore := credentials.NewStore(runner)
	if err := credStore.ApplyOverrides(ctx, cfg); err != nil {
		logger.Warn().Err(err).Msg("worker: credential overrides unavailable")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage setup failed")
	}

	registry, err := backend.FromConfig(cfg, fileStore, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: backend setup failed")
	}
	executor := chain.NewExecutor(chain.Options{Logger: &logger})

	svc, err := orchestrator.NewService(orchestrator.Options{
		Registry: registry,
		Executor: executor,
		Jobs:     repo.NewJobRepository(runner),
		Assets:   repo.NewAssetRepository(runner),
		Store:    fileStore,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: service setup failed")
	}

	worker := &jobWorker{ctx: ctx, svc: svc, logger: logger, poll: cfg.WorkerPollInterval}
	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *jobWorker) Run() error {
	w.logger.Info().Dur("poll", w.poll).Msg("worker: started")
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		job, err := w.svc.ProcessNext(w.ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNoJobAvailable) {
				time.Sleep(w.poll)
				continue
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			w.logger.Error().Err(err).Msg("worker: claim failed")
			time.Sleep(w.poll)
			continue
		}
		w.logger.Info().Str("job_id", job.ID).Str("feature", string(job.Feature)).Msg("worker: job processed")
	}
}
