package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/backend"
	"mediaforge/internal/chain"
	"mediaforge/internal/http/handlers"
	"mediaforge/internal/http/httpapi"
	"mediaforge/internal/infra"
	"mediaforge/internal/infra/credentials"
	"mediaforge/internal/orchestrator"
	"mediaforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: database connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	credStore := credentials.NewStore(runner)
	if err := credStore.ApplyOverrides(ctx, cfg); err != nil {
		logger.Warn().Err(err).Msg("api: credential overrides unavailable")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: storage setup failed")
	}

	registry, err := backend.FromConfig(cfg, fileStore, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: backend setup failed")
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
		logger.Fatal().Err(err).Msg("api: service setup failed")
	}

	app := handlers.NewApp(cfg, logger, svc)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, logger, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
