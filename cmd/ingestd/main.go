package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/ragline/ingestd/config"
	"github.com/ragline/ingestd/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	cfgPtr := &cfg

	logStartupInfo(ctx, logger, cfgPtr)

	if err = bootstrap.ValidateServiceConfig(cfgPtr); err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, bootstrap.StoreDeps{
		Config: cfg.Store,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close job store failed", "error", cerr)
		}
	}()

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config: cfgPtr,
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   cfgPtr,
		Services: services,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	backend := "unknown"
	if target, err := config.ParseStoreURL(cfg.Store.URL); err == nil {
		backend = string(target.Backend)
	}
	logger.InfoContext(ctx, "starting ingestd",
		"store_backend", backend,
		"pipeline_bin", cfg.Runner.PipelineBin,
		"enabled_services", bootstrap.GetEnabledServices(cfg))
}
