package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ragline/ingestd/config"
	"github.com/ragline/ingestd/internal/adapters/jobrunner"
	"github.com/ragline/ingestd/internal/adapters/workerpool"
	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/events"
	"github.com/ragline/ingestd/internal/observability/statsd"
	"github.com/ragline/ingestd/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Store         core.JobStore
	Bus           *events.Bus
	Notifier      *events.ChangeNotifier
	Stats         *service.StatsAggregator
	Pool          *workerpool.Pool
	Runner        *jobrunner.Runner
	Scheduler     *service.Scheduler
	Health        *service.HealthService
	Jobs          *service.JobService
	Bootstrap     *service.Bootstrap
	Retention     *service.Retention
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// Client is the UDP statsd client, nil when STATSD_ADDR is unset.
	Client *statsd.Client
	// Sink is what components emit metrics through. Always non-nil; a
	// NopSink when metrics are disabled.
	Sink   statsd.Sink
	Config config.ObservabilityConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config *config.AppConfig
	Store  core.JobStore
	Logger *slog.Logger
}

// buildObservability configures the metrics sink. Metrics are optional:
// without a statsd address everything emits into a NopSink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	container := ObservabilityContainer{Sink: statsd.NopSink{}, Config: cfg}
	if !cfg.MetricsEnabled() {
		return container
	}

	client, err := statsd.NewClient(statsd.Config{
		Address: cfg.StatsdAddr,
		Prefix:  cfg.StatsdPrefix,
		Logger:  obsLogger,
	})
	if err != nil {
		obsLogger.Error("failed to initialise statsd client", "error", err)
		return container
	}

	container.Client = client
	container.Sink = client
	return container
}

// NewServices wires the full service graph over an opened job store. The
// store stays owned by the caller; everything built here is released through
// ServiceContainer.Close.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	if deps.Config == nil {
		return ServiceContainer{}, errors.New("app config is required")
	}
	if deps.Store == nil {
		return ServiceContainer{}, errors.New("job store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)

	bus := events.NewBus(events.BusOptions{})
	notifier := events.NewChangeNotifier()

	stats, err := service.NewStatsAggregator(service.StatsOptions{
		Bus:    bus,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build stats aggregator: %w", err)
	}

	pool := workerpool.New(workerpool.Options{
		MaxWorkers: cfg.Scheduler.MaxWorkers,
		Backlog:    cfg.Scheduler.Backlog,
		Logger:     logger,
	})

	runner, err := jobrunner.NewRunner(jobrunner.Options{
		Config: core.RunnerConfig{
			PipelineBin:      cfg.Runner.PipelineBin,
			Timeout:          cfg.Runner.Timeout(),
			OutputLimitBytes: cfg.Runner.OutputLimitBytes,
			ArtifactsDir:     cfg.Runner.ArtifactsDir,
		},
		Bus:     bus,
		Logger:  logger,
		Metrics: observability.Sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build job runner: %w", err)
	}

	scheduler, err := service.NewScheduler(service.SchedulerOptions{
		Store:    deps.Store,
		Pool:     pool,
		Runner:   runner,
		Bus:      bus,
		Notifier: notifier,
		Config: core.SchedulerConfig{
			AcquireLimit:      cfg.Scheduler.AcquireLimit,
			LeaseDuration:     cfg.Store.Lease(),
			StoreFailureLimit: cfg.Scheduler.StoreFailureLimit,
			MaxPlanBoundaries: core.DefaultSchedulerConfig().MaxPlanBoundaries,
		},
		Logger:  logger,
		Metrics: observability.Sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build scheduler: %w", err)
	}

	health, err := service.NewHealthService(service.HealthOptions{
		Store:        deps.Store,
		Stats:        stats,
		Scheduler:    scheduler,
		ArtifactsDir: cfg.Runner.ArtifactsDir,
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build health service: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Store:    deps.Store,
		Notifier: notifier,
		Stats:    stats,
		Health:   health,
		Timezone: cfg.Scheduler.Timezone,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build job service: %w", err)
	}

	boot, err := service.NewBootstrap(service.BootstrapOptions{
		Jobs:   jobs,
		JobID:  cfg.Bootstrap.JobID,
		Hour:   cfg.Bootstrap.Hour,
		Minute: cfg.Bootstrap.Minute,
		PipelineConfig: model.PipelineConfig{
			"incremental_mode": model.StringValue("auto"),
		},
		ArtifactsDir: cfg.Runner.ArtifactsDir,
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build bootstrap: %w", err)
	}

	retention := service.NewRetention(service.RetentionOptions{
		Dir:      cfg.Runner.ArtifactsDir,
		MaxAge:   cfg.Retention.MaxAge,
		Interval: cfg.Retention.Interval,
		Logger:   logger,
		Metrics:  observability.Sink,
	})

	return ServiceContainer{
		Store:         deps.Store,
		Bus:           bus,
		Notifier:      notifier,
		Stats:         stats,
		Pool:          pool,
		Runner:        runner,
		Scheduler:     scheduler,
		Health:        health,
		Jobs:          jobs,
		Bootstrap:     boot,
		Retention:     retention,
		Observability: observability,
	}, nil
}

// Close releases the event plumbing and the metrics client. The scheduler
// must already be stopped; the job store is owned by the caller and closed
// separately.
func (c *ServiceContainer) Close(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if c.Stats != nil {
		c.Stats.Close()
	}
	if c.Bus != nil {
		c.Bus.Close()
	}
	if c.Notifier != nil {
		c.Notifier.Close()
	}
	if c.Observability.Client != nil {
		if err := c.Observability.Client.Close(); err != nil {
			logger.Warn("close statsd client failed", "error", err)
		}
	}
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) (*http.Server, error) {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil, nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newSchedulerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeScheduler,
		name: "scheduler",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			sched := deps.cfg.Services.Scheduler
			if err := sched.Start(); err != nil {
				return err
			}
			// The loop stopping on its own means repeated store failures;
			// surface that as a service error so the process exits.
			select {
			case <-ctx.Done():
				return nil
			case <-sched.Done():
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("scheduler loop stopped unexpectedly")
			}
		},
	}
}

func newBootstrapBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeScheduler,
		name: "bootstrap",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			// A failed seed is not fatal: the scheduler still runs and the
			// operator can create jobs through the API.
			if _, err := deps.cfg.Services.Bootstrap.Run(ctx); err != nil {
				deps.logger.ErrorContext(ctx, "first-run bootstrap failed", "error", err)
			}
			return nil
		},
	}
}

func newRetentionBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeScheduler,
		name: "retention sweeper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			return deps.cfg.Services.Retention.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	services := []backgroundService{newSchedulerBackgroundService(deps)}
	if deps.cfg != nil && deps.cfg.Config != nil && deps.cfg.Config.Bootstrap.Enabled {
		services = append(services, newBootstrapBackgroundService(deps))
	}
	return append(services, newRetentionBackgroundService(deps))
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion
// channels. A failed HTTP listen aborts startup before any background
// service runs.
func startServices(deps *serviceStartupDeps) (ServiceStartupResult, error) {
	server, err := startHTTPServerIfEnabled(deps)
	if err != nil {
		return ServiceStartupResult{}, err
	}
	return ServiceStartupResult{
		HTTPServer: server,
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}, nil
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defer cfg.Services.Close(logger)

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result, err := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})
	if err != nil {
		return err
	}

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		scheduler:   cfg.Services.Scheduler,
		grace:       cfg.Config.ShutdownGrace,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	modes := []config.ServiceMode{
		config.ServiceModeScheduler,
		config.ServiceModeHTTP,
	}

	count := 0
	for _, mode := range modes {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	scheduler   *service.Scheduler
	grace       time.Duration
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services. The HTTP server
// goes first so no new mutations arrive while the scheduler drains.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		// The service context is already cancelled, so the HTTP drain
		// needs its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	stopScheduler(cfg)

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// stopScheduler drains in-flight firings, escalating to a hard stop that
// cancels pipeline children once the grace period elapses.
func stopScheduler(cfg shutdownConfig) {
	if cfg.scheduler == nil {
		return
	}
	grace := cfg.grace
	if grace <= 0 {
		grace = shutdownWaitTimeout
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		cfg.scheduler.Shutdown(true)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		cfg.logger.Warn("shutdown grace elapsed, cancelling in-flight firings", "grace", grace)
		cfg.scheduler.Shutdown(false)
		<-done
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
