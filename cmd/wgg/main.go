// Command wgg runs the grocery aggregator: vendor clients, caches and the promotion scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/wgg/internal/app/aggregator"
	"github.com/coachpo/wgg/internal/app/provider"
	"github.com/coachpo/wgg/internal/app/scheduler"
	"github.com/coachpo/wgg/internal/app/snapshot"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/vendor"
	"github.com/coachpo/wgg/internal/infra/adapters/fake"
	"github.com/coachpo/wgg/internal/infra/adapters/rest"
	"github.com/coachpo/wgg/internal/infra/config"
	"github.com/coachpo/wgg/internal/infra/observability"
	httpserver "github.com/coachpo/wgg/internal/infra/server/http"
	"github.com/coachpo/wgg/internal/infra/snapshotstore"
	"github.com/coachpo/wgg/internal/infra/telemetry"
)

const (
	defaultConfigPath         = "config/app.yaml"
	shutdownTimeout           = 30 * time.Second
	apiServerShutdownTimeout  = 5 * time.Second
	schedulerShutdownTimeout  = 5 * time.Second
	lifecycleShutdownTimeout  = 10 * time.Second
	aggregatorShutdownTimeout = 10 * time.Second
	snapshotSaveTimeout       = 10 * time.Second
	snapshotCloseTimeout      = 2 * time.Second
	telemetryShutdownTimeout  = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	if err := run(ctx, cancel, resolveConfigPath(cfgPathFlag)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, configPath string) error {
	appCfg, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zl, err := observability.NewZap(observability.LogConfig{
		Level:  appCfg.Logging.Level,
		Format: appCfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := observability.NewZapLogger(zl)

	logger.Info("configuration initialised",
		observability.String("path", configPath),
		observability.String("environment", string(appCfg.Environment)),
		observability.Int("vendors", len(appCfg.EnabledVendors())))

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		return err
	}

	manager, clients, err := initVendors(ctx, logger, appCfg)
	if err != nil {
		return err
	}

	agg, err := aggregator.New(aggregatorConfig(appCfg, clients), aggregator.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initialise aggregator: %w", err)
	}

	backend, err := snapshotstore.Open(ctx, appCfg.Snapshot, logger)
	if err != nil {
		return fmt.Errorf("open snapshot backend: %w", err)
	}
	if snap, ok := snapshot.LoadOrCold(ctx, backend.Store, logger); ok {
		agg.Restore(snap)
	}

	sched, err := startScheduler(ctx, logger, appCfg, agg, backend.Store)
	if err != nil {
		agg.Close()
		_ = backend.Close()
		return err
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logVendorStatus(logger, agg)
			}
		}
	})

	var apiServer *http.Server
	if appCfg.Server.Enabled {
		apiServer = buildAPIServer(appCfg, httpserver.Deps{
			Environment: appCfg.Environment,
			Aggregator:  agg,
			Vendors:     manager,
			Scheduler:   sched,
			Snapshots:   backend.Store,
			Logger:      logger,
		})
		startAPIServer(&lifecycle, logger, apiServer)
		logger.Info("http api listening", observability.String("addr", apiServer.Addr))
	}

	logger.Info("wgg started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		scheduler:  sched,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		aggregator: agg,
		snapshots:  backend,
		telemetry:  telemetryProvider,
	})
	logger.Info("shutdown completed", observability.Duration("elapsed", time.Since(shutdownStart)))
	return nil
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func initTelemetry(ctx context.Context, logger observability.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.Enabled = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Info("telemetry initialised",
			observability.String("endpoint", telemetryCfg.OTLPEndpoint),
			observability.String("service", telemetryCfg.ServiceName))
	} else {
		logger.Info("telemetry disabled")
	}
	return provider, nil
}

func newRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	fake.RegisterFactory(registry)
	rest.RegisterFactory(registry)
	return registry
}

func initVendors(ctx context.Context, logger observability.Logger, appCfg config.AppConfig) (*provider.Manager, map[product.Vendor]vendor.Client, error) {
	manager := provider.NewManager(newRegistry(), logger)
	clients, err := manager.Start(ctx, appCfg.Vendors)
	if err != nil {
		return nil, nil, fmt.Errorf("start vendors: %w", err)
	}
	return manager, clients, nil
}

func aggregatorConfig(appCfg config.AppConfig, clients map[product.Vendor]vendor.Client) aggregator.Config {
	return aggregator.Config{
		Clients:             clients,
		CacheTTL:            appCfg.Cache.TTL,
		CacheMaxEntries:     appCfg.Cache.MaxEntries,
		PromotionTTL:        appCfg.Promotions.TTL,
		DetailConcurrency:   appCfg.Promotions.DetailConcurrency,
		AutocompleteTTL:     appCfg.Cache.AutocompleteTTL,
		AutocompleteMaxCost: appCfg.Cache.AutocompleteMaxCost,
		RefreshTimeout:      appCfg.Promotions.RefreshTimeout,
	}
}

func jobsConfig(appCfg config.AppConfig, store snapshot.Store) (aggregator.JobsConfig, error) {
	refresh, err := scheduler.Cron(appCfg.Promotions.RefreshCron)
	if err != nil {
		return aggregator.JobsConfig{}, fmt.Errorf("promotions refresh schedule: %w", err)
	}
	return aggregator.JobsConfig{
		RefreshSchedule:  refresh,
		SweepInterval:    appCfg.Cache.SweepInterval,
		SnapshotInterval: appCfg.Snapshot.Interval,
		SnapshotStore:    store,
	}, nil
}

func startScheduler(ctx context.Context, logger observability.Logger, appCfg config.AppConfig, agg *aggregator.Provider, store snapshot.Store) (*scheduler.Scheduler, error) {
	jobs, err := jobsConfig(appCfg, store)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.WithTick(appCfg.Scheduler.Tick), scheduler.WithLogger(logger))
	if err := sched.Start(ctx); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	ids, err := agg.RegisterJobs(ctx, sched, jobs)
	if err != nil {
		_ = sched.Stop(context.Background())
		return nil, fmt.Errorf("register jobs: %w", err)
	}
	logger.Info("scheduler started", observability.Int("jobs", len(ids)))
	return sched, nil
}

func buildAPIServer(appCfg config.AppConfig, deps httpserver.Deps) *http.Server {
	return &http.Server{
		Addr:              appCfg.Server.Addr,
		Handler:           httpserver.NewHandler(deps, appCfg.Server.AllowedOrigin),
		ReadHeaderTimeout: appCfg.Server.ReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger observability.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http api stopped", observability.Err(err))
		}
	})
}

func logVendorStatus(logger observability.Logger, agg *aggregator.Provider) {
	for _, v := range agg.Vendors() {
		meta := agg.Resolver().Meta(v)
		logger.Debug("vendor status",
			observability.String("vendor", v.String()),
			observability.Int("sales", len(agg.Resolver().SaleIDs(v))),
			observability.Field{Key: "promotions_complete", Value: meta.IsComplete},
			observability.Time("promotions_expiry", meta.Expiry))
	}
}

type gracefulShutdownConfig struct {
	server     *http.Server
	scheduler  *scheduler.Scheduler
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	aggregator *aggregator.Provider
	snapshots  *snapshotstore.Backend
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger observability.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Info("shutdown step started", observability.String("step", name))
		if err := fn(stepCtx); err != nil {
			logger.Warn("shutdown step failed", observability.String("step", name), observability.Err(err))
		} else {
			logger.Info("shutdown step completed", observability.String("step", name))
		}
	}
	waitFor := func(stepCtx context.Context, wait func()) error {
		done := make(chan struct{})
		go func() {
			wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping http api", apiServerShutdownTimeout, cfg.server.Shutdown)
	}

	if cfg.scheduler != nil {
		shutdownStep("stopping scheduler", schedulerShutdownTimeout, cfg.scheduler.Stop)
	}

	logger.Info("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			return waitFor(stepCtx, cfg.lifecycle.Wait)
		})
	}

	if cfg.aggregator != nil {
		shutdownStep("closing aggregator", aggregatorShutdownTimeout, func(stepCtx context.Context) error {
			return waitFor(stepCtx, cfg.aggregator.Close)
		})
	}

	if cfg.snapshots != nil {
		if cfg.snapshots.Store != nil && cfg.aggregator != nil {
			shutdownStep("saving snapshot", snapshotSaveTimeout, func(stepCtx context.Context) error {
				return cfg.snapshots.Store.Save(stepCtx, cfg.aggregator.Snapshot())
			})
		}
		shutdownStep("closing snapshot backend", snapshotCloseTimeout, func(context.Context) error {
			return cfg.snapshots.Close()
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry.Shutdown)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
