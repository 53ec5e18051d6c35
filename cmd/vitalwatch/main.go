package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/api"
	"vitalwatch/internal/cache"
	"vitalwatch/internal/config"
	"vitalwatch/internal/gateway"
	"vitalwatch/internal/ingest"
	"vitalwatch/internal/logging"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/monitor"
	"vitalwatch/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	watch := flag.Duration("watch", 3*time.Second, "config reload poll interval (0 disables)")
	flag.Parse()

	cfgMgr, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfgMgr, *watch, logger); err != nil {
		logger.Fatal("vitalwatch stopped", zap.Error(err))
	}
	logger.Info("vitalwatch stopped")
}

func loadConfig(path string) (*config.Manager, error) {
	if path == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	return config.NewManager(config.ResolvePath(path))
}

func run(ctx context.Context, cfgMgr *config.Manager, watch time.Duration, logger *zap.Logger) error {
	cfg := cfgMgr.Get()
	logger.Info("starting vitalwatch",
		zap.String("version", version),
		zap.String("config", cfgMgr.Path()),
		zap.String("gateway", cfg.Gateway.BaseURL),
	)

	ms := metrics.NewStore(prometheus.DefaultRegisterer)
	tracker := alerts.NewTracker(alerts.NewStore(cfg.Monitor.RecentAlertsLimit))

	archive, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if archive != nil {
		if err := archive.Init(ctx); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		defer archive.Close()
		logger.Info("snapshot archive enabled", zap.String("driver", cfg.Storage.Driver))
	}

	mirror, err := cache.New(ctx, cfg.Cache, logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if mirror != nil {
		defer mirror.Close()
		logger.Info("redis mirror enabled", zap.String("addr", cfg.Cache.Addr))
	}

	opts := []monitor.Option{
		monitor.WithLogger(logger.Named("monitor")),
		monitor.WithRefreshInterval(cfg.Monitor.RefreshInterval),
		monitor.WithTelemetryRefreshDelay(cfg.Monitor.TelemetryRefreshDelay),
		monitor.WithObserver(ms),
		monitor.WithHook(statsHook(ms)),
		monitor.WithHook(alertHook(tracker, archive, mirror, logger.Named("alerts"))),
	}
	if archive != nil {
		opts = append(opts, monitor.WithHook(archiveHook(archive, logger.Named("storage"))))
	}
	if mirror != nil {
		opts = append(opts, monitor.WithHook(mirror.Hook()))
	}
	store := monitor.New(gateway.New(cfg.Gateway, logger.Named("gateway")), opts...)
	defer store.Close()

	warmStart(ctx, store, archive, mirror, logger)

	go store.Run(ctx)
	if err := store.Initialize(ctx); err != nil {
		logger.Warn("initial refresh failed; polling continues", zap.Error(err))
	}

	srv := api.NewServer(cfgMgr, store, api.Options{
		Metrics:  ms,
		Alerts:   tracker.Store(),
		Archive:  archive,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logger.Named("api"),
		Version:  version,
	})
	api.Start(ctx, cfgMgr, srv, logger.Named("api"))

	pipeline := ingest.NewPipeline(cfgMgr, store, logger.Named("ingest"), ms)
	go func() { _ = pipeline.Run(ctx) }()
	if err := ingest.StartSources(ctx, cfgMgr, pipeline.Events(), logger.Named("ingest"), ms); err != nil {
		return err
	}

	if watch > 0 && cfgMgr.Path() != "" {
		go cfgMgr.Watch(ctx, watch, func(next *config.Config) {
			store.SetRefreshInterval(next.Monitor.RefreshInterval)
			store.SetTelemetryRefreshDelay(next.Monitor.TelemetryRefreshDelay)
			logger.Info("config reloaded",
				zap.Duration("refresh_interval", next.Monitor.RefreshInterval),
				zap.Duration("patient_cooldown", next.Ingest.PatientCooldown),
			)
		}, func(err error) {
			logger.Warn("config reload failed", zap.Error(err))
		})
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
