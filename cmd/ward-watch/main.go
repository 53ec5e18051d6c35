package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"vitalwatch/internal/cache"
	"vitalwatch/internal/config"
	"vitalwatch/internal/logging"
	"vitalwatch/internal/severity"
)

// ward-watch follows the Redis mirror a vitalwatch daemon maintains, so a
// second process can track the ward without calling the gateway.
func main() {
	configPath := flag.String("config", "", "path to the daemon's YAML or JSON config file")
	addr := flag.String("redis", "", "redis address (overrides cache.addr)")
	patientID := flag.String("patient", "", "print this patient's vitals on every change")
	once := flag.Bool("once", false, "print the current state and exit")
	flag.Parse()

	logger, err := logging.NewLogger("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if cfg, err = config.Load(config.ResolvePath(*configPath)); err != nil {
			logger.Fatal("load config", zap.Error(err))
		}
	}
	cfg.Cache.Enabled = true
	if *addr != "" {
		cfg.Cache.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror, err := cache.New(ctx, cfg.Cache, logger.Named("cache"))
	if err != nil {
		logger.Fatal("connect to mirror", zap.Error(err))
	}
	defer mirror.Close()

	snap, ok, err := mirror.Load(ctx)
	switch {
	case err != nil:
		logger.Warn("read mirrored snapshot", zap.Error(err))
	case !ok:
		logger.Info("no snapshot mirrored yet")
	default:
		logger.Info("current ward",
			zap.Uint64("sequence", snap.Sequence),
			zap.Int("patients", len(snap.Patients)),
			zap.Int("alerts", len(snap.Alerts)),
			zap.Int("unresolved", snap.Stats.UnresolvedAlerts),
		)
	}
	printPatient(ctx, mirror, *patientID, logger)
	if *once {
		return
	}

	changes, err := mirror.Subscribe(ctx)
	if err != nil {
		logger.Fatal("subscribe to changes", zap.Error(err))
	}
	logger.Info("following ward changes", zap.String("addr", cfg.Cache.Addr))
	for c := range changes {
		logger.Info("ward changed",
			zap.Uint64("sequence", c.Sequence),
			zap.String("phase", c.Phase),
			zap.Int("patients", c.Patients),
			zap.Int("alerts", c.Alerts),
			zap.Time("updated_at", c.UpdatedAt),
		)
		printPatient(ctx, mirror, *patientID, logger)
	}
}

func printPatient(ctx context.Context, mirror *cache.Mirror, id string, logger *zap.Logger) {
	if id == "" {
		return
	}
	p, ok, err := mirror.Patient(ctx, id)
	if err != nil {
		logger.Warn("read patient", zap.String("patient_id", id), zap.Error(err))
		return
	}
	if !ok {
		logger.Info("patient not mirrored", zap.String("patient_id", id))
		return
	}
	logger.Info("patient",
		zap.String("patient_id", p.PatientID),
		zap.String("name", p.Name),
		zap.String("heart_rate", severity.FormatHeartRate(p.HeartRate)),
		zap.String("oxygen_level", severity.FormatOxygenLevel(p.OxygenLevel)),
		zap.String("status", string(p.ConnectionStatus)),
	)
}
