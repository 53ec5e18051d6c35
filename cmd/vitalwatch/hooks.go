package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/cache"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/monitor"
	"vitalwatch/internal/storage"
)

func statsHook(ms *metrics.Store) monitor.Hook {
	return func(_ context.Context, snap monitor.Snapshot) {
		ms.ObserveStats(snap.Stats)
	}
}

// alertHook diffs each snapshot's alerts, logs what is new or newly
// resolved, and fans new alerts out to the archive and the Redis stream.
func alertHook(tracker *alerts.Tracker, archive storage.Store, mirror *cache.Mirror, logger *zap.Logger) monitor.Hook {
	return func(ctx context.Context, snap monitor.Snapshot) {
		now := time.Now().UTC()
		changes := tracker.Observe(snap.Alerts, now)
		for _, a := range changes.New {
			logger.Info("new alert",
				zap.String("alert_id", a.AlertID),
				zap.String("patient_id", a.PatientID),
				zap.String("patient_name", a.PatientName),
				zap.String("severity", string(a.SeverityLevel)),
				zap.String("issue", a.IssueDetected),
			)
			if archive != nil {
				if err := archive.SaveAlert(ctx, alerts.Entry{Alert: a, ObservedAt: now}); err != nil {
					logger.Warn("archive alert failed", zap.String("alert_id", a.AlertID), zap.Error(err))
				}
			}
			if mirror != nil {
				if _, err := mirror.PublishAlert(ctx, a); err != nil {
					logger.Warn("publish alert failed", zap.String("alert_id", a.AlertID), zap.Error(err))
				}
			}
		}
		for _, a := range changes.Resolved {
			logger.Info("alert resolved", zap.String("alert_id", a.AlertID), zap.String("patient_id", a.PatientID))
		}
	}
}

func archiveHook(archive storage.Store, logger *zap.Logger) monitor.Hook {
	return func(ctx context.Context, snap monitor.Snapshot) {
		if err := archive.SaveSnapshot(ctx, snap); err != nil {
			logger.Warn("archive snapshot failed", zap.Uint64("sequence", snap.Sequence), zap.Error(err))
		}
	}
}

// warmStart shows the last archived (or mirrored) ward until the first
// refresh lands.
func warmStart(ctx context.Context, store *monitor.Store, archive storage.Store, mirror *cache.Mirror, logger *zap.Logger) {
	var (
		snap monitor.Snapshot
		ok   bool
		err  error
		from string
	)
	if archive != nil {
		snap, ok, err = archive.LoadLatest(ctx)
		from = "archive"
	}
	if !ok && mirror != nil {
		snap, ok, err = mirror.Load(ctx)
		from = "cache"
	}
	if err != nil {
		logger.Warn("warm start failed", zap.String("from", from), zap.Error(err))
		return
	}
	if ok && store.Restore(snap) {
		logger.Info("restored previous snapshot",
			zap.String("from", from),
			zap.Int("patients", len(snap.Patients)),
			zap.Time("updated_at", snap.UpdatedAt),
		)
	}
}
