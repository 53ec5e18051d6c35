package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func (s *Store) RefreshInterval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetRefreshInterval takes effect on the next tick of a running scheduler.
func (s *Store) SetRefreshInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	if time.Duration(s.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case s.intervalReset <- struct{}{}:
	default:
	}
}

func (s *Store) TelemetryRefreshDelay() time.Duration {
	return time.Duration(s.telemetryDelay.Load())
}

func (s *Store) SetTelemetryRefreshDelay(d time.Duration) {
	if d < 0 {
		return
	}
	s.telemetryDelay.Store(int64(d))
}

// Run polls the gateway on a fixed interval until ctx is done or the store
// is closed. Ticks fire whether or not the previous refresh failed; this is
// the only retry the store performs. A tick does not wait for a slow
// refresh, so refreshes may overlap.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.RefreshInterval())
	defer ticker.Stop()
	s.logger.Info("refresh scheduler started", zap.Duration("interval", s.RefreshInterval()))
	for {
		select {
		case <-ticker.C:
			go func() {
				_ = s.Refresh(ctx)
			}()
		case <-s.intervalReset:
			ticker.Reset(s.RefreshInterval())
			s.logger.Info("refresh interval changed", zap.Duration("interval", s.RefreshInterval()))
		case <-ctx.Done():
			s.logger.Info("refresh scheduler stopped")
			return
		case <-s.done:
			s.logger.Info("refresh scheduler stopped", zap.String("reason", "store closed"))
			return
		}
	}
}
