// Package monitor owns the live monitoring snapshot. Every read the
// presentation layer makes goes through a Store, and every change is
// confirmed by the gateway before it becomes visible.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vitalwatch/internal/model"
	"vitalwatch/internal/stats"
)

var ErrClosed = errors.New("monitor: store closed")

// Gateway is the remote source of truth.
type Gateway interface {
	ListPatients(ctx context.Context) ([]model.Patient, error)
	ListAlerts(ctx context.Context) ([]model.Alert, error)
	GetStats(ctx context.Context) (*model.StatsReport, error)
	CreatePatient(ctx context.Context, in model.PatientInput) (model.Patient, error)
	UpdatePatient(ctx context.Context, id string, in model.PatientInput) error
	DeletePatient(ctx context.Context, id string) error
	SendTelemetry(ctx context.Context, reading model.TelemetryReading) (model.TelemetryResult, error)
}

// Observer receives the outcome of every gateway round trip.
type Observer interface {
	ObserveRefresh(elapsed time.Duration, err error)
	ObserveCommand(op string, elapsed time.Duration, err error)
}

// Hook runs after a refresh has been applied, outside the store's lock.
type Hook func(ctx context.Context, snap Snapshot)

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRefreshInterval(d time.Duration) Option {
	return func(s *Store) { s.SetRefreshInterval(d) }
}

func WithTelemetryRefreshDelay(d time.Duration) Option {
	return func(s *Store) { s.SetTelemetryRefreshDelay(d) }
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

func WithHook(h Hook) Option {
	return func(s *Store) { s.hooks = append(s.hooks, h) }
}

func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	gw        Gateway
	logger    *zap.Logger
	observers []Observer
	hooks     []Hook
	now       func() time.Time

	interval       atomic.Int64
	telemetryDelay atomic.Int64
	intervalReset  chan struct{}

	current atomic.Pointer[Snapshot]

	// guarded by mu
	mu         sync.Mutex
	issued     uint64
	settled    uint64
	inflight   int
	lastOK     bool
	generation uint64
	closed     bool
	pending    *time.Timer
	subs       map[uint64]chan Snapshot
	nextSub    uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(gw Gateway, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		gw:            gw,
		logger:        zap.NewNop(),
		now:           time.Now,
		intervalReset: make(chan struct{}, 1),
		subs:          make(map[uint64]chan Snapshot),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	s.interval.Store(int64(10 * time.Second))
	s.telemetryDelay.Store(int64(time.Second))
	s.current.Store(emptySnapshot())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a private copy of the live snapshot.
func (s *Store) Snapshot() Snapshot {
	return s.current.Load().clone()
}

func (s *Store) Initialize(ctx context.Context) error {
	return s.Refresh(ctx)
}

// Refresh fetches patients, alerts and stats together and replaces the
// snapshot. On failure the previous data stays in place and Error carries
// the gateway's message. A result older than one already applied is
// dropped, as is any result that lands after Close.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	gen := s.generation
	s.issued++
	seq := s.issued
	s.inflight++
	s.publishLocked(func(next *Snapshot) {
		next.Loading = true
		next.Phase = PhaseLoading
	})
	s.mu.Unlock()

	started := s.now()
	patients, alerts, report, err := s.fetch(ctx)
	elapsed := s.now().Sub(started)
	for _, o := range s.observers {
		o.ObserveRefresh(elapsed, err)
	}

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarding refresh result after teardown", zap.Uint64("sequence", seq))
		return ErrClosed
	}
	s.inflight--
	// A caller that gave up on its own request says nothing about the
	// gateway, so its failure is dropped like a superseded result.
	abandoned := err != nil && ctx.Err() != nil
	superseded := seq < s.settled || abandoned
	if !superseded {
		s.settled = seq
		s.lastOK = err == nil
	}
	var applied *Snapshot
	s.publishLocked(func(next *Snapshot) {
		next.Loading = s.inflight > 0
		if !superseded {
			if err != nil {
				next.Error = err.Error()
			} else {
				next.Patients = uniquePatients(patients, s.logger)
				next.Alerts = uniqueAlerts(alerts, s.logger)
				next.Stats = stats.Merge(report, stats.Compute(next.Patients, next.Alerts))
				next.Error = ""
				next.Loaded = true
				next.Restored = false
				next.Sequence = seq
				next.UpdatedAt = s.now().UTC()
				applied = next
			}
		}
		next.Phase = s.phaseLocked()
	})
	s.mu.Unlock()

	if superseded {
		s.logger.Debug("dropping superseded refresh result",
			zap.Uint64("sequence", seq),
			zap.Bool("caller_cancelled", abandoned),
		)
		return err
	}
	if err != nil {
		s.logger.Warn("refresh failed, keeping previous snapshot",
			zap.Uint64("sequence", seq),
			zap.Error(err),
		)
		return err
	}
	s.logger.Debug("snapshot refreshed",
		zap.Uint64("sequence", seq),
		zap.Int("patients", len(applied.Patients)),
		zap.Int("alerts", len(applied.Alerts)),
		zap.Duration("elapsed", elapsed),
	)
	if len(s.hooks) > 0 {
		snap := applied.clone()
		for _, h := range s.hooks {
			h(s.ctx, snap)
		}
	}
	return nil
}

func (s *Store) fetch(ctx context.Context) ([]model.Patient, []model.Alert, *model.StatsReport, error) {
	var (
		patients []model.Patient
		alerts   []model.Alert
		report   *model.StatsReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		patients, err = s.gw.ListPatients(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		alerts, err = s.gw.ListAlerts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		report, err = s.gw.GetStats(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return patients, alerts, report, nil
}

func (s *Store) phaseLocked() Phase {
	switch {
	case s.inflight > 0:
		return PhaseLoading
	case s.settled == 0:
		return PhaseUninitialized
	case s.lastOK:
		return PhaseReady
	}
	return PhaseFailed
}

// publishLocked derives the next snapshot from the current one and swaps it
// in. The collections of the current snapshot are shared, never written.
func (s *Store) publishLocked(mutate func(next *Snapshot)) {
	next := *s.current.Load()
	mutate(&next)
	s.current.Store(&next)
	s.notifyLocked(next)
}

func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.current.Load().Error == "" {
		return
	}
	s.publishLocked(func(next *Snapshot) { next.Error = "" })
}

// Restore shows archived data until the first refresh lands. It is refused
// once any refresh has settled.
func (s *Store) Restore(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.settled > 0 {
		return false
	}
	restored := snap.clone()
	s.publishLocked(func(next *Snapshot) {
		next.Patients = nonNilPatients(restored.Patients)
		next.Alerts = nonNilAlerts(restored.Alerts)
		next.Stats = restored.Stats
		next.UpdatedAt = restored.UpdatedAt
		next.Restored = true
	})
	return true
}

func (s *Store) CreatePatient(ctx context.Context, in model.PatientInput) (model.Patient, error) {
	if s.isClosed() {
		return model.Patient{}, ErrClosed
	}
	started := s.now()
	p, err := s.gw.CreatePatient(ctx, in)
	s.observeCommand("create_patient", started, err)
	if err != nil {
		return model.Patient{}, err
	}
	s.logger.Info("patient created", zap.String("patient_id", p.PatientID))
	s.refreshAfterCommand(ctx, "create_patient")
	return p, nil
}

func (s *Store) UpdatePatient(ctx context.Context, id string, in model.PatientInput) error {
	if s.isClosed() {
		return ErrClosed
	}
	started := s.now()
	err := s.gw.UpdatePatient(ctx, id, in)
	s.observeCommand("update_patient", started, err)
	if err != nil {
		return err
	}
	s.logger.Info("patient updated", zap.String("patient_id", id))
	s.refreshAfterCommand(ctx, "update_patient")
	return nil
}

func (s *Store) DeletePatient(ctx context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	started := s.now()
	err := s.gw.DeletePatient(ctx, id)
	s.observeCommand("delete_patient", started, err)
	if err != nil {
		return err
	}
	s.logger.Info("patient deleted", zap.String("patient_id", id))
	s.refreshAfterCommand(ctx, "delete_patient")
	return nil
}

// SendTelemetry forwards a reading and schedules a refresh after the
// telemetry delay so the gateway's derived alert is in place when we read.
func (s *Store) SendTelemetry(ctx context.Context, reading model.TelemetryReading) (model.TelemetryResult, error) {
	if s.isClosed() {
		return model.TelemetryResult{}, ErrClosed
	}
	started := s.now()
	res, err := s.gw.SendTelemetry(ctx, reading)
	s.observeCommand("send_telemetry", started, err)
	if err != nil {
		return model.TelemetryResult{}, err
	}
	if res.AlertTriggered {
		s.logger.Info("telemetry triggered alert",
			zap.String("patient_id", reading.PatientID),
			zap.String("issue", res.Issue),
		)
	}
	s.scheduleRefresh(s.TelemetryRefreshDelay())
	return res, nil
}

// The command already succeeded; a failed follow-up refresh is reported
// through the snapshot, not to the caller.
func (s *Store) refreshAfterCommand(ctx context.Context, op string) {
	if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Warn("refresh after command failed", zap.String("op", op), zap.Error(err))
	}
}

// scheduleRefresh arms at most one delayed refresh. Writes that arrive
// while one is pending are covered by it, since it reads after they land.
func (s *Store) scheduleRefresh(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pending != nil {
		return
	}
	s.pending = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		_ = s.Refresh(s.ctx)
	})
}

// PendingRefreshes is the number of delayed refreshes not yet fired.
func (s *Store) PendingRefreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return 1
	}
	return 0
}

func (s *Store) observeCommand(op string, started time.Time, err error) {
	elapsed := s.now().Sub(started)
	for _, o := range s.observers {
		o.ObserveCommand(op, elapsed, err)
	}
	if err != nil {
		s.logger.Warn("gateway command failed", zap.String("op", op), zap.Error(err))
	}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the scheduler and any delayed refreshes, cancels requests the
// store started itself, and makes late responses a no-op.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.generation++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.cancel()
	close(s.done)
}

func uniquePatients(in []model.Patient, logger *zap.Logger) []model.Patient {
	out := make([]model.Patient, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		if _, dup := seen[p.PatientID]; dup {
			logger.Warn("duplicate patient_id from gateway, keeping first", zap.String("patient_id", p.PatientID))
			continue
		}
		seen[p.PatientID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func uniqueAlerts(in []model.Alert, logger *zap.Logger) []model.Alert {
	out := make([]model.Alert, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		if _, dup := seen[a.AlertID]; dup {
			logger.Warn("duplicate alert_id from gateway, keeping first", zap.String("alert_id", a.AlertID))
			continue
		}
		seen[a.AlertID] = struct{}{}
		out = append(out, a)
	}
	return out
}

func nonNilPatients(in []model.Patient) []model.Patient {
	if in == nil {
		return []model.Patient{}
	}
	return in
}

func nonNilAlerts(in []model.Alert) []model.Alert {
	if in == nil {
		return []model.Alert{}
	}
	return in
}
