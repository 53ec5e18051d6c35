package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vitalwatch/internal/config"
	"vitalwatch/internal/model"
)

const (
	OutcomeForwarded = "forwarded"
	OutcomeDuplicate = "duplicate"
	OutcomeThrottled = "throttled"
	OutcomeInvalid   = "invalid"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

// Sink receives accepted readings. The monitor store satisfies it.
type Sink interface {
	SendTelemetry(ctx context.Context, reading model.TelemetryReading) (model.TelemetryResult, error)
}

type Observer interface {
	ObserveReading(source, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveReading(string, string) {}

// Pipeline drains feed events through dedupe and per-patient cooldown and
// forwards the survivors to the sink with a fixed pool of workers.
type Pipeline struct {
	cfg      *config.Manager
	sink     Sink
	dedupe   *DedupeCache
	cooldown *Cooldown
	events   chan Event
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

func NewPipeline(cfg *config.Manager, sink Sink, logger *zap.Logger, observer Observer) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Pipeline{
		cfg:      cfg,
		sink:     sink,
		dedupe:   NewDedupeCache(),
		cooldown: NewCooldown(),
		events:   make(chan Event, cfg.Get().Ingest.ChannelBuffer),
		logger:   logger,
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Pipeline) Events() chan<- Event {
	return p.events
}

// Run starts the workers and blocks until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	workers := p.cfg.Get().Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev := <-p.events:
					p.Process(gctx, ev)
				}
			}
		})
	}
	return g.Wait()
}

// Process applies dedupe and cooldown to one event and forwards it. Window
// lengths are read from the live config so reloads apply immediately.
func (p *Pipeline) Process(ctx context.Context, ev Event) string {
	cfg := p.cfg.Get().Ingest
	now := ev.ReceivedAt
	if now.IsZero() {
		now = p.now()
	}
	if p.dedupe.Seen(readingKey(ev.Reading), now, cfg.DedupeWindow) {
		p.observer.ObserveReading(ev.Source, OutcomeDuplicate)
		return OutcomeDuplicate
	}
	if !p.cooldown.Allow(ev.Reading.PatientID, now, cfg.PatientCooldown) {
		p.observer.ObserveReading(ev.Source, OutcomeThrottled)
		return OutcomeThrottled
	}
	res, err := p.sink.SendTelemetry(ctx, ev.Reading)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return OutcomeDropped
		}
		// A rejected reading must not hold the patient's slot.
		p.cooldown.Reset(ev.Reading.PatientID)
		p.logger.Warn("forwarding reading failed",
			zap.String("source", ev.Source),
			zap.String("patient_id", ev.Reading.PatientID),
			zap.Error(err),
		)
		p.observer.ObserveReading(ev.Source, OutcomeFailed)
		return OutcomeFailed
	}
	if res.AlertTriggered {
		p.logger.Info("reading triggered alert",
			zap.String("source", ev.Source),
			zap.String("patient_id", ev.Reading.PatientID),
			zap.String("issue", res.Issue),
		)
	}
	p.observer.ObserveReading(ev.Source, OutcomeForwarded)
	return OutcomeForwarded
}
