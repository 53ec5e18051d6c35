package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vitalwatch/internal/config"
	"vitalwatch/internal/model"
)

const (
	SourceREST      = "rest"
	SourceKafka     = "kafka"
	SourceMQTT      = "mqtt"
	SourceTCPStream = "tcp_stream"
	SourceFileTail  = "file_tail"
)

// Event is a normalised reading on its way to the monitor.
type Event struct {
	Reading    model.TelemetryReading
	Source     string
	ReceivedAt time.Time
}

func SendNonBlocking(ctx context.Context, out chan<- Event, ev Event, logger *zap.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading",
				zap.String("patient_id", ev.Reading.PatientID),
				zap.String("source", ev.Source),
			)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// lineHandler parses, normalises and enqueues one line for a source. It
// reports whether the line produced a reading.
type lineHandler struct {
	source   string
	parser   *Parser
	out      chan<- Event
	logger   *zap.Logger
	observer Observer
}

func (h *lineHandler) handle(ctx context.Context, line string) bool {
	fields, err := h.parser.ParseLine(line)
	if err != nil {
		h.logger.Debug("unparseable reading", zap.String("source", h.source), zap.Error(err))
		h.observer.ObserveReading(h.source, OutcomeInvalid)
		return false
	}
	if fields == nil {
		return false
	}
	return h.handleFields(ctx, *fields)
}

func (h *lineHandler) handleFields(ctx context.Context, fields Fields) bool {
	reading, err := Normalize(fields)
	if err != nil {
		h.logger.Warn("rejected reading",
			zap.String("source", h.source),
			zap.String("patient_id", fields.PatientID),
			zap.Error(err),
		)
		h.observer.ObserveReading(h.source, OutcomeInvalid)
		return false
	}
	ev := Event{Reading: reading, Source: h.source, ReceivedAt: time.Now().UTC()}
	if !SendNonBlocking(ctx, h.out, ev, h.logger) {
		h.observer.ObserveReading(h.source, OutcomeDropped)
		return false
	}
	return true
}

// StartSources starts every enabled feed. Sources stop when ctx is done.
func StartSources(ctx context.Context, cfg *config.Manager, out chan<- Event, logger *zap.Logger, observer Observer) error {
	StartREST(ctx, cfg, out, logger, observer)
	StartKafka(ctx, cfg, out, logger, observer)
	StartFileTail(ctx, cfg, out, logger, observer)
	if _, err := StartTCPStream(ctx, cfg, out, logger, observer); err != nil {
		return fmt.Errorf("tcp stream ingest: %w", err)
	}
	if err := StartMQTT(ctx, cfg, out, logger, observer); err != nil {
		return fmt.Errorf("mqtt ingest: %w", err)
	}
	return nil
}
