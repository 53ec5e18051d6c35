package ingest

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"vitalwatch/internal/config"
)

func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- Event, logger *zap.Logger, observer Observer) {
	logger = orNop(logger)
	if observer == nil {
		observer = nopObserver{}
	}
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		logger.Info("kafka ingest disabled")
		return
	}
	logger.Info("kafka ingest enabled",
		zap.Strings("brokers", current.Brokers),
		zap.String("topic", current.Topic),
		zap.String("group_id", current.GroupID),
	)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  500 * time.Millisecond,
	})
	lines := &lineHandler{source: SourceKafka, parser: NewParser(), out: out, logger: logger, observer: observer}
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("kafka read error", zap.Error(err))
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			lines.handle(ctx, string(m.Value))
		}
	}()
}
