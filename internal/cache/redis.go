package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"vitalwatch/internal/config"
	"vitalwatch/internal/model"
	"vitalwatch/internal/monitor"
)

const (
	keySnapshot = "snapshot"
	keyPatient  = "patient:"
	keyEvents   = "events"
	keyAlerts   = "alerts"

	alertStreamMaxLen = 10000
)

// Change is published on the events channel after every mirrored snapshot.
type Change struct {
	Sequence  uint64    `json:"sequence"`
	Patients  int       `json:"patients"`
	Alerts    int       `json:"alerts"`
	Phase     string    `json:"phase"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mirror copies the live snapshot into Redis so other processes can read
// the ward state without talking to the gateway.
type Mirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis; it returns nil when the cache is disabled.
func New(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (*Mirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.KeyPrefix, cfg.TTL, logger), nil
}

func NewWithClient(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (m *Mirror) key(parts ...string) string {
	k := m.prefix
	for _, p := range parts {
		k += p
	}
	return k
}

// Save writes the snapshot and one key per patient in a single pipeline,
// then announces the change.
func (m *Mirror) Save(ctx context.Context, snap monitor.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.key(keySnapshot), payload, m.ttl)
	for _, p := range snap.Patients {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode patient %s: %w", p.PatientID, err)
		}
		pipe.Set(ctx, m.key(keyPatient, p.PatientID), data, m.ttl)
	}
	change, _ := json.Marshal(Change{
		Sequence:  snap.Sequence,
		Patients:  len(snap.Patients),
		Alerts:    len(snap.Alerts),
		Phase:     string(snap.Phase),
		UpdatedAt: snap.UpdatedAt,
	})
	pipe.Publish(ctx, m.key(keyEvents), change)
	_, err = pipe.Exec(ctx)
	return err
}

func (m *Mirror) Load(ctx context.Context) (monitor.Snapshot, bool, error) {
	data, err := m.client.Get(ctx, m.key(keySnapshot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return monitor.Snapshot{}, false, nil
	}
	if err != nil {
		return monitor.Snapshot{}, false, err
	}
	var snap monitor.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return monitor.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (m *Mirror) Patient(ctx context.Context, id string) (model.Patient, bool, error) {
	data, err := m.client.Get(ctx, m.key(keyPatient, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Patient{}, false, nil
	}
	if err != nil {
		return model.Patient{}, false, err
	}
	var p model.Patient
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Patient{}, false, fmt.Errorf("decode patient: %w", err)
	}
	return p, true, nil
}

// PublishAlert appends a newly observed alert to the alerts stream.
func (m *Mirror) PublishAlert(ctx context.Context, alert model.Alert) (string, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return "", err
	}
	return m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.key(keyAlerts),
		MaxLen: alertStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"alert_id":   alert.AlertID,
			"patient_id": alert.PatientID,
			"severity":   string(alert.SeverityLevel),
			"data":       string(data),
			"timestamp":  time.Now().Unix(),
		},
	}).Result()
}

// Subscribe listens for change announcements until ctx is done.
func (m *Mirror) Subscribe(ctx context.Context) (<-chan Change, error) {
	sub := m.client.Subscribe(ctx, m.key(keyEvents))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					m.logger.Warn("bad change message", zap.Error(err))
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Hook mirrors every applied snapshot. Failures are logged and never reach
// the monitor.
func (m *Mirror) Hook() monitor.Hook {
	return func(ctx context.Context, snap monitor.Snapshot) {
		if err := m.Save(ctx, snap); err != nil {
			m.logger.Warn("snapshot mirror failed",
				zap.Uint64("sequence", snap.Sequence),
				zap.Error(err),
			)
		}
	}
}

func (m *Mirror) Close() error {
	return m.client.Close()
}
