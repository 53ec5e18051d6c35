package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/config"
	"vitalwatch/internal/monitor"
)

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// Store archives applied snapshots so a restarted monitor can show the last
// known ward state before the Gateway answers, and keeps a log of alerts as
// they were first observed.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveSnapshot(ctx context.Context, snap monitor.Snapshot) error
	LoadLatest(ctx context.Context) (monitor.Snapshot, bool, error)
	SaveAlert(ctx context.Context, entry alerts.Entry) error
	RecentAlerts(ctx context.Context, limit int) ([]alerts.Entry, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN, cfg.Retain)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN, cfg.Retain)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// dialect holds the statements that differ between drivers.
type dialect struct {
	schema       []string
	insertSnap   string
	pruneSnaps   string
	latestSnap   string
	insertAlert  string
	recentAlerts string
}

type sqlStore struct {
	db     *sql.DB
	d      dialect
	retain int
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot stores snap and drops all but the newest retain rows in the
// same transaction. Loading-only or never-loaded snapshots are skipped.
func (s *sqlStore) SaveSnapshot(ctx context.Context, snap monitor.Snapshot) error {
	if s.db == nil || !snap.Loaded {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = nowUTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.d.insertSnap,
		ts.UTC().Format(timestampLayout),
		int64(snap.Sequence),
		len(snap.Patients),
		len(snap.Alerts),
		string(payload),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	if s.retain > 0 {
		if _, err := tx.ExecContext(ctx, s.d.pruneSnaps, s.retain); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) LoadLatest(ctx context.Context) (monitor.Snapshot, bool, error) {
	if s.db == nil {
		return monitor.Snapshot{}, false, nil
	}
	var payload string
	err := s.db.QueryRowContext(ctx, s.d.latestSnap).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return monitor.Snapshot{}, false, nil
	}
	if err != nil {
		return monitor.Snapshot{}, false, err
	}
	var snap monitor.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return monitor.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *sqlStore) SaveAlert(ctx context.Context, entry alerts.Entry) error {
	if s.db == nil || entry.Alert.AlertID == "" {
		return nil
	}
	observed := entry.ObservedAt
	if observed.IsZero() {
		observed = nowUTC()
	}
	_, err := s.db.ExecContext(ctx, s.d.insertAlert,
		entry.Alert.AlertID,
		entry.Alert.PatientID,
		string(entry.Alert.SeverityLevel),
		entry.Alert.IssueDetected,
		observed.UTC().Format(timestampLayout),
		encodeJSON(entry.Alert),
	)
	return err
}

// RecentAlerts returns up to limit logged alerts, newest first.
func (s *sqlStore) RecentAlerts(ctx context.Context, limit int) ([]alerts.Entry, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.d.recentAlerts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]alerts.Entry, 0, limit)
	for rows.Next() {
		var observed, payload string
		if err := rows.Scan(&observed, &payload); err != nil {
			return nil, err
		}
		var e alerts.Entry
		if err := json.Unmarshal([]byte(payload), &e.Alert); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		e.ObservedAt, _ = time.Parse(time.RFC3339Nano, observed)
		out = append(out, e)
	}
	return out, rows.Err()
}

// timestampLayout is fixed width so text columns sort chronologically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
