package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			sequence BIGINT NOT NULL,
			patients INTEGER NOT NULL,
			alerts INTEGER NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alert_log (
			alert_id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			issue TEXT NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_log_observed ON alert_log(observed_at)`,
	},
	insertSnap: `INSERT INTO snapshots (ts, sequence, patients, alerts, payload)
		VALUES ($1, $2, $3, $4, $5)`,
	pruneSnaps: `DELETE FROM snapshots WHERE id NOT IN (
		SELECT id FROM snapshots ORDER BY id DESC LIMIT $1)`,
	latestSnap: `SELECT payload::text FROM snapshots ORDER BY id DESC LIMIT 1`,
	insertAlert: `INSERT INTO alert_log (alert_id, patient_id, severity, issue, observed_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (alert_id) DO NOTHING`,
	recentAlerts: `SELECT to_char(observed_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'), payload::text
		FROM alert_log ORDER BY observed_at DESC LIMIT $1`,
}

func NewPostgres(dsn string, retain int) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/vitalwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, d: postgresDialect, retain: retain}, nil
}
