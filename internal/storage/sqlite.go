package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			patients INTEGER NOT NULL,
			alerts INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alert_log (
			alert_id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			issue TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_log_observed ON alert_log(observed_at)`,
	},
	insertSnap: `INSERT INTO snapshots (ts, sequence, patients, alerts, payload)
		VALUES (?, ?, ?, ?, ?)`,
	pruneSnaps: `DELETE FROM snapshots WHERE id NOT IN (
		SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
	latestSnap: `SELECT payload FROM snapshots ORDER BY id DESC LIMIT 1`,
	insertAlert: `INSERT OR IGNORE INTO alert_log (alert_id, patient_id, severity, issue, observed_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
	recentAlerts: `SELECT observed_at, payload FROM alert_log ORDER BY observed_at DESC LIMIT ?`,
}

func NewSQLite(dsn string, retain int) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:vitalwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// modernc serialises writers; one connection avoids SQLITE_BUSY under
	// the archive hook and the alert logger writing at once.
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, d: sqliteDialect, retain: retain}, nil
}
