// Package history persists dose events and calibration log entries in a
// local SQLite database so dashboards survive a process restart.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openhydro/hydrozone/internal/model"
)

// doseCap bounds how many dose events are retained.
const doseCap = 500

const schema = `
CREATE TABLE IF NOT EXISTS dose_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	ts           INTEGER NOT NULL,
	dose_type    TEXT    NOT NULL,
	amount_ml    REAL    NOT NULL,
	duration_sec REAL    NOT NULL,
	triggered_by TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS calibration_log (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	probe   TEXT    NOT NULL,
	level   TEXT    NOT NULL,
	outcome TEXT    NOT NULL,
	message TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dose_events_ts ON dose_events(ts);
CREATE INDEX IF NOT EXISTS idx_calibration_probe ON calibration_log(probe, ts);
`

// Store is a SQLite-backed event store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordDose appends a dose event and trims the table to its cap.
func (s *Store) RecordDose(event model.DoseEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO dose_events (ts, dose_type, amount_ml, duration_sec, triggered_by) VALUES (?, ?, ?, ?, ?)`,
		event.Time.Unix(), string(event.Type), event.AmountML, event.DurationSec, string(event.TriggeredBy),
	)
	if err != nil {
		return fmt.Errorf("record dose: %w", err)
	}
	_, err = s.db.Exec(
		`DELETE FROM dose_events WHERE id NOT IN (SELECT id FROM dose_events ORDER BY id DESC LIMIT ?)`,
		doseCap,
	)
	if err != nil {
		return fmt.Errorf("trim dose events: %w", err)
	}
	return nil
}

// RecentDoses returns up to limit events, newest first.
func (s *Store) RecentDoses(limit int) ([]model.DoseEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT ts, dose_type, amount_ml, duration_sec, triggered_by FROM dose_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query dose events: %w", err)
	}
	defer rows.Close()

	var out []model.DoseEvent
	for rows.Next() {
		var (
			ts                    int64
			typ, trigger          string
			amount, durationSec   float64
		)
		if err := rows.Scan(&ts, &typ, &amount, &durationSec, &trigger); err != nil {
			return nil, fmt.Errorf("scan dose event: %w", err)
		}
		out = append(out, model.DoseEvent{
			Time:        time.Unix(ts, 0),
			Type:        model.DoseType(typ),
			AmountML:    amount,
			DurationSec: durationSec,
			TriggeredBy: model.DoseTrigger(trigger),
		})
	}
	return out, rows.Err()
}

// RecordCalibration appends a calibration log entry.
func (s *Store) RecordCalibration(probe model.Probe, entry model.CalibrationLogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO calibration_log (ts, probe, level, outcome, message) VALUES (?, ?, ?, ?, ?)`,
		entry.Time.Unix(), string(probe), entry.Level, string(entry.Outcome), entry.Message,
	)
	if err != nil {
		return fmt.Errorf("record calibration: %w", err)
	}
	return nil
}

// CalibrationLog returns up to limit entries for one probe, newest first.
func (s *Store) CalibrationLog(probe model.Probe, limit int) ([]model.CalibrationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT ts, level, outcome, message FROM calibration_log WHERE probe = ? ORDER BY id DESC LIMIT ?`,
		string(probe), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query calibration log: %w", err)
	}
	defer rows.Close()

	var out []model.CalibrationLogEntry
	for rows.Next() {
		var (
			ts               int64
			level, outcome   string
			message          string
		)
		if err := rows.Scan(&ts, &level, &outcome, &message); err != nil {
			return nil, fmt.Errorf("scan calibration entry: %w", err)
		}
		out = append(out, model.CalibrationLogEntry{
			Time:    time.Unix(ts, 0),
			Level:   level,
			Outcome: model.CalibrationOutcome(outcome),
			Message: message,
		})
	}
	return out, rows.Err()
}
