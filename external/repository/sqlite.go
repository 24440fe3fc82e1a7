package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/repository"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS plans (
	user_id TEXT PRIMARY KEY,
	morning_time TEXT NOT NULL,
	midday_time TEXT NOT NULL,
	evening_time TEXT NOT NULL,
	time_zone TEXT NOT NULL,
	channels TEXT NOT NULL,
	personality TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS call_outcomes (
	session_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	call_kind TEXT NOT NULL,
	cycle_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	status TEXT NOT NULL,
	classification TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT '',
	personality TEXT NOT NULL,
	turn_count INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at INTEGER NOT NULL,
	transcript TEXT NOT NULL,
	transcript_text TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	webhook_payload TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_outcomes_user ON call_outcomes (user_id, ended_at DESC);
CREATE INDEX IF NOT EXISTS idx_call_outcomes_cycle ON call_outcomes (cycle_id, attempt);
CREATE TABLE IF NOT EXISTS cycle_exhaustions (
	cycle_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	call_kind TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	last_classification TEXT NOT NULL,
	exhausted_at INTEGER NOT NULL
);
`

// SQLiteRepository is the single-node store used with sqlite:// database URLs.
// Instants are stored as unix milliseconds.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() {
	_ = r.db.Close()
}

func (r *SQLiteRepository) UpsertPlan(ctx context.Context, plan call.Plan) error {
	row, err := newPlanRow(plan)
	if err != nil {
		return err
	}
	now := r.now().UnixMilli()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO plans (user_id, morning_time, midday_time, evening_time, time_zone, channels, personality, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			morning_time = excluded.morning_time,
			midday_time = excluded.midday_time,
			evening_time = excluded.evening_time,
			time_zone = excluded.time_zone,
			channels = excluded.channels,
			personality = excluded.personality,
			updated_at = excluded.updated_at`,
		row.UserID, row.Morning, row.Midday, row.Evening, row.TimeZone, string(row.Channels), row.Personality, now, now)
	return err
}

func (r *SQLiteRepository) GetPlan(ctx context.Context, userID string) (*call.Plan, error) {
	var row planRow
	var channels string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, morning_time, midday_time, evening_time, time_zone, channels, personality
		 FROM plans WHERE user_id = ?`,
		userID).Scan(&row.UserID, &row.Morning, &row.Midday, &row.Evening, &row.TimeZone, &channels, &row.Personality)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan row: %w", err)
	}
	row.Channels = []byte(channels)
	p, err := row.plan()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SQLiteRepository) ListPlans(ctx context.Context) ([]call.Plan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, morning_time, midday_time, evening_time, time_zone, channels, personality
		 FROM plans ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []call.Plan
	for rows.Next() {
		var row planRow
		var channels string
		if err := rows.Scan(&row.UserID, &row.Morning, &row.Midday, &row.Evening, &row.TimeZone, &channels, &row.Personality); err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		row.Channels = []byte(channels)
		p, err := row.plan()
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) DeletePlan(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM plans WHERE user_id = ?`, userID)
	return err
}

func (r *SQLiteRepository) SaveOutcome(ctx context.Context, input repository.SaveOutcomeInput) error {
	row, err := newOutcomeRow(input.Outcome)
	if err != nil {
		return err
	}
	var payload any
	if len(input.WebhookPayloadJSON) > 0 {
		payload = string(input.WebhookPayloadJSON)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO call_outcomes (session_id, user_id, call_kind, cycle_id, attempt, status, classification,
			reason, channel, personality, turn_count, started_at, ended_at, transcript, transcript_text, detail,
			webhook_payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		row.SessionID, row.UserID, row.Kind, row.CycleID, row.Attempt, row.Status, row.Classification,
		row.Reason, row.Channel, row.Personality, row.TurnCount, row.StartedAt.UnixMilli(), row.EndedAt.UnixMilli(),
		string(row.Transcript), input.TranscriptText, row.Detail, payload, r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert outcome %s: %w", row.SessionID, err)
	}
	return nil
}

func (r *SQLiteRepository) ListOutcomesByUser(ctx context.Context, userID string, limit int) ([]call.Outcome, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, user_id, call_kind, cycle_id, attempt, status, classification, reason, channel,
			personality, turn_count, started_at, ended_at, transcript, detail
		 FROM call_outcomes WHERE user_id = ? ORDER BY ended_at DESC LIMIT ?`,
		userID, repository.NormalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []call.Outcome
	for rows.Next() {
		var row outcomeRow
		var startedAt, endedAt int64
		var transcript string
		if err := rows.Scan(&row.SessionID, &row.UserID, &row.Kind, &row.CycleID, &row.Attempt, &row.Status,
			&row.Classification, &row.Reason, &row.Channel, &row.Personality, &row.TurnCount,
			&startedAt, &endedAt, &transcript, &row.Detail); err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		row.StartedAt = time.UnixMilli(startedAt).UTC()
		row.EndedAt = time.UnixMilli(endedAt).UTC()
		row.Transcript = []byte(transcript)
		o, err := row.outcome()
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) SaveExhaustion(ctx context.Context, ex call.CycleExhaustion) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cycle_exhaustions (cycle_id, user_id, call_kind, attempts, last_classification, exhausted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cycle_id) DO NOTHING`,
		ex.CycleID, ex.UserID, string(ex.Kind), ex.Attempts, string(ex.LastClassification), ex.At.UnixMilli())
	return err
}
