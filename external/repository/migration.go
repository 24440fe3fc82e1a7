package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS plans (
		user_id TEXT PRIMARY KEY,
		morning_time TEXT NOT NULL,
		midday_time TEXT NOT NULL,
		evening_time TEXT NOT NULL,
		time_zone TEXT NOT NULL,
		channels JSONB NOT NULL,
		personality TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS call_outcomes (
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
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL,
		transcript JSONB NOT NULL,
		transcript_text TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		webhook_payload JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_outcomes_user ON call_outcomes (user_id, ended_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_call_outcomes_cycle ON call_outcomes (cycle_id, attempt)`,
	`CREATE TABLE IF NOT EXISTS cycle_exhaustions (
		cycle_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		call_kind TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		last_classification TEXT NOT NULL,
		exhausted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cycle_exhaustions_user ON cycle_exhaustions (user_id, exhausted_at DESC)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
