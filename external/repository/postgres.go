package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) UpsertPlan(ctx context.Context, plan call.Plan) error {
	row, err := newPlanRow(plan)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO plans (user_id, morning_time, midday_time, evening_time, time_zone, channels, personality)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
			morning_time = EXCLUDED.morning_time,
			midday_time = EXCLUDED.midday_time,
			evening_time = EXCLUDED.evening_time,
			time_zone = EXCLUDED.time_zone,
			channels = EXCLUDED.channels,
			personality = EXCLUDED.personality,
			updated_at = NOW()`,
		row.UserID, row.Morning, row.Midday, row.Evening, row.TimeZone, row.Channels, row.Personality)
	return err
}

func (r *PostgresRepository) GetPlan(ctx context.Context, userID string) (*call.Plan, error) {
	var row planRow
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, morning_time, midday_time, evening_time, time_zone, channels, personality
		 FROM plans WHERE user_id = $1`,
		userID).Scan(&row.UserID, &row.Morning, &row.Midday, &row.Evening, &row.TimeZone, &row.Channels, &row.Personality)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p, err := row.plan()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) ListPlans(ctx context.Context) ([]call.Plan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, morning_time, midday_time, evening_time, time_zone, channels, personality
		 FROM plans ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []call.Plan
	for rows.Next() {
		var row planRow
		if err := rows.Scan(&row.UserID, &row.Morning, &row.Midday, &row.Evening, &row.TimeZone, &row.Channels, &row.Personality); err != nil {
			return nil, err
		}
		p, err := row.plan()
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) DeletePlan(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM plans WHERE user_id = $1`, userID)
	return err
}

func (r *PostgresRepository) SaveOutcome(ctx context.Context, input repository.SaveOutcomeInput) error {
	row, err := newOutcomeRow(input.Outcome)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO call_outcomes (session_id, user_id, call_kind, cycle_id, attempt, status, classification,
			reason, channel, personality, turn_count, started_at, ended_at, transcript, transcript_text, detail, webhook_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (session_id) DO NOTHING`,
		row.SessionID, row.UserID, row.Kind, row.CycleID, row.Attempt, row.Status, row.Classification,
		row.Reason, row.Channel, row.Personality, row.TurnCount, row.StartedAt, row.EndedAt, row.Transcript,
		input.TranscriptText, row.Detail, nullableJSON(input.WebhookPayloadJSON))
	if err != nil {
		return fmt.Errorf("failed to insert outcome %s: %w", row.SessionID, err)
	}
	return nil
}

func (r *PostgresRepository) ListOutcomesByUser(ctx context.Context, userID string, limit int) ([]call.Outcome, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, user_id, call_kind, cycle_id, attempt, status, classification, reason, channel,
			personality, turn_count, started_at, ended_at, transcript, detail
		 FROM call_outcomes WHERE user_id = $1 ORDER BY ended_at DESC LIMIT $2`,
		userID, repository.NormalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []call.Outcome
	for rows.Next() {
		var row outcomeRow
		if err := rows.Scan(&row.SessionID, &row.UserID, &row.Kind, &row.CycleID, &row.Attempt, &row.Status,
			&row.Classification, &row.Reason, &row.Channel, &row.Personality, &row.TurnCount,
			&row.StartedAt, &row.EndedAt, &row.Transcript, &row.Detail); err != nil {
			return nil, err
		}
		o, err := row.outcome()
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) SaveExhaustion(ctx context.Context, ex call.CycleExhaustion) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO cycle_exhaustions (cycle_id, user_id, call_kind, attempts, last_classification, exhausted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (cycle_id) DO NOTHING`,
		ex.CycleID, ex.UserID, string(ex.Kind), ex.Attempts, string(ex.LastClassification), ex.At.UTC())
	return err
}
