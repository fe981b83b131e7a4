package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL timer repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves the active timer record for a user.
func (r *PostgresRepository) Get(ctx context.Context, userID string) (*TimerRecord, error) {
	query := `
		SELECT user_id, activity_id, action, content_state, last_push_update, updated_at
		FROM active_timers
		WHERE user_id = $1
	`
	return r.scanRecord(ctx, query, userID)
}

// GetByActivity retrieves the timer record owning an activity.
func (r *PostgresRepository) GetByActivity(ctx context.Context, activityID string) (*TimerRecord, error) {
	query := `
		SELECT user_id, activity_id, action, content_state, last_push_update, updated_at
		FROM active_timers
		WHERE activity_id = $1
	`
	return r.scanRecord(ctx, query, activityID)
}

func (r *PostgresRepository) scanRecord(ctx context.Context, query string, arg any) (*TimerRecord, error) {
	var (
		record   TimerRecord
		stateRaw []byte
	)

	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&record.UserID,
		&record.ActivityID,
		&record.Action,
		&stateRaw,
		&record.LastPushUpdate,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	state, err := DecodeContentStateJSON(stateRaw)
	if err != nil {
		return nil, fmt.Errorf("decode content state: %w", err)
	}
	record.State = state

	return &record, nil
}

// Upsert creates or replaces the timer record for a user.
func (r *PostgresRepository) Upsert(ctx context.Context, record *TimerRecord) error {
	var stateRaw []byte
	if record.State != nil && record.State.Raw != nil {
		encoded, err := json.Marshal(record.State.Raw)
		if err != nil {
			return fmt.Errorf("encode content state: %w", err)
		}
		stateRaw = encoded
	}

	query := `
		INSERT INTO active_timers (user_id, activity_id, action, content_state, last_push_update, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id) DO UPDATE SET
			activity_id = EXCLUDED.activity_id,
			action = EXCLUDED.action,
			content_state = EXCLUDED.content_state,
			last_push_update = EXCLUDED.last_push_update,
			updated_at = now()
	`

	_, err := r.pool.Exec(ctx, query,
		record.UserID,
		record.ActivityID,
		record.Action,
		stateRaw,
		record.LastPushUpdate,
	)
	return err
}

// MarkStopped sets the record's action to stop.
func (r *PostgresRepository) MarkStopped(ctx context.Context, userID string) error {
	query := `
		UPDATE active_timers
		SET action = $2, updated_at = now()
		WHERE user_id = $1
	`

	tag, err := r.pool.Exec(ctx, query, userID, ActionStop)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes the timer record for a user.
func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	query := `DELETE FROM active_timers WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}
