package registry

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL token repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves the token record for an activity.
func (r *PostgresRepository) Get(ctx context.Context, activityID string) (*TokenRecord, error) {
	query := `
		SELECT activity_id, user_id, push_token, bundle_id, environment, created_at, updated_at
		FROM activity_push_tokens
		WHERE activity_id = $1
	`

	var record TokenRecord
	err := r.pool.QueryRow(ctx, query, activityID).Scan(
		&record.ActivityID,
		&record.UserID,
		&record.PushToken,
		&record.BundleID,
		&record.Environment,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	return &record, nil
}

// Upsert creates or updates the token record for an activity.
func (r *PostgresRepository) Upsert(ctx context.Context, record *TokenRecord) error {
	query := `
		INSERT INTO activity_push_tokens (activity_id, user_id, push_token, bundle_id, environment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (activity_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			push_token = EXCLUDED.push_token,
			bundle_id = EXCLUDED.bundle_id,
			environment = EXCLUDED.environment,
			updated_at = now()
	`

	_, err := r.pool.Exec(ctx, query,
		record.ActivityID,
		record.UserID,
		record.PushToken,
		record.BundleID,
		record.Environment,
	)
	return err
}

// Delete removes the token record for an activity.
func (r *PostgresRepository) Delete(ctx context.Context, activityID string) error {
	query := `DELETE FROM activity_push_tokens WHERE activity_id = $1`

	tag, err := r.pool.Exec(ctx, query, activityID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// DeleteStale removes token records not updated since the cutoff.
func (r *PostgresRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM activity_push_tokens WHERE updated_at < $1`

	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
