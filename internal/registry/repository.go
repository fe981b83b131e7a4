package registry

import (
	"context"
	"time"
)

// Repository defines the interface for push token persistence.
type Repository interface {
	// Get retrieves the token record for an activity.
	Get(ctx context.Context, activityID string) (*TokenRecord, error)

	// Upsert creates or updates the token record for an activity.
	Upsert(ctx context.Context, record *TokenRecord) error

	// Delete removes the token record for an activity.
	Delete(ctx context.Context, activityID string) error

	// DeleteStale removes token records not updated since the cutoff.
	// Returns the number of records removed.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}
