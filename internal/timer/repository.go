package timer

import "context"

// Repository defines the interface for timer record persistence. The store
// is multi-writer; callers re-read records instead of caching them across
// suspension points.
type Repository interface {
	// Get retrieves the active timer record for a user.
	Get(ctx context.Context, userID string) (*TimerRecord, error)

	// GetByActivity retrieves the timer record owning an activity.
	GetByActivity(ctx context.Context, activityID string) (*TimerRecord, error)

	// Upsert creates or replaces the timer record for a user.
	Upsert(ctx context.Context, record *TimerRecord) error

	// MarkStopped sets the record's action to stop.
	MarkStopped(ctx context.Context, userID string) error

	// Delete removes the timer record for a user.
	Delete(ctx context.Context, userID string) error
}
