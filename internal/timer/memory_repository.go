package timer

import (
	"context"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*TimerRecord
}

// NewInMemoryRepository creates a new in-memory timer repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*TimerRecord),
	}
}

// Get retrieves the active timer record for a user.
func (r *InMemoryRepository) Get(_ context.Context, userID string) (*TimerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}

	cpy := *rec
	return &cpy, nil
}

// GetByActivity retrieves the timer record owning an activity.
func (r *InMemoryRepository) GetByActivity(_ context.Context, activityID string) (*TimerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.ActivityID == activityID {
			cpy := *rec
			return &cpy, nil
		}
	}
	return nil, ErrRecordNotFound
}

// Upsert creates or replaces the timer record for a user.
func (r *InMemoryRepository) Upsert(_ context.Context, record *TimerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *record
	r.records[record.UserID] = &cpy
	return nil
}

// MarkStopped sets the record's action to stop.
func (r *InMemoryRepository) MarkStopped(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Action = ActionStop
	return nil
}

// Delete removes the timer record for a user.
func (r *InMemoryRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[userID]; !ok {
		return ErrRecordNotFound
	}
	delete(r.records, userID)
	return nil
}
