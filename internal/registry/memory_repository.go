package registry

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu     sync.RWMutex
	tokens map[string]*TokenRecord
}

// NewInMemoryRepository creates a new in-memory token repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		tokens: make(map[string]*TokenRecord),
	}
}

// Get retrieves the token record for an activity.
func (r *InMemoryRepository) Get(_ context.Context, activityID string) (*TokenRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tokens[activityID]
	if !ok {
		return nil, ErrTokenNotFound
	}

	cpy := *rec
	return &cpy, nil
}

// Upsert creates or updates the token record for an activity.
func (r *InMemoryRepository) Upsert(_ context.Context, record *TokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cpy := *record
	if existing, ok := r.tokens[record.ActivityID]; ok {
		cpy.CreatedAt = existing.CreatedAt
	} else {
		cpy.CreatedAt = now
	}
	cpy.UpdatedAt = now
	r.tokens[record.ActivityID] = &cpy
	return nil
}

// SetForTest stores a record verbatim, without touching timestamps.
func (r *InMemoryRepository) SetForTest(record *TokenRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *record
	r.tokens[record.ActivityID] = &cpy
}

// Delete removes the token record for an activity.
func (r *InMemoryRepository) Delete(_ context.Context, activityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[activityID]; !ok {
		return ErrTokenNotFound
	}
	delete(r.tokens, activityID)
	return nil
}

// DeleteStale removes token records not updated since the cutoff.
func (r *InMemoryRepository) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, rec := range r.tokens {
		if rec.UpdatedAt.Before(cutoff) {
			delete(r.tokens, id)
			removed++
		}
	}
	return removed, nil
}
