package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LiveActivityTopicSuffix is appended to a bundle ID to form the push topic
// for live activity notifications.
const LiveActivityTopicSuffix = ".push-type.liveactivity"

// Validation errors.
var (
	ErrMissingToken      = errors.New("push token is required")
	ErrMissingActivityID = errors.New("activity id is required")
)

// ServiceConfig holds configuration for the registry service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// DefaultBundleID is used when a registration omits the bundle ID.
	DefaultBundleID string

	// Topic overrides bundle-derived topics when it already carries the
	// live activity suffix.
	Topic string
}

// Service provides push token registration and resolution.
type Service struct {
	repo            Repository
	logger          zerolog.Logger
	defaultBundleID string
	topic           string
}

// NewService creates a new registry service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:            cfg.Repository,
		logger:          cfg.Logger,
		defaultBundleID: cfg.DefaultBundleID,
		topic:           cfg.Topic,
	}
}

// RegisterInput is a token registration request.
type RegisterInput struct {
	Token       string
	ActivityID  string
	UserID      string
	BundleID    string
	Environment Environment
}

// Register persists a token record for an activity.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*TokenRecord, error) {
	if input.Token == "" {
		return nil, ErrMissingToken
	}
	if input.ActivityID == "" {
		return nil, ErrMissingActivityID
	}

	record := &TokenRecord{
		ActivityID:  input.ActivityID,
		UserID:      input.UserID,
		PushToken:   input.Token,
		BundleID:    input.BundleID,
		Environment: input.Environment,
	}
	if record.BundleID == "" {
		record.BundleID = s.defaultBundleID
	}
	if record.Environment == "" {
		record.Environment = EnvironmentDevelopment
	}

	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("activity_id", record.ActivityID).
		Str("token_last4", record.TokenLast4()).
		Str("environment", string(record.Environment)).
		Msg("push token registered")

	return record, nil
}

// Resolve returns the token record for an activity, or nil when none is
// registered. A missing token is not an error; it means the activity has no
// deliverable surface yet.
func (s *Service) Resolve(ctx context.Context, activityID string) (*TokenRecord, error) {
	record, err := s.repo.Get(ctx, activityID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// Remove deletes the token record for an activity. Missing records are
// ignored; stop cleanup races with activity teardown.
func (s *Service) Remove(ctx context.Context, activityID string) error {
	err := s.repo.Delete(ctx, activityID)
	if err != nil && !errors.Is(err, ErrTokenNotFound) {
		return err
	}
	return nil
}

// Topic returns the push topic for a token record: the configured topic
// when it already names the live activity push type, otherwise the
// record's bundle ID with the live activity suffix.
func (s *Service) Topic(record *TokenRecord) string {
	if strings.Contains(s.topic, LiveActivityTopicSuffix) {
		return s.topic
	}
	if record != nil && record.BundleID != "" {
		return record.BundleID + LiveActivityTopicSuffix
	}
	return s.topic
}

// SweepStale removes token records not updated within maxAge.
func (s *Service) SweepStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	removed, err := s.repo.DeleteStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("stale push tokens removed")
	}
	return removed, nil
}
