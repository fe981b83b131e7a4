package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pacelight/pacelight/internal/timeconv"
)

// Service errors.
var (
	ErrUnknownAction = errors.New("unknown timer action")
	ErrNoActiveTimer = errors.New("no active timer for user")
)

// ServiceConfig wires the timer service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Service applies commanded actions to the per-user timer record. Every
// mutation goes through the Raw document so persistence stays lossless
// across both content-state schemas.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a timer service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: cfg.Repository, logger: cfg.Logger, now: now}
}

// ApplyInput is one commanded action.
type ApplyInput struct {
	UserID     string
	ActivityID string
	Action     Action

	// ContentState replaces the stored state on start; ignored otherwise.
	ContentState map[string]any
}

// Apply executes the action and returns the before and after snapshots so
// the caller can feed them through change detection.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (before, after *TimerRecord, err error) {
	before, err = s.repo.Get(ctx, in.UserID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("reading timer record: %w", err)
	}

	switch in.Action {
	case ActionStart:
		after, err = s.start(ctx, in)
	case ActionPause:
		after, err = s.pause(ctx, before)
	case ActionResume:
		after, err = s.resume(ctx, before)
	case ActionStop:
		after, err = s.stop(ctx, before)
	default:
		return nil, nil, ErrUnknownAction
	}
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

func (s *Service) start(ctx context.Context, in ApplyInput) (*TimerRecord, error) {
	raw := in.ContentState
	if raw == nil {
		raw = map[string]any{
			"startedAt":   s.now().UTC().Format(time.RFC3339),
			"duration":    0.0,
			"sessionType": string(SessionCountup),
		}
	}

	record := &TimerRecord{
		UserID:     in.UserID,
		ActivityID: in.ActivityID,
		Action:     ActionStart,
		State:      DecodeContentState(raw),
		UpdatedAt:  s.now(),
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("storing timer record: %w", err)
	}
	return record, nil
}

func (s *Service) pause(ctx context.Context, before *TimerRecord) (*TimerRecord, error) {
	if before == nil {
		return nil, ErrNoActiveTimer
	}

	raw := cloneRaw(before.State)
	if _, ok := raw["startedAt"]; ok {
		raw["pausedAt"] = s.now().UTC().Format(time.RFC3339)
	} else {
		raw["isPaused"] = true
	}

	after := *before
	after.Action = ActionPause
	after.State = DecodeContentState(raw)
	after.UpdatedAt = s.now()
	if err := s.repo.Upsert(ctx, &after); err != nil {
		return nil, fmt.Errorf("storing timer record: %w", err)
	}
	return &after, nil
}

// resume clears the pause and shifts startedAt forward by the paused
// duration, so elapsed time excludes the pause without tracking a
// separate counter.
func (s *Service) resume(ctx context.Context, before *TimerRecord) (*TimerRecord, error) {
	if before == nil {
		return nil, ErrNoActiveTimer
	}

	raw := cloneRaw(before.State)
	if _, ok := raw["startedAt"]; ok {
		now := s.now()
		startedAt, startOK := timeconv.Normalize(raw["startedAt"])
		pausedAt, pauseOK := timeconv.Normalize(raw["pausedAt"])
		if startOK && pauseOK && pausedAt.After(startedAt) {
			shifted := startedAt.Add(now.Sub(pausedAt))
			raw["startedAt"] = shifted.UTC().Format(time.RFC3339)
		}
		delete(raw, "pausedAt")
	} else {
		raw["isPaused"] = false
	}

	after := *before
	after.Action = ActionResume
	after.State = DecodeContentState(raw)
	after.UpdatedAt = s.now()
	if err := s.repo.Upsert(ctx, &after); err != nil {
		return nil, fmt.Errorf("storing timer record: %w", err)
	}
	return &after, nil
}

func (s *Service) stop(ctx context.Context, before *TimerRecord) (*TimerRecord, error) {
	if before == nil {
		return nil, ErrNoActiveTimer
	}

	if err := s.repo.MarkStopped(ctx, before.UserID); err != nil {
		return nil, fmt.Errorf("marking timer record stopped: %w", err)
	}

	after := *before
	after.Action = ActionStop
	after.UpdatedAt = s.now()
	return &after, nil
}

func cloneRaw(state *ContentState) map[string]any {
	raw := make(map[string]any)
	if state != nil {
		for k, v := range state.Raw {
			raw[k] = v
		}
	}
	return raw
}
