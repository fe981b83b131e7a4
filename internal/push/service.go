package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pacelight/pacelight/internal/apns"
	"github.com/pacelight/pacelight/internal/registry"
	"github.com/pacelight/pacelight/internal/timer"
)

// Service errors surfaced to direct callers.
var (
	ErrMissingActivityID = errors.New("activity id is required")
	ErrNoPushToken       = errors.New("no push token registered for activity")
)

// expirationWindow is how long the gateway may hold an undeliverable push.
const expirationWindow = time.Hour

// Deliverer is the gateway client surface the orchestrator needs.
type Deliverer interface {
	Deliver(ctx context.Context, d apns.Delivery) (*apns.Result, error)
}

// ServiceConfig wires the orchestrator's collaborators.
type ServiceConfig struct {
	Timers     timer.Repository
	Registry   *registry.Service
	Client     Deliverer
	Translator *Translator
	Dedup      *DedupGuard
	Priority   *PriorityPolicy
	Logger     zerolog.Logger
	Now        func() time.Time

	// Metrics is optional; nil disables delivery instrumentation.
	Metrics *DeliveryMetrics
}

// Service runs the delivery pipeline: classify the transition, suppress
// duplicates, translate the record, resolve the token, assign priority,
// deliver, and act on the classified outcome. The trigger path and the
// synchronous direct path share it.
type Service struct {
	timers     timer.Repository
	registry   *registry.Service
	client     Deliverer
	translator *Translator
	dedup      *DedupGuard
	priority   *PriorityPolicy
	logger     zerolog.Logger
	now        func() time.Time
	metrics    *DeliveryMetrics
}

// NewService creates the orchestrator.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	translator := cfg.Translator
	if translator == nil {
		translator = NewTranslator(cfg.Logger, now)
	}
	dedup := cfg.Dedup
	if dedup == nil {
		dedup = NewDedupGuard(0, now)
	}
	priority := cfg.Priority
	if priority == nil {
		priority = NewPriorityPolicy()
	}
	return &Service{
		timers:     cfg.Timers,
		registry:   cfg.Registry,
		client:     cfg.Client,
		translator: translator,
		dedup:      dedup,
		priority:   priority,
		logger:     cfg.Logger,
		now:        now,
		metrics:    cfg.Metrics,
	}
}

// ChangeOutcome reports what HandleChange did with a record transition.
type ChangeOutcome struct {
	Event     timer.Event
	Delivered bool
	Skipped   string
	Result    *apns.Result
}

// HandleChange runs the pipeline for one store write, given the before
// and after snapshots. Non-significant and duplicate transitions
// short-circuit without delivery. Failures are logged and returned but
// must not crash the trigger host; the caller decides whether to ack.
func (s *Service) HandleChange(ctx context.Context, before, after *timer.TimerRecord) (*ChangeOutcome, error) {
	event, significant := timer.DetectChange(before, after)
	if !significant {
		return &ChangeOutcome{Event: event, Skipped: "not significant"}, nil
	}

	record := after
	if record == nil {
		record = before
	}
	activityID := record.ActivityID
	log := s.logger.With().Str("activity_id", activityID).Str("event", string(event)).Logger()

	if !s.dedup.Admit(activityID, event) {
		s.metrics.RecordSuppressed(event)
		log.Debug().Msg("duplicate trigger suppressed")
		return &ChangeOutcome{Event: event, Skipped: "duplicate"}, nil
	}

	tokenRecord, err := s.registry.Resolve(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("resolving push token: %w", err)
	}
	if tokenRecord == nil {
		log.Debug().Msg("no push token registered, skipping delivery")
		s.finishIfTerminal(ctx, activityID, event, log)
		return &ChangeOutcome{Event: event, Skipped: "no token"}, nil
	}

	var dismissal *time.Time
	if event == timer.EventStop {
		d := s.now().Add(completionHorizon)
		dismissal = &d
	}

	payload := s.translator.Payload(TranslateInput{
		ActivityID:    activityID,
		State:         record.State,
		Event:         event,
		DismissalDate: dismissal,
	})

	result, err := s.deliver(ctx, tokenRecord, payload, event, true, "")
	s.finishIfTerminal(ctx, activityID, event, log)
	if err != nil {
		s.handleDeliveryError(ctx, tokenRecord, err, log)
		return &ChangeOutcome{Event: event}, err
	}

	log.Info().
		Str("environment", string(result.Environment)).
		Msg("live activity update delivered")
	return &ChangeOutcome{Event: event, Delivered: true, Result: result}, nil
}

// DirectUpdate is a synchronous "send update" request. When PushToken is
// empty it is resolved from the registry.
type DirectUpdate struct {
	ActivityID            string
	State                 *timer.ContentState
	PushToken             string
	DismissalDate         *time.Time
	RelevanceScore        *float64
	Alert                 *apns.Alert
	TopicOverride         string
	FrequentPushesEnabled bool
}

// UpdateResult reports a successful direct delivery.
type UpdateResult struct {
	ActivityID  string
	Environment string
	Host        string
}

// SendUpdate runs the pipeline without transition detection: the caller
// already decided an update should go out.
func (s *Service) SendUpdate(ctx context.Context, req DirectUpdate) (*UpdateResult, error) {
	if req.ActivityID == "" {
		return nil, ErrMissingActivityID
	}

	log := s.logger.With().Str("activity_id", req.ActivityID).Logger()

	tokenRecord, err := s.registry.Resolve(ctx, req.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("resolving push token: %w", err)
	}
	if tokenRecord == nil {
		if req.PushToken == "" {
			return nil, ErrNoPushToken
		}
		tokenRecord = &registry.TokenRecord{
			ActivityID: req.ActivityID,
			PushToken:  req.PushToken,
		}
	} else if req.PushToken != "" {
		tokenRecord.PushToken = req.PushToken
	}

	event := s.classifyDirect(ctx, req)

	payload := s.translator.Payload(TranslateInput{
		ActivityID:     req.ActivityID,
		State:          req.State,
		Event:          event,
		DismissalDate:  req.DismissalDate,
		RelevanceScore: req.RelevanceScore,
		Alert:          req.Alert,
	})

	result, err := s.deliver(ctx, tokenRecord, payload, event, req.FrequentPushesEnabled, req.TopicOverride)
	if err != nil {
		s.handleDeliveryError(ctx, tokenRecord, err, log)
		return nil, err
	}

	log.Info().
		Str("environment", string(result.Environment)).
		Msg("direct update delivered")
	return &UpdateResult{
		ActivityID:  req.ActivityID,
		Environment: string(result.Environment),
		Host:        result.Host,
	}, nil
}

// classifyDirect maps a direct update onto a timer event. An explicit
// event hint in the content state wins; otherwise the pause-state flip
// against the client's _wasPaused marker classifies pause and resume.
// Legacy states carry no markers, so those fall back to comparing the
// incoming pause flag with the stored record.
func (s *Service) classifyDirect(ctx context.Context, req DirectUpdate) timer.Event {
	state := req.State
	if state.Completed() {
		return timer.EventComplete
	}
	if hint := eventHint(state); hint != timer.EventNone {
		return hint
	}

	paused := state.Paused()
	if state != nil && state.Schema == timer.SchemaCurrent && state.Current != nil {
		if paused && !state.Current.WasPaused {
			return timer.EventPause
		}
		if !paused && state.Current.WasPaused {
			return timer.EventResume
		}
		return timer.EventUpdate
	}

	if s.timers != nil {
		stored, err := s.timers.GetByActivity(ctx, req.ActivityID)
		if err == nil && stored != nil {
			wasPaused := stored.State.Paused()
			if paused && !wasPaused {
				return timer.EventPause
			}
			if !paused && wasPaused {
				return timer.EventResume
			}
		}
	}
	return timer.EventUpdate
}

// eventHint extracts the transient event marker clients may attach to a
// content state. Unknown values are ignored.
func eventHint(state *timer.ContentState) timer.Event {
	if state == nil {
		return timer.EventNone
	}
	var hint string
	if state.Schema == timer.SchemaCurrent && state.Current != nil {
		hint = state.Current.Event
	} else if state.Raw != nil {
		hint, _ = state.Raw["event"].(string)
	}
	switch ev := timer.Event(hint); ev {
	case timer.EventStart, timer.EventPause, timer.EventResume,
		timer.EventStop, timer.EventComplete, timer.EventUpdate:
		return ev
	}
	return timer.EventNone
}

// CompleteActivity emits the completion payload for a countdown that
// reached zero, marks the record stopped, and tears down the activity's
// delivery state. Used by the periodic monitor.
func (s *Service) CompleteActivity(ctx context.Context, record *timer.TimerRecord) error {
	log := s.logger.With().Str("activity_id", record.ActivityID).Logger()

	state := completedState(record.State)

	tokenRecord, err := s.registry.Resolve(ctx, record.ActivityID)
	if err != nil {
		return fmt.Errorf("resolving push token: %w", err)
	}

	if tokenRecord != nil {
		payload := s.translator.Payload(TranslateInput{
			ActivityID: record.ActivityID,
			State:      state,
			Event:      timer.EventComplete,
		})
		if _, err := s.deliver(ctx, tokenRecord, payload, timer.EventComplete, true, ""); err != nil {
			s.handleDeliveryError(ctx, tokenRecord, err, log)
		} else {
			log.Info().Msg("completion delivered")
		}
	}

	if err := s.timers.MarkStopped(ctx, record.UserID); err != nil && !errors.Is(err, timer.ErrRecordNotFound) {
		log.Warn().Err(err).Msg("marking timer record stopped")
	}
	s.finishIfTerminal(ctx, record.ActivityID, timer.EventComplete, log)
	return nil
}

// RefreshActivity pushes the current state of a running session without a
// detected transition, at routine priority. Used by the periodic monitor.
func (s *Service) RefreshActivity(ctx context.Context, record *timer.TimerRecord) error {
	tokenRecord, err := s.registry.Resolve(ctx, record.ActivityID)
	if err != nil {
		return fmt.Errorf("resolving push token: %w", err)
	}
	if tokenRecord == nil {
		return ErrNoPushToken
	}

	payload := s.translator.Payload(TranslateInput{
		ActivityID: record.ActivityID,
		State:      record.State,
		Event:      timer.EventUpdate,
	})

	if _, err := s.deliver(ctx, tokenRecord, payload, timer.EventUpdate, true, ""); err != nil {
		log := s.logger.With().Str("activity_id", record.ActivityID).Logger()
		s.handleDeliveryError(ctx, tokenRecord, err, log)
		return err
	}
	return nil
}

// completedState returns a copy of the state with the completion flag set,
// leaving the stored record untouched.
func completedState(state *timer.ContentState) *timer.ContentState {
	if state == nil || state.Schema != timer.SchemaCurrent || state.Current == nil {
		return state
	}
	cur := *state.Current
	cur.IsCompleted = true
	cur.PausedAt = nil
	return &timer.ContentState{Schema: timer.SchemaCurrent, Current: &cur, Raw: state.Raw}
}

func (s *Service) deliver(ctx context.Context, tokenRecord *registry.TokenRecord, payload apns.Payload, event timer.Event, frequentPushes bool, topicOverride string) (*apns.Result, error) {
	topic := topicOverride
	if topic == "" {
		topic = s.registry.Topic(tokenRecord)
	}
	priority := s.priority.Assign(tokenRecord.ActivityID, event, frequentPushes)

	start := time.Now()
	result, err := s.client.Deliver(ctx, apns.Delivery{
		Token:      tokenRecord.PushToken,
		Topic:      topic,
		Payload:    payload,
		Priority:   priority,
		Expiration: s.now().Add(expirationWindow).Unix(),
		Preference: preference(tokenRecord),
	})
	s.metrics.RecordDelivery(event, priority, result, time.Since(start), err)
	return result, err
}

// finishIfTerminal cleans up after a terminating transition: the token
// record, the priority counters, and the dedup keys all go.
func (s *Service) finishIfTerminal(ctx context.Context, activityID string, event timer.Event, log zerolog.Logger) {
	if event != timer.EventStop && event != timer.EventComplete {
		return
	}
	if err := s.registry.Remove(ctx, activityID); err != nil {
		log.Warn().Err(err).Msg("removing push token record")
	}
	s.priority.Reset(activityID)
	s.dedup.Forget(activityID)
}

// handleDeliveryError acts on the classified failure: a permanently
// invalid token loses its registration so the activity is not retried
// forever.
func (s *Service) handleDeliveryError(ctx context.Context, tokenRecord *registry.TokenRecord, err error, log zerolog.Logger) {
	de, ok := apns.AsDeliveryError(err)
	if !ok {
		log.Error().Err(err).Msg("delivery failed")
		return
	}

	log.Error().
		Str("kind", string(de.Kind)).
		Int("status", de.StatusCode).
		Str("reason", de.Reason).
		Str("token_last4", tokenRecord.TokenLast4()).
		Msg("delivery rejected")

	if de.Kind == apns.FailureTokenGone {
		if rmErr := s.registry.Remove(ctx, tokenRecord.ActivityID); rmErr != nil {
			log.Warn().Err(rmErr).Msg("removing invalid push token record")
		}
	}
}

// preference maps the stored environment metadata onto the client's
// candidate selection.
func preference(record *registry.TokenRecord) apns.Preference {
	switch record.PreferredEnvironment() {
	case registry.EnvironmentDevelopment:
		return apns.PreferenceDevelopment
	case registry.EnvironmentProduction:
		return apns.PreferenceProduction
	default:
		return apns.PreferenceAuto
	}
}
