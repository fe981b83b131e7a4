package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/pacelight/pacelight/internal/push"
	"github.com/pacelight/pacelight/internal/timer"
)

// PubSubHandler consumes timer change events and feeds them through the
// push pipeline. Start transitions also launch a periodic monitor for the
// activity; terminating transitions stop it.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	pushService      *push.Service
	monitors         *push.Coordinator
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	PushService      *push.Service
	Monitors         *push.Coordinator
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Configure receive settings.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		pushService:      cfg.PushService,
		monitors:         cfg.Monitors,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received timer change event")

	event, err := h.HandleChange(ctx, msg.Data)
	if err != nil {
		// A malformed event will never parse; redelivering it only loops.
		var redeliver *redeliverableError
		if errors.As(err, &redeliver) {
			logger.Error().Err(err).Msg("change event failed, will redeliver")
			msg.Nack()
			return
		}
		logger.Error().Err(err).Msg("dropping malformed change event")
		msg.Ack()
		return
	}

	logger.Info().
		Str("event", string(event)).
		Dur("duration", time.Since(startTime)).
		Msg("change event processed")
	msg.Ack()
}

// HandleChange decodes and processes one change event. Split from the
// transport callback so tests can drive it directly.
func (h *PubSubHandler) HandleChange(ctx context.Context, data []byte) (timer.Event, error) {
	before, after, err := DecodeChangeEvent(data)
	if err != nil {
		return timer.EventNone, err
	}

	outcome, err := h.pushService.HandleChange(ctx, before, after)
	if err != nil {
		return timer.EventNone, &redeliverableError{err: err}
	}

	h.syncMonitor(ctx, outcome.Event, before, after)
	return outcome.Event, nil
}

// syncMonitor keeps the periodic monitor in step with the activity
// lifecycle.
func (h *PubSubHandler) syncMonitor(ctx context.Context, event timer.Event, before, after *timer.TimerRecord) {
	if h.monitors == nil {
		return
	}

	record := after
	if record == nil {
		record = before
	}
	if record == nil || record.ActivityID == "" {
		return
	}

	switch event {
	case timer.EventStart, timer.EventResume:
		h.monitors.Start(ctx, record.ActivityID)
	case timer.EventStop, timer.EventComplete:
		h.monitors.Stop(record.ActivityID)
	}
}

// redeliverableError marks a failure worth a redelivery attempt, as
// opposed to a permanently malformed event.
type redeliverableError struct {
	err error
}

func (e *redeliverableError) Error() string {
	return e.err.Error()
}

func (e *redeliverableError) Unwrap() error {
	return e.err
}
