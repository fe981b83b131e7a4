package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pacelight/pacelight/internal/api/models"
	"github.com/pacelight/pacelight/internal/api/response"
	"github.com/pacelight/pacelight/internal/apns"
	"github.com/pacelight/pacelight/internal/push"
	"github.com/pacelight/pacelight/internal/registry"
	"github.com/pacelight/pacelight/internal/timer"
)

// ActivityHandler handles live activity endpoints: direct updates, token
// registration, timer actions and monitor control.
type ActivityHandler struct {
	push     *push.Service
	registry *registry.Service
	timers   *timer.Service
	monitors *push.Coordinator
	logger   zerolog.Logger
}

// ActivityHandlerConfig wires the activity handler.
type ActivityHandlerConfig struct {
	Push     *push.Service
	Registry *registry.Service
	Timers   *timer.Service
	Monitors *push.Coordinator
	Logger   zerolog.Logger
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(cfg ActivityHandlerConfig) *ActivityHandler {
	return &ActivityHandler{
		push:     cfg.Push,
		registry: cfg.Registry,
		timers:   cfg.Timers,
		monitors: cfg.Monitors,
		logger:   cfg.Logger,
	}
}

// UpdateActivity handles POST /v1/activities/update - push a content-state
// update to a live activity.
func (h *ActivityHandler) UpdateActivity(w http.ResponseWriter, r *http.Request) {
	var input models.ActivityUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if input.ActivityID == "" {
		response.BadRequest(w, r, "validation failed", []models.FieldError{
			{Field: "activityId", Message: "activityId is required", Code: "required"},
		})
		return
	}
	if input.ContentState == nil {
		response.BadRequest(w, r, "validation failed", []models.FieldError{
			{Field: "contentState", Message: "contentState is required", Code: "required"},
		})
		return
	}

	update := push.DirectUpdate{
		ActivityID:    input.ActivityID,
		State:         timer.DecodeContentState(input.ContentState),
		PushToken:     input.PushToken,
		TopicOverride: input.TopicOverride,
	}
	if input.DismissalDate != nil {
		dismissal := input.DismissalDate.Time()
		update.DismissalDate = &dismissal
	}
	// Omitted means enabled; clients only send the flag to opt out.
	update.FrequentPushesEnabled = input.FrequentPushesEnabled == nil || *input.FrequentPushesEnabled
	update.RelevanceScore = input.RelevanceScore
	if input.Alert != nil {
		update.Alert = &apns.Alert{
			Title: input.Alert.Title,
			Body:  input.Alert.Body,
			Sound: input.Alert.Sound,
		}
	}

	result, err := h.push.SendUpdate(r.Context(), update)
	if err != nil {
		h.writeDeliveryError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.ActivityUpdateResponse{
		Success:     true,
		ActivityID:  result.ActivityID,
		Environment: result.Environment,
		Host:        result.Host,
	})
}

// RegisterToken handles POST /v1/activities/tokens - persist the push token
// for a live activity.
func (h *ActivityHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var input models.TokenRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	record, err := h.registry.Register(r.Context(), registry.RegisterInput{
		Token:       input.Token,
		ActivityID:  input.ActivityID,
		UserID:      GetUserID(r.Context()),
		BundleID:    input.BundleID,
		Environment: registry.Environment(input.Environment),
	})
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrMissingToken):
			response.BadRequest(w, r, "validation failed", []models.FieldError{
				{Field: "token", Message: "token is required", Code: "required"},
			})
		case errors.Is(err, registry.ErrMissingActivityID):
			response.BadRequest(w, r, "validation failed", []models.FieldError{
				{Field: "activityId", Message: "activityId is required", Code: "required"},
			})
		default:
			h.logger.Error().Err(err).Msg("token registration failed")
			response.InternalError(w, r, "failed to register token")
		}
		return
	}

	location := fmt.Sprintf("/v1/activities/%s/token", record.ActivityID)
	response.Created(w, r, location, models.TokenRegisterResponse{
		ActivityID:  record.ActivityID,
		TokenLast4:  record.TokenLast4(),
		BundleID:    record.BundleID,
		Environment: string(record.Environment),
		UpdatedAt:   models.Timestamp(record.UpdatedAt),
	})
}

// TimerAction handles POST /v1/timer/action - apply a timer action for the
// authenticated user and push the resulting transition.
func (h *ActivityHandler) TimerAction(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	var input models.TimerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if input.Action == "" {
		response.BadRequest(w, r, "validation failed", []models.FieldError{
			{Field: "action", Message: "action is required", Code: "required"},
		})
		return
	}

	before, after, err := h.timers.Apply(r.Context(), timer.ApplyInput{
		UserID:       userID,
		ActivityID:   input.ActivityID,
		Action:       timer.Action(input.Action),
		ContentState: input.ContentState,
	})
	if err != nil {
		switch {
		case errors.Is(err, timer.ErrUnknownAction):
			response.BadRequest(w, r, "validation failed", []models.FieldError{
				{Field: "action", Message: "unknown action", Code: "invalid"},
			})
		case errors.Is(err, timer.ErrNoActiveTimer):
			response.NotFound(w, r, "no active timer for user")
		default:
			h.logger.Error().Err(err).Str("user_id", userID).Msg("timer action failed")
			response.InternalError(w, r, "failed to apply timer action")
		}
		return
	}

	outcome, err := h.push.HandleChange(r.Context(), before, after)
	if err != nil {
		h.writeDeliveryError(w, r, err)
		return
	}
	h.syncMonitor(r.Context(), after)

	response.JSON(w, r, http.StatusOK, models.TimerActionResponse{
		ActivityID: after.ActivityID,
		Action:     string(after.Action),
		Delivered:  outcome.Delivered,
	})
}

// StartMonitor handles POST /v1/activities/{activityId}/monitor.
func (h *ActivityHandler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	activityID := chi.URLParam(r, "activityId")
	if activityID == "" {
		response.BadRequest(w, r, "activityId is required", nil)
		return
	}

	h.monitors.Start(r.Context(), activityID)
	response.Accepted(w, r, "", models.MonitorResponse{
		ActivityID: activityID,
		Running:    h.monitors.Running(),
	})
}

// StopMonitor handles DELETE /v1/activities/{activityId}/monitor.
func (h *ActivityHandler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	activityID := chi.URLParam(r, "activityId")
	if activityID == "" {
		response.BadRequest(w, r, "activityId is required", nil)
		return
	}

	h.monitors.Stop(activityID)
	response.NoContent(w, r)
}

// syncMonitor aligns the lifecycle monitor with the applied action.
func (h *ActivityHandler) syncMonitor(ctx context.Context, record *timer.TimerRecord) {
	if h.monitors == nil || record == nil || record.ActivityID == "" {
		return
	}
	switch record.Action {
	case timer.ActionStart, timer.ActionResume:
		h.monitors.Start(ctx, record.ActivityID)
	case timer.ActionStop:
		h.monitors.Stop(record.ActivityID)
	}
}

// writeDeliveryError maps pipeline errors onto problem responses.
func (h *ActivityHandler) writeDeliveryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, push.ErrMissingActivityID):
		response.BadRequest(w, r, "activityId is required", nil)
		return
	case errors.Is(err, push.ErrNoPushToken):
		response.NotFound(w, r, "no push token registered for activity")
		return
	}

	if delivery, ok := apns.AsDeliveryError(err); ok {
		switch delivery.Kind {
		case apns.FailureConfig:
			h.logger.Error().Err(err).Msg("push gateway configuration rejected")
			response.InternalError(w, r, "push gateway configuration error")
		case apns.FailureTokenGone:
			response.NotFound(w, r, "push token is no longer valid")
		default:
			response.ServiceUnavailable(w, r, "push delivery failed: "+delivery.Reason)
		}
		return
	}

	h.logger.Error().Err(err).Msg("push delivery failed")
	response.InternalError(w, r, "push delivery failed")
}
