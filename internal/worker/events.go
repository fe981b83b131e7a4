// Package worker processes timer-state change events and scheduled
// maintenance for the live activity push pipeline.
package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pacelight/pacelight/internal/timer"
)

// ChangeEvent is one timer document write, published by the store-side
// trigger with the before and after snapshots. A nil snapshot marks
// creation or deletion.
type ChangeEvent struct {
	UserID string          `json:"user_id"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

// snapshot is the wire shape of one timer document.
type snapshot struct {
	UserID         string         `json:"userId"`
	ActivityID     string         `json:"activityId"`
	Action         string         `json:"action"`
	ContentState   map[string]any `json:"contentState"`
	LastPushUpdate int64          `json:"lastPushUpdate"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// DecodeChangeEvent parses an event and its snapshots into timer records.
func DecodeChangeEvent(data []byte) (before, after *timer.TimerRecord, err error) {
	var event ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, nil, fmt.Errorf("parsing change event: %w", err)
	}

	before, err = decodeSnapshot(event.UserID, event.Before)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding before snapshot: %w", err)
	}
	after, err = decodeSnapshot(event.UserID, event.After)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding after snapshot: %w", err)
	}
	return before, after, nil
}

func decodeSnapshot(userID string, data json.RawMessage) (*timer.TimerRecord, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.UserID == "" {
		snap.UserID = userID
	}

	return &timer.TimerRecord{
		UserID:         snap.UserID,
		ActivityID:     snap.ActivityID,
		Action:         timer.Action(snap.Action),
		State:          timer.DecodeContentState(snap.ContentState),
		LastPushUpdate: snap.LastPushUpdate,
		UpdatedAt:      snap.UpdatedAt,
	}, nil
}
