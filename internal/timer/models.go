// Package timer provides the persisted timer record model and state change
// detection for live activity sessions.
package timer

import (
	"encoding/json"
	"errors"
	"time"
)

// Repository errors.
var (
	ErrRecordNotFound = errors.New("timer record not found")
)

// Action is the last commanded timer action.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
)

// SessionType distinguishes countdown sessions (fixed duration) from
// open-ended countup sessions.
type SessionType string

const (
	SessionCountdown SessionType = "countdown"
	SessionCountup   SessionType = "countup"
)

// Schema identifies which content-state layout a record carries.
type Schema string

const (
	// SchemaCurrent is the startedAt/pausedAt layout.
	SchemaCurrent Schema = "current"
	// SchemaLegacy is the startTime/endTime layout still produced by old
	// clients.
	SchemaLegacy Schema = "legacy"
)

// ContentState is a tagged union over the two historical content-state
// layouts. Exactly one of Current or Legacy is non-nil, matching Schema.
// Timestamp fields keep their raw decoded representation; normalization
// into instants happens once, in the payload translator.
type ContentState struct {
	Schema  Schema
	Current *CurrentState
	Legacy  *LegacyState

	// Raw is the original decoded document, kept so repositories can
	// persist records losslessly.
	Raw map[string]any
}

// CurrentState is the startedAt/pausedAt content-state layout.
type CurrentState struct {
	StartedAt   any
	PausedAt    any
	Duration    float64
	MethodName  string
	SessionType SessionType
	IsCompleted bool

	// Event and WasPaused are transient markers written by clients for
	// local event classification. They are never emitted on the wire.
	Event     string
	WasPaused bool
}

// LegacyState is the startTime/endTime content-state layout.
type LegacyState struct {
	StartTime                 any
	EndTime                   any
	IsPaused                  bool
	ElapsedTimeAtLastUpdate   float64
	RemainingTimeAtLastUpdate float64
	LastUpdateTime            any
	LastKnownGoodUpdate       any
	ExpectedEndTime           any
	SessionType               SessionType
	MethodName                string
}

// Paused reports the pause state uniformly across both schemas.
func (c *ContentState) Paused() bool {
	if c == nil {
		return false
	}
	switch c.Schema {
	case SchemaCurrent:
		return c.Current != nil && !isEmptyTimestamp(c.Current.PausedAt)
	case SchemaLegacy:
		return c.Legacy != nil && c.Legacy.IsPaused
	}
	return false
}

// Completed reports whether the session has finished.
func (c *ContentState) Completed() bool {
	return c != nil && c.Schema == SchemaCurrent && c.Current != nil && c.Current.IsCompleted
}

func isEmptyTimestamp(v any) bool {
	switch tv := v.(type) {
	case nil:
		return true
	case string:
		return tv == ""
	case time.Time:
		return tv.IsZero()
	}
	return false
}

// TimerRecord is the per-user persisted timer state. One record exists per
// user at a time; concurrent external writers own it, the core only reads
// and marks it stopped.
type TimerRecord struct {
	UserID     string
	ActivityID string
	Action     Action
	State      *ContentState

	// LastPushUpdate is an explicit push-trigger marker; a changed value
	// forces a delivery even when nothing else moved.
	LastPushUpdate int64

	UpdatedAt time.Time
}

// DecodeContentState decodes a raw content-state document into the tagged
// union. The discriminant is the presence of a startedAt field; everything
// else is legacy. Decoding is tolerant: unknown fields are dropped and
// timestamp values are kept raw for the translator to normalize.
func DecodeContentState(raw map[string]any) *ContentState {
	if raw == nil {
		return nil
	}

	if startedAt, ok := raw["startedAt"]; ok && startedAt != nil {
		cur := &CurrentState{
			StartedAt:   startedAt,
			PausedAt:    raw["pausedAt"],
			Duration:    numberField(raw, "duration"),
			MethodName:  stringField(raw, "methodName"),
			SessionType: SessionType(stringField(raw, "sessionType")),
			IsCompleted: boolField(raw, "isCompleted"),
			Event:       stringField(raw, "event"),
			WasPaused:   boolField(raw, "_wasPaused"),
		}
		return &ContentState{Schema: SchemaCurrent, Current: cur, Raw: raw}
	}

	leg := &LegacyState{
		StartTime:                 raw["startTime"],
		EndTime:                   raw["endTime"],
		IsPaused:                  boolField(raw, "isPaused"),
		ElapsedTimeAtLastUpdate:   numberField(raw, "elapsedTimeAtLastUpdate"),
		RemainingTimeAtLastUpdate: numberField(raw, "remainingTimeAtLastUpdate"),
		LastUpdateTime:            raw["lastUpdateTime"],
		LastKnownGoodUpdate:       raw["lastKnownGoodUpdate"],
		ExpectedEndTime:           raw["expectedEndTime"],
		SessionType:               SessionType(stringField(raw, "sessionType")),
		MethodName:                stringField(raw, "methodName"),
	}
	return &ContentState{Schema: SchemaLegacy, Legacy: leg, Raw: raw}
}

// DecodeContentStateJSON decodes a JSON-encoded content-state document.
func DecodeContentStateJSON(data []byte) (*ContentState, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return DecodeContentState(raw), nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func numberField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err == nil {
			return f
		}
	}
	return 0
}

func boolField(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
