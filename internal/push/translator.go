// Package push orchestrates live activity delivery: translating persisted
// timer records into wire payloads, suppressing duplicate triggers,
// assigning delivery priority, and driving the gateway client.
package push

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pacelight/pacelight/internal/apns"
	"github.com/pacelight/pacelight/internal/timeconv"
	"github.com/pacelight/pacelight/internal/timer"
)

const (
	defaultDurationSeconds  = 300
	defaultMethodName       = "Timer"
	maxCounterSeconds       = 86400
	corruptionGuardWindow   = 365 * 24 * time.Hour
	defaultRemainingSeconds = 60

	// Dismissal and stale horizon for completion payloads.
	completionHorizon = 5 * time.Minute
)

// Translator maps a timer record into the protocol-exact notification
// payload. Malformed timestamps never abort a translation; safe defaults
// are substituted and the degradation logged.
type Translator struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewTranslator creates a translator. The clock is injectable for tests.
func NewTranslator(logger zerolog.Logger, now func() time.Time) *Translator {
	if now == nil {
		now = time.Now
	}
	return &Translator{logger: logger, now: now}
}

// TranslateInput carries one record plus envelope options into Payload.
type TranslateInput struct {
	ActivityID string
	State      *timer.ContentState
	Event      timer.Event

	// DismissalDate, when set, asks the device to tear the activity down.
	DismissalDate *time.Time

	// RelevanceScore and Alert pass through to the envelope when present.
	RelevanceScore *float64
	Alert          *apns.Alert
}

// Payload builds the full wire envelope for a record. All instants in the
// result are seconds since the protocol reference epoch.
func (t *Translator) Payload(in TranslateInput) apns.Payload {
	now := t.now()

	var (
		body      map[string]any
		staleDate int64
		completed bool
	)
	if in.State != nil && in.State.Schema == timer.SchemaLegacy {
		body, staleDate = t.legacyBody(in.ActivityID, in.State.Legacy, now)
	} else {
		var cur *timer.CurrentState
		if in.State != nil {
			cur = in.State.Current
		}
		body, staleDate, completed = t.currentBody(in.ActivityID, cur, in.Event, now)
	}

	aps := apns.APS{
		Timestamp:      timeconv.ToAppleEpoch(now),
		Event:          wireEvent(in.Event),
		ContentState:   body,
		StaleDate:      &staleDate,
		RelevanceScore: in.RelevanceScore,
		Alert:          in.Alert,
	}

	if in.DismissalDate != nil {
		d := timeconv.ToAppleEpoch(*in.DismissalDate)
		aps.DismissalDate = &d
	} else if completed {
		d := timeconv.ToAppleEpoch(now.Add(completionHorizon))
		aps.DismissalDate = &d
	}

	return apns.Payload{APS: aps}
}

// currentBody emits the startedAt/pausedAt layout. The output carries
// exactly the fields the widget decodes; transient markers written by
// clients for event classification are never copied over.
func (t *Translator) currentBody(activityID string, s *timer.CurrentState, event timer.Event, now time.Time) (map[string]any, int64, bool) {
	if s == nil {
		s = &timer.CurrentState{}
	}

	startedAt, ok := timeconv.Normalize(s.StartedAt)
	if !ok {
		t.logger.Warn().
			Str("activity_id", activityID).
			Interface("started_at", s.StartedAt).
			Msg("unusable startedAt, substituting current time")
		startedAt = now
	}

	body := map[string]any{
		"startedAt":   timeconv.ToAppleEpoch(startedAt),
		"pausedAt":    nil,
		"duration":    s.Duration,
		"methodName":  s.MethodName,
		"sessionType": string(s.SessionType),
	}

	if s.Duration <= 0 {
		body["duration"] = float64(defaultDurationSeconds)
	}
	if s.MethodName == "" {
		body["methodName"] = defaultMethodName
	}
	if s.SessionType == "" {
		body["sessionType"] = string(timer.SessionCountdown)
	}

	// A pausedAt that fails normalization is dropped rather than defaulted
	// to now, which would freeze the session on the device.
	if !isAbsent(s.PausedAt) {
		if pausedAt, ok := timeconv.Normalize(s.PausedAt); ok {
			body["pausedAt"] = timeconv.ToAppleEpoch(pausedAt)
		} else {
			t.logger.Warn().
				Str("activity_id", activityID).
				Interface("paused_at", s.PausedAt).
				Msg("unusable pausedAt, treating session as running")
		}
	}

	completed := s.IsCompleted || event == timer.EventComplete
	if completed {
		body["isCompleted"] = true
		body["completionMessage"] = completionMessage(s.MethodName)
	}

	staleDate := t.staleDate(body["sessionType"] == string(timer.SessionCountdown) && !completed, startedAt, durationOf(body), now, completed)
	return body, staleDate, completed
}

// legacyBody emits the startTime/endTime layout. Elapsed and remaining
// counters are clamped to one day, and update markers are recomputed at
// translation time so the device never trusts stored ones.
func (t *Translator) legacyBody(activityID string, s *timer.LegacyState, now time.Time) (map[string]any, int64) {
	if s == nil {
		s = &timer.LegacyState{}
	}

	startTime, startOK := timeconv.Normalize(s.StartTime)
	endTime, endOK := timeconv.Normalize(s.EndTime)

	elapsed := clampSeconds(s.ElapsedTimeAtLastUpdate)
	remaining := clampSeconds(s.RemainingTimeAtLastUpdate)

	// A stored time that is present but fails normalization is corrupted,
	// the same as one drifted more than a year from now. Rebuild both ends
	// from the counters instead of propagating garbage to the device.
	corrupt := (!startOK && !isAbsent(s.StartTime)) ||
		(!endOK && !isAbsent(s.EndTime)) ||
		(startOK && absDuration(now.Sub(startTime)) > corruptionGuardWindow) ||
		(endOK && absDuration(now.Sub(endTime)) > corruptionGuardWindow)

	switch {
	case corrupt:
		t.logger.Warn().
			Str("activity_id", activityID).
			Interface("start_time", s.StartTime).
			Interface("end_time", s.EndTime).
			Msg("corrupt legacy timestamps, reconstructing from counters")
		startTime = now.Add(-time.Duration(elapsed * float64(time.Second)))
		rem := remaining
		if rem <= 0 {
			rem = defaultRemainingSeconds
		}
		endTime = startTime.Add(time.Duration((elapsed + rem) * float64(time.Second)))
	case !startOK || !endOK:
		t.logger.Warn().
			Str("activity_id", activityID).
			Bool("start_ok", startOK).
			Bool("end_ok", endOK).
			Msg("missing legacy timestamps, substituting defaults")
		if !startOK {
			startTime = now
		}
		if !endOK {
			endTime = now.Add(5 * time.Minute)
		}
	}

	body := map[string]any{
		"startTime":                 timeconv.ToAppleEpoch(startTime),
		"endTime":                   timeconv.ToAppleEpoch(endTime),
		"isPaused":                  s.IsPaused,
		"elapsedTimeAtLastUpdate":   elapsed,
		"remainingTimeAtLastUpdate": remaining,
		"lastUpdateTime":            timeconv.ToAppleEpoch(now),
		"lastKnownGoodUpdate":       timeconv.ToAppleEpoch(now),
		"expectedEndTime":           timeconv.ToAppleEpoch(endTime),
	}
	if s.SessionType != "" {
		body["sessionType"] = string(s.SessionType)
	}
	if s.MethodName != "" {
		body["methodName"] = s.MethodName
	}

	var staleDate int64
	if s.SessionType == timer.SessionCountdown {
		staleDate = timeconv.ToAppleEpoch(endTime.Add(10 * time.Second))
	} else {
		staleDate = timeconv.ToAppleEpoch(now.Add(60 * time.Second))
	}
	return body, staleDate
}

// staleDate computes the freshness horizon: countdown sessions stay fresh
// until just past their end, everything else for a minute.
func (t *Translator) staleDate(countdown bool, startedAt time.Time, duration float64, now time.Time, completed bool) int64 {
	if completed {
		return timeconv.ToAppleEpoch(now.Add(completionHorizon))
	}
	if countdown {
		end := startedAt.Add(time.Duration(duration * float64(time.Second)))
		return timeconv.ToAppleEpoch(end.Add(10 * time.Second))
	}
	return timeconv.ToAppleEpoch(now.Add(60 * time.Second))
}

// wireEvent maps a detected transition onto the protocol's event field.
// Terminating transitions dismiss the activity; everything else updates it.
func wireEvent(ev timer.Event) string {
	switch ev {
	case timer.EventStop, timer.EventComplete:
		return "end"
	case timer.EventNone:
		return "update"
	default:
		return string(ev)
	}
}

func completionMessage(methodName string) string {
	if methodName == "" {
		methodName = defaultMethodName
	}
	return fmt.Sprintf("Great job completing your %s session!", methodName)
}

func durationOf(body map[string]any) float64 {
	if d, ok := body["duration"].(float64); ok {
		return d
	}
	return defaultDurationSeconds
}

func clampSeconds(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > maxCounterSeconds {
		return maxCounterSeconds
	}
	return v
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func isAbsent(v any) bool {
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
