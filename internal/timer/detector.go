package timer

// Event classifies a transition between two timer record snapshots.
type Event string

const (
	EventNone     Event = ""
	EventStart    Event = "start"
	EventPause    Event = "pause"
	EventResume   Event = "resume"
	EventStop     Event = "stop"
	EventComplete Event = "complete"
	EventUpdate   Event = "update"
)

// DetectChange classifies the transition from before to after and reports
// whether it warrants a push delivery. The pause check treats the two
// content-state schemas uniformly. Non-significant writes (periodic
// refreshes that change neither pause state, action, nor the explicit
// push-trigger marker) short-circuit the pipeline.
func DetectChange(before, after *TimerRecord) (Event, bool) {
	switch {
	case before == nil && after == nil:
		return EventNone, false
	case before == nil:
		return EventStart, true
	case after == nil:
		return EventStop, true
	}

	if after.Action == ActionStop && before.Action != ActionStop {
		return EventStop, true
	}

	if after.State.Completed() && !before.State.Completed() {
		return EventComplete, true
	}

	wasPaused := before.State.Paused()
	isPaused := after.State.Paused()
	if wasPaused != isPaused {
		if isPaused {
			return EventPause, true
		}
		return EventResume, true
	}

	if before.Action != after.Action {
		return EventUpdate, true
	}

	if after.LastPushUpdate != 0 && before.LastPushUpdate != after.LastPushUpdate {
		return EventUpdate, true
	}

	return EventNone, false
}
