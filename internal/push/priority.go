package push

import (
	"sync"

	"github.com/pacelight/pacelight/internal/apns"
	"github.com/pacelight/pacelight/internal/timer"
)

// conservativeImmediateBudget is how many pause/resume deliveries per
// session go out at immediate priority when frequent pushes are disabled.
const conservativeImmediateBudget = 5

// PriorityPolicy assigns the delivery priority per transition tier. The
// push gateway enforces a budget on immediate-priority notifications;
// deferring the routine tier, and part of the important tier, keeps
// sessions inside it.
//
// Counters are per activity and synchronized; concurrent triggers for the
// same activity are possible.
type PriorityPolicy struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewPriorityPolicy creates a policy with empty per-session counters.
func NewPriorityPolicy() *PriorityPolicy {
	return &PriorityPolicy{counters: make(map[string]int)}
}

// Assign returns the priority for one delivery.
//
// Critical transitions (start, stop, complete) are always immediate.
// Important transitions (pause, resume) follow one of two strategies:
// with frequent pushes enabled, every third occurrence is deferred to
// conserve the budget; otherwise only the first few per session are
// immediate. Routine updates are always deferred.
func (p *PriorityPolicy) Assign(activityID string, event timer.Event, frequentPushesEnabled bool) apns.Priority {
	switch event {
	case timer.EventStart, timer.EventStop, timer.EventComplete:
		return apns.PriorityHigh
	case timer.EventPause, timer.EventResume:
		return p.importantPriority(activityID, frequentPushesEnabled)
	default:
		return apns.PriorityLow
	}
}

func (p *PriorityPolicy) importantPriority(activityID string, frequentPushesEnabled bool) apns.Priority {
	p.mu.Lock()
	count := p.counters[activityID]
	p.counters[activityID] = count + 1
	p.mu.Unlock()

	if frequentPushesEnabled {
		if count%3 == 0 {
			return apns.PriorityLow
		}
		return apns.PriorityHigh
	}

	if count < conservativeImmediateBudget {
		return apns.PriorityHigh
	}
	return apns.PriorityLow
}

// Reset clears the counter for an activity, called when its session ends.
func (p *PriorityPolicy) Reset(activityID string) {
	p.mu.Lock()
	delete(p.counters, activityID)
	p.mu.Unlock()
}
