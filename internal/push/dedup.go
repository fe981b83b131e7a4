package push

import (
	"sync"
	"time"

	"github.com/pacelight/pacelight/internal/timer"
)

const defaultDedupWindow = 5 * time.Second

// DedupGuard coalesces near-simultaneous duplicate triggers. A key is the
// pair (activityId, event); a second request for the same key inside the
// window is suppressed regardless of what the detector said. Trigger
// transports can deliver the same logical event more than once.
type DedupGuard struct {
	mu      sync.Mutex
	window  time.Duration
	seen    map[dedupKey]time.Time
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

type dedupKey struct {
	activityID string
	event      timer.Event
}

// NewDedupGuard creates a guard with the given suppression window. A zero
// window selects the default of 5 seconds.
func NewDedupGuard(window time.Duration, now func() time.Time) *DedupGuard {
	if window <= 0 {
		window = defaultDedupWindow
	}
	if now == nil {
		now = time.Now
	}
	return &DedupGuard{
		window:  window,
		seen:    make(map[dedupKey]time.Time),
		now:     now,
		gcEvery: window,
	}
}

// Admit records the key and reports whether the caller should proceed.
// It returns false when an identical key was admitted within the window.
func (g *DedupGuard) Admit(activityID string, event timer.Event) bool {
	key := dedupKey{activityID: activityID, event: event}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictLocked(now)

	if last, ok := g.seen[key]; ok && now.Sub(last) < g.window {
		return false
	}
	g.seen[key] = now
	return true
}

// Forget removes all keys for an activity, typically after it stops.
func (g *DedupGuard) Forget(activityID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.seen {
		if key.activityID == activityID {
			delete(g.seen, key)
		}
	}
}

// evictLocked drops expired keys. Eviction is lazy: it piggybacks on
// Admit calls rather than running its own goroutine, at most once per
// window.
func (g *DedupGuard) evictLocked(now time.Time) {
	if now.Sub(g.lastGC) < g.gcEvery {
		return
	}
	g.lastGC = now
	for key, last := range g.seen {
		if now.Sub(last) >= g.window {
			delete(g.seen, key)
		}
	}
}
