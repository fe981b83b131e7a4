package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/pacelight/pacelight/internal/timeconv"
	"github.com/pacelight/pacelight/internal/timer"
)

const (
	defaultMonitorInterval = time.Second
	defaultMonitorLifetime = 10 * time.Minute
)

// CoordinatorConfig wires the monitor coordinator.
type CoordinatorConfig struct {
	Timers  timer.Repository
	Service *Service
	Logger  zerolog.Logger

	// Interval between refresh ticks. Default: 1 second.
	Interval time.Duration

	// MaxLifetime bounds a monitor's total run time so a lost stop event
	// cannot leak a goroutine forever. Default: 10 minutes.
	MaxLifetime time.Duration

	Now func() time.Time
}

// Coordinator owns the per-activity periodic monitors: goroutines that
// re-read a running timer record on an interval, push refreshed state to
// the device, and detect countdown completion server-side. All monitor
// state lives behind the coordinator's lock; nothing else starts or stops
// monitors.
type Coordinator struct {
	timers      timer.Repository
	service     *Service
	logger      zerolog.Logger
	interval    time.Duration
	maxLifetime time.Duration
	now         func() time.Time

	mu       sync.Mutex
	monitors map[string]*monitorHandle
	wg       sync.WaitGroup
}

type monitorHandle struct {
	cancel context.CancelFunc
}

// NewCoordinator creates a coordinator with no running monitors.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	lifetime := cfg.MaxLifetime
	if lifetime <= 0 {
		lifetime = defaultMonitorLifetime
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		timers:      cfg.Timers,
		service:     cfg.Service,
		logger:      cfg.Logger,
		interval:    interval,
		maxLifetime: lifetime,
		now:         now,
		monitors:    make(map[string]*monitorHandle),
	}
}

// Start launches a monitor for the activity. Starting an activity that is
// already monitored cancels the old monitor and restarts its lifetime.
func (c *Coordinator) Start(ctx context.Context, activityID string) {
	monitorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.maxLifetime)
	handle := &monitorHandle{cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.monitors[activityID]; ok {
		prev.cancel()
	}
	c.monitors[activityID] = handle
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer c.remove(activityID, handle)
		c.run(monitorCtx, activityID)
	}()
}

// Stop cancels the monitor for an activity, if one is running.
func (c *Coordinator) Stop(activityID string) {
	c.mu.Lock()
	handle, ok := c.monitors[activityID]
	delete(c.monitors, activityID)
	c.mu.Unlock()
	if ok {
		handle.cancel()
	}
}

// StopAll cancels every monitor and waits for them to exit. Called on
// shutdown.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	for id, handle := range c.monitors {
		handle.cancel()
		delete(c.monitors, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Running reports how many monitors are active.
func (c *Coordinator) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.monitors)
}

// remove double-checks the handle so a restarted monitor cannot delete
// its replacement's entry.
func (c *Coordinator) remove(activityID string, handle *monitorHandle) {
	handle.cancel()
	c.mu.Lock()
	if current, ok := c.monitors[activityID]; ok && current == handle {
		delete(c.monitors, activityID)
	}
	c.mu.Unlock()
}

func (c *Coordinator) run(ctx context.Context, activityID string) {
	log := c.logger.With().Str("activity_id", activityID).Logger()

	record, err := c.readRecord(ctx, activityID)
	if err != nil {
		log.Warn().Err(err).Msg("monitor could not read timer record, exiting")
		return
	}

	log.Info().Msg("monitor started")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("monitor stopped")
			return
		case <-ticker.C:
		}

		// The store is multi-writer; state is re-read every tick rather
		// than cached.
		record, err = c.timers.GetByActivity(ctx, activityID)
		if errors.Is(err, timer.ErrRecordNotFound) {
			log.Info().Msg("timer record gone, monitor exiting")
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("re-reading timer record")
			continue
		}

		if record.Action == timer.ActionStop {
			log.Info().Msg("timer stopped, monitor exiting")
			return
		}
		if record.State.Paused() {
			continue
		}

		if c.countdownFinished(record) {
			if err := c.service.CompleteActivity(ctx, record); err != nil {
				log.Warn().Err(err).Msg("completing activity")
			}
			return
		}

		c.refreshCounters(record)
		if err := c.service.RefreshActivity(ctx, record); err != nil && !errors.Is(err, ErrNoPushToken) {
			log.Warn().Err(err).Msg("refreshing activity")
		}
	}
}

// readRecord fetches the record with a short bounded retry; the monitor is
// often started in the same request that writes the record, before the
// write has landed.
func (c *Coordinator) readRecord(ctx context.Context, activityID string) (*timer.TimerRecord, error) {
	var record *timer.TimerRecord

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 3), ctx)
	err := backoff.Retry(func() error {
		var err error
		record, err = c.timers.GetByActivity(ctx, activityID)
		return err
	}, bo)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// countdownFinished reports whether a running countdown has reached zero.
func (c *Coordinator) countdownFinished(record *timer.TimerRecord) bool {
	state := record.State
	if state == nil {
		return false
	}
	now := c.now()

	switch state.Schema {
	case timer.SchemaCurrent:
		cur := state.Current
		if cur == nil || cur.SessionType != timer.SessionCountdown || cur.Duration <= 0 {
			return false
		}
		startedAt, ok := timeconv.Normalize(cur.StartedAt)
		if !ok {
			return false
		}
		return now.Sub(startedAt).Seconds() >= cur.Duration
	case timer.SchemaLegacy:
		leg := state.Legacy
		if leg == nil || leg.SessionType != timer.SessionCountdown {
			return false
		}
		endTime, ok := timeconv.Normalize(leg.EndTime)
		if !ok {
			return false
		}
		return !now.Before(endTime)
	}
	return false
}

// refreshCounters recomputes the legacy schema's elapsed/remaining fields
// from the wall clock before a refresh push. The current schema needs no
// recomputation; the device derives everything from startedAt.
func (c *Coordinator) refreshCounters(record *timer.TimerRecord) {
	state := record.State
	if state == nil || state.Schema != timer.SchemaLegacy || state.Legacy == nil {
		return
	}
	leg := state.Legacy
	now := c.now()

	if startTime, ok := timeconv.Normalize(leg.StartTime); ok {
		leg.ElapsedTimeAtLastUpdate = clampSeconds(now.Sub(startTime).Seconds())
	}
	if endTime, ok := timeconv.Normalize(leg.EndTime); ok && leg.SessionType == timer.SessionCountdown {
		leg.RemainingTimeAtLastUpdate = clampSeconds(endTime.Sub(now).Seconds())
	}
}
