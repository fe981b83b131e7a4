package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pacelight/pacelight/internal/registry"
)

// SweepConfig holds configuration for the token sweep job.
type SweepConfig struct {
	Registry *registry.Service
	Logger   zerolog.Logger

	// Schedule is a cron expression. Default: hourly on the hour.
	Schedule string

	// MaxAge is how long a token record may sit untouched before it is
	// considered orphaned. Default: 24 hours.
	MaxAge time.Duration

	// Timeout bounds one sweep run. Default: 30 seconds.
	Timeout time.Duration
}

// SweepJob periodically deletes orphaned push token records: activities
// that ended without the stop event reaching us keep their tokens around
// otherwise.
type SweepJob struct {
	registry *registry.Service
	logger   zerolog.Logger
	schedule string
	maxAge   time.Duration
	timeout  time.Duration
	cron     *cron.Cron
}

// NewSweepJob creates a sweep job. Call Start to schedule it.
func NewSweepJob(cfg SweepConfig) *SweepJob {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 * * * *"
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SweepJob{
		registry: cfg.Registry,
		logger:   cfg.Logger,
		schedule: schedule,
		maxAge:   maxAge,
		timeout:  timeout,
	}
}

// Start schedules the sweep and returns. Stop cancels it.
func (j *SweepJob) Start() error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		j.Run(ctx)
	}); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info().Str("schedule", j.schedule).Msg("token sweep scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *SweepJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// Run performs one sweep.
func (j *SweepJob) Run(ctx context.Context) {
	removed, err := j.registry.SweepStale(ctx, j.maxAge)
	if err != nil {
		j.logger.Error().Err(err).Msg("token sweep failed")
		return
	}
	if removed > 0 {
		j.logger.Info().Int64("removed", removed).Msg("swept orphaned push tokens")
	}
}
