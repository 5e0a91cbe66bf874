package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fxreport/internal/logging"
	"fxreport/internal/rates"
)

// TickFunc is invoked once per day with the calendar date of the tick.
type TickFunc func(ctx context.Context, date time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// RunAt is the offset after local midnight at which the daily run fires.
	RunAt        time.Duration
	Location     *time.Location
	StartupDelay time.Duration
}

// Scheduler fires a daily batch at a fixed wall-clock time.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.RunAt < 0 || opts.RunAt >= 24*time.Hour {
		panic("scheduler run_at must be within a day")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		opts:   opts,
		logger: logging.Component(logger, "scheduler"),
		now:    time.Now,
	}
}

// Run blocks, invoking tick once per day until ctx is cancelled. Ticks never overlap;
// a failed tick is logged and the loop waits for the next day.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		next := s.NextRun(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		s.logger.Info().Time("next_run", next).Msg("waiting for next daily run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		date := rates.Date(next)
		s.logger.Info().Str("date", rates.FormatDate(date)).Msg("executing scheduled run")

		if err := tick(ctx, date); err != nil {
			s.logger.Error().Err(err).Str("date", rates.FormatDate(date)).Msg("scheduled run failed")
		}
	}
}

// NextRun returns the first run time strictly after now, in the scheduler location.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.opts.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.opts.Location)
	next := midnight.Add(s.opts.RunAt)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, s.opts.Location).Add(s.opts.RunAt)
	}
	return next
}
