// Package cron fires scheduled announcements by dispatching an
// "announce" command for each due schedule.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/panelbridge/internal/bridge"
	"github.com/basket/panelbridge/internal/persistence"
)

// SchedulerCaller is the caller name stamped on scheduled dispatches.
const SchedulerCaller = "Scheduler"

// cronParser parses standard 5-field cron expressions (minute, hour,
// dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Dispatcher is the slice of the bridge the scheduler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string, args []string, caller string) bridge.Outcome
}

// Config holds the dependencies for the announcement scheduler.
type Config struct {
	Store      *persistence.Store
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Interval   time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler periodically queries the store for due announcement
// schedules and dispatches each one to the game server.
type Scheduler struct {
	store      *persistence.Store
	dispatcher Dispatcher
	logger     *slog.Logger
	interval   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
		interval:   interval,
	}
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("announcement scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("announcement scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick queries for due schedules and fires each one.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("scheduler: failed to query due schedules", "error", err)
		return
	}
	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
}

// fire rearms the schedule, then dispatches its announcement. Rearming
// first means a slow or hung dispatch cannot make the same schedule due
// again on the next tick.
func (s *Scheduler) fire(ctx context.Context, sched persistence.Schedule, now time.Time) {
	nextRun, err := NextRunTime(sched.CronExpr, now)
	if err != nil {
		s.logger.Error("scheduler: failed to compute next run time",
			"schedule_id", sched.ID,
			"cron_expr", sched.CronExpr,
			"error", err,
		)
		// A schedule that stopped parsing is disabled rather than
		// retried forever.
		if err := s.store.SetScheduleEnabled(ctx, sched.ID, false); err != nil {
			s.logger.Error("scheduler: failed to disable broken schedule", "schedule_id", sched.ID, "error", err)
		}
		return
	}
	if err := s.store.MarkScheduleRun(ctx, sched.ID, now, nextRun); err != nil {
		s.logger.Error("scheduler: failed to update schedule run",
			"schedule_id", sched.ID,
			"error", err,
		)
		return
	}

	outcome := s.dispatcher.Dispatch(ctx, "announce", []string{sched.Message}, SchedulerCaller)
	s.logger.Info("scheduler: announcement fired",
		"schedule_id", sched.ID,
		"success", outcome.Success,
		"result", outcome.Result,
		"next_run_at", nextRun,
	)
}

// NextRunTime parses the cron expression and returns the next run time
// after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
