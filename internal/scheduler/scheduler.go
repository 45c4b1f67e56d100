// Package scheduler triggers archive runs on a cron schedule. A run
// already in flight is skipped, never queued, so a slow run cannot pile
// up behind itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"feedstash/internal/config"
	"feedstash/internal/observability"
	"feedstash/internal/session"
)

// Runner starts one archive run. The session orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, input session.RunInput) (*session.RunResult, error)
}

type Scheduler struct {
	cron       *cron.Cron
	runner     Runner
	schedule   string
	runOnStart bool
	entryID    cron.EntryID
}

// NewScheduler wires runner to the cron spec in cfg.RunSchedule. An empty
// spec leaves the scheduler disabled.
func NewScheduler(runner Runner, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		runner:     runner,
		schedule:   cfg.RunSchedule,
		runOnStart: cfg.RunOnStart,
	}
}

// Start registers the run job and starts the cron loop. It is a no-op
// when no schedule is configured, except that RUN_ON_START fires one
// immediate run either way.
func (s *Scheduler) Start() error {
	if s.runOnStart {
		go func() { s.runOnce("startup") }()
	}
	if s.schedule == "" {
		return nil
	}
	entryID, err := s.cron.AddFunc(s.schedule, func() { s.runOnce("scheduled") })
	if err != nil {
		return fmt.Errorf("invalid run schedule %q: %w", s.schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()
	observability.LogAsyncOperationStart(context.Background(), "scheduler.start", map[string]interface{}{
		"schedule": s.schedule,
		"next_run": s.NextRun().Format(time.RFC3339),
	})
	return nil
}

// Scheduled reports whether a cron job is registered.
func (s *Scheduler) Scheduled() bool {
	return s != nil && s.entryID != 0
}

// NextRun returns the next firing time, or the zero time when disabled.
func (s *Scheduler) NextRun() time.Time {
	if !s.Scheduled() {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Stop halts the cron loop. A run started by a job that already fired
// keeps going; only future firings are cancelled.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.cron.Stop()
}

func (s *Scheduler) runOnce(label string) {
	ctx := context.Background()
	input := session.RunInput{
		// Automatic runs drain the backlog so content that failed on an
		// earlier run gets retried without operator action.
		Name:           label + " " + time.Now().UTC().Format("2006-01-02 15:04"),
		IncludeBacklog: true,
	}
	result, err := s.runner.Run(ctx, input)
	if errors.Is(err, session.ErrRunInProgress) {
		observability.LogAsyncOperationError(ctx, "scheduler.run", err, map[string]interface{}{
			"schedule": s.schedule,
		})
		return
	}
	if err != nil {
		fields := map[string]interface{}{"schedule": s.schedule}
		if result != nil && result.Session != nil {
			fields["session_id"] = result.Session.ID
		}
		observability.LogAsyncOperationError(ctx, "scheduler.run", err, fields)
	}
}
