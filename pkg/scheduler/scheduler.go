// Package scheduler drives the time-based parts of crmflow: the periodic sweep
// that wakes due executions and the firing of scheduled triggers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSweepInterval = time.Minute

	// scheduled triggers have minute resolution
	triggerPollSpec = "* * * * *"
)

// Engine is the part of the execution engine the scheduler drives.
type Engine interface {
	ResumeDueExecutions(ctx context.Context, now time.Time) ([]*models.WorkflowExecution, error)
	ProcessEvent(ctx context.Context, event models.TriggerEvent) ([]*models.WorkflowExecution, error)
}

type Scheduler struct {
	engine        Engine
	workflows     persistence.WorkflowRepository
	logger        *slog.Logger
	clock         func() time.Time
	sweepInterval time.Duration

	cron *cron.Cron

	mutex     sync.Mutex
	schedules map[string]*models.Schedule // keyed by workflow and trigger id
}

type Option func(*Scheduler)

func WithSweepInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func New(logger *slog.Logger, engine Engine, workflows persistence.WorkflowRepository, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:        engine,
		workflows:     workflows,
		logger:        logger.With("module", "scheduler"),
		clock:         func() time.Time { return time.Now().UTC() },
		sweepInterval: DefaultSweepInterval,
		schedules:     make(map[string]*models.Schedule),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start registers the sweep and trigger jobs and starts the cron runner. Jobs
// run with ctx until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{s.logger}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	), cron.WithLogger(logger))

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.sweepInterval), func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}

	if _, err := s.cron.AddFunc(triggerPollSpec, func() {
		if _, err := s.FireDueTriggers(ctx); err != nil {
			s.logger.Error("Firing scheduled triggers failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to add trigger job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", "sweep_interval", s.sweepInterval)

	return nil
}

// Stop stops the runner and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep resumes every execution that is due now.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	resumed, err := s.engine.ResumeDueExecutions(ctx, s.clock())

	return len(resumed), err
}

// FireDueTriggers emits one scheduled event for each scheduled trigger of an
// active workflow whose next activation has passed. A trigger seen for the
// first time is armed for its next activation rather than fired.
func (s *Scheduler) FireDueTriggers(ctx context.Context) (int, error) {
	now := s.clock()

	workflows, err := s.workflows.List(ctx, persistence.ListWorkflowsOptions{
		ActiveOnly:  true,
		TriggerType: models.TriggerTypeScheduled,
	})
	if err != nil {
		return 0, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	seen := make(map[string]bool)
	fired := 0

	var errs []error

	for _, wf := range workflows {
		for _, trigger := range wf.Triggers {
			if trigger.TriggerType != models.TriggerTypeScheduled {
				continue
			}

			key := wf.ID + "/" + trigger.ID
			seen[key] = true

			schedule, ok := s.schedules[key]
			if !ok || schedule.CronExpression != trigger.Schedule {
				schedule, err = models.NewSchedule(wf.ID, trigger.ID, trigger.Schedule, now)
				if err != nil {
					errs = append(errs, fmt.Errorf("workflow %s trigger %s: %w", wf.ID, trigger.ID, err))

					continue
				}

				s.schedules[key] = schedule

				continue
			}

			if !schedule.IsDue(now) {
				continue
			}

			if err := s.fire(ctx, schedule); err != nil {
				errs = append(errs, err)
			}

			fired++

			if err := schedule.Advance(now); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for key := range s.schedules {
		if !seen[key] {
			delete(s.schedules, key)
		}
	}

	return fired, errors.Join(errs...)
}

func (s *Scheduler) fire(ctx context.Context, schedule *models.Schedule) error {
	s.logger.Debug("Firing scheduled trigger", "workflow_id", schedule.WorkflowID, "trigger_id", schedule.TriggerID)

	_, err := s.engine.ProcessEvent(ctx, models.TriggerEvent{
		Type: models.TriggerTypeScheduled,
		Data: map[string]any{
			"workflow_id":  schedule.WorkflowID,
			"trigger_id":   schedule.TriggerID,
			"scheduled_at": schedule.NextDueAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("fire trigger %s: %w", schedule.TriggerID, err)
	}

	return nil
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
