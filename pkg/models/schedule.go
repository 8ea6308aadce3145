package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a schedule has no usable cron expression.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule tracks the next due time of a scheduled trigger so a poller can
// fire it without keeping one timer per trigger.
type Schedule struct {
	WorkflowID     string    `json:"workflow_id"`
	TriggerID      string    `json:"trigger_id"`
	CronExpression string    `json:"cron_expression"`
	NextDueAt      time.Time `json:"next_due_at"`
}

// ParseCron validates a standard 5-field cron expression (descriptors such as @hourly are accepted).
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, ErrInvalidSchedule
	}

	return cronParser.Parse(expr)
}

// NewSchedule computes the first due time after now.
func NewSchedule(workflowID, triggerID, expr string, now time.Time) (*Schedule, error) {
	s := &Schedule{
		WorkflowID:     workflowID,
		TriggerID:      triggerID,
		CronExpression: expr,
	}

	if err := s.Advance(now); err != nil {
		return nil, err
	}

	return s, nil
}

// Advance moves NextDueAt to the first activation strictly after reference.
func (s *Schedule) Advance(reference time.Time) error {
	parsed, err := ParseCron(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = parsed.Next(reference)

	return nil
}

func (s *Schedule) IsDue(now time.Time) bool {
	return !s.NextDueAt.After(now)
}
