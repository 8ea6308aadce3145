// Package persistence provides the storage abstraction for workflow definitions and executions.
package persistence

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type ListWorkflowsOptions struct {
	ActiveOnly  bool
	TriggerType models.TriggerType
}

type ListExecutionsOptions struct {
	WorkflowID string
	Status     models.ExecutionStatus
	ContactID  string
	CompanyID  string
	Limit      int
	Offset     int
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) ([]*models.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores executions with optimistic concurrency. Save
// inserts when Version is 0; otherwise the stored version must equal Version.
// On success the execution's Version is incremented in place.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	List(ctx context.Context, opts ListExecutionsOptions) ([]*models.WorkflowExecution, error)
	// ListDue returns WAITING executions whose next_execution_at is at or before now,
	// earliest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error)
}

type Persistence interface {
	Workflows() WorkflowRepository
	Executions() ExecutionRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// NextVersion checks the optimistic concurrency token of an execution about to
// be written and returns the version to store.
func NextVersion(op string, execution *models.WorkflowExecution, storedVersion int64, exists bool) (int64, error) {
	switch {
	case execution.Version == 0 && exists:
		return 0, NewVersionConflictError(op, execution.ID, execution.Version)
	case execution.Version != 0 && !exists:
		return 0, NewExecutionError(op, execution.ID, ErrExecutionNotFound)
	case exists && storedVersion != execution.Version:
		return 0, NewVersionConflictError(op, execution.ID, execution.Version)
	}

	return execution.Version + 1, nil
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateID rejects identifiers that are unsafe as file names or keys.
func ValidateID(id string) error {
	if !validID.MatchString(id) || strings.Contains(id, "..") {
		return ErrInvalidID
	}

	return nil
}

// MatchesWorkflow reports whether workflow passes opts.
func MatchesWorkflow(workflow *models.Workflow, opts ListWorkflowsOptions) bool {
	if opts.ActiveOnly && !workflow.IsActive {
		return false
	}

	if opts.TriggerType != "" {
		return slices.ContainsFunc(workflow.Triggers, func(t *models.WorkflowTrigger) bool {
			return t != nil && t.TriggerType == opts.TriggerType
		})
	}

	return true
}

// SortWorkflows orders workflows by creation time, then id.
func SortWorkflows(workflows []*models.Workflow) {
	slices.SortFunc(workflows, func(a, b *models.Workflow) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})
}

// MatchesExecution reports whether execution passes the filters of opts.
func MatchesExecution(execution *models.WorkflowExecution, opts ListExecutionsOptions) bool {
	return (opts.WorkflowID == "" || execution.WorkflowID == opts.WorkflowID) &&
		(opts.Status == "" || execution.Status == opts.Status) &&
		(opts.ContactID == "" || execution.ContactID == opts.ContactID) &&
		(opts.CompanyID == "" || execution.CompanyID == opts.CompanyID)
}

// FilterExecutions applies filters, ordering (started_at, then id) and pagination.
func FilterExecutions(all []*models.WorkflowExecution, opts ListExecutionsOptions) []*models.WorkflowExecution {
	filtered := make([]*models.WorkflowExecution, 0, len(all))

	for _, e := range all {
		if MatchesExecution(e, opts) {
			filtered = append(filtered, e)
		}
	}

	slices.SortFunc(filtered, func(a, b *models.WorkflowExecution) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	limit, offset := NormalizePage(opts.Limit, opts.Offset)
	if offset >= len(filtered) {
		return []*models.WorkflowExecution{}
	}

	end := min(offset+limit, len(filtered))

	return filtered[offset:end]
}

// NormalizePage applies the default and maximum page size.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

// FilterDue keeps due executions, earliest first, up to limit (0 means no limit).
func FilterDue(all []*models.WorkflowExecution, now time.Time, limit int) []*models.WorkflowExecution {
	due := make([]*models.WorkflowExecution, 0)

	for _, e := range all {
		if e.IsDue(now) {
			due = append(due, e)
		}
	}

	slices.SortFunc(due, func(a, b *models.WorkflowExecution) int {
		if c := a.NextExecutionAt.Compare(*b.NextExecutionAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due
}
