// Package memory provides an in-process persistence implementation.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// Persistence keeps workflows and executions in maps guarded by mutexes.
// Values are cloned on the way in and out so callers never share state.
type Persistence struct {
	workflows  *WorkflowRepository
	executions *ExecutionRepository
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  &WorkflowRepository{items: make(map[string]*models.Workflow)},
		executions: &ExecutionRepository{items: make(map[string]*models.WorkflowExecution)},
	}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type WorkflowRepository struct {
	mu    sync.RWMutex
	items map[string]*models.Workflow
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[workflow.ID] = workflow.Clone()

	return nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.items[id]
	if !ok {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow.Clone(), nil
}

func (r *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.items))

	for _, w := range r.items {
		if persistence.MatchesWorkflow(w, opts) {
			workflows = append(workflows, w.Clone())
		}
	}

	persistence.SortWorkflows(workflows)

	return workflows, nil
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	delete(r.items, id)

	return nil
}

type ExecutionRepository struct {
	mu    sync.RWMutex
	items map[string]*models.WorkflowExecution
}

func (r *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.items[execution.ID]

	var storedVersion int64
	if exists {
		storedVersion = stored.Version
	}

	next, err := persistence.NextVersion("Save", execution, storedVersion, exists)
	if err != nil {
		return err
	}

	execution.Version = next
	r.items[execution.ID] = execution.Clone()

	return nil
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.items[id]
	if !ok {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return execution.Clone(), nil
}

func (r *ExecutionRepository) List(_ context.Context, opts persistence.ListExecutionsOptions) ([]*models.WorkflowExecution, error) {
	page := persistence.FilterExecutions(r.snapshot(), opts)

	return cloneAll(page), nil
}

func (r *ExecutionRepository) ListDue(_ context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error) {
	return cloneAll(persistence.FilterDue(r.snapshot(), now, limit)), nil
}

func (r *ExecutionRepository) snapshot() []*models.WorkflowExecution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*models.WorkflowExecution, 0, len(r.items))
	for _, e := range r.items {
		all = append(all, e)
	}

	return all
}

func cloneAll(executions []*models.WorkflowExecution) []*models.WorkflowExecution {
	out := make([]*models.WorkflowExecution, len(executions))
	for i, e := range executions {
		out[i] = e.Clone()
	}

	return out
}
