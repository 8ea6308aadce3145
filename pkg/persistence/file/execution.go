package file

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// ExecutionRepository stores executions as <dir>/<id>.json. Version checks are
// only atomic within one process.
type ExecutionRepository struct {
	dir string
	mu  sync.RWMutex
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	path, err := documentPath(er.dir, execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	var stored models.WorkflowExecution

	exists := true

	if err := readJSON(path, &stored); err != nil {
		if !isNotExist(err) {
			return persistence.NewExecutionError("Save", execution.ID, err)
		}

		exists = false
	}

	next, err := persistence.NextVersion("Save", execution, stored.Version, exists)
	if err != nil {
		return err
	}

	doc := execution.Clone()
	doc.Version = next

	if err := writeJSON(path, doc); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	execution.Version = next

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	path, err := documentPath(er.dir, id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	er.mu.RLock()
	defer er.mu.RUnlock()

	var execution models.WorkflowExecution
	if err := readJSON(path, &execution); err != nil {
		if isNotExist(err) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.WorkflowExecution, error) {
	all, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	return persistence.FilterExecutions(all, opts), nil
}

func (er *ExecutionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error) {
	all, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	return persistence.FilterDue(all, now, limit), nil
}

func (er *ExecutionRepository) loadAll(ctx context.Context) ([]*models.WorkflowExecution, error) {
	ids, err := documentIDs(er.dir)
	if err != nil {
		return nil, err
	}

	all := make([]*models.WorkflowExecution, 0, len(ids))

	for _, id := range ids {
		execution, err := er.GetByID(ctx, id)
		if persistence.IsExecutionNotFound(err) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
		}

		all = append(all, execution)
	}

	return all, nil
}
