package file

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// WorkflowRepository stores workflows as <dir>/<id>.json.
type WorkflowRepository struct {
	dir string
	mu  sync.RWMutex
}

func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	path, err := documentPath(wr.dir, workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	if err := writeJSON(path, workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	path, err := documentPath(wr.dir, id)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	wr.mu.RLock()
	defer wr.mu.RUnlock()

	var workflow models.Workflow
	if err := readJSON(path, &workflow); err != nil {
		if isNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	ids, err := documentIDs(wr.dir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.GetByID(ctx, id)
		if persistence.IsWorkflowNotFound(err) {
			// deleted between listing and reading
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		if persistence.MatchesWorkflow(workflow, opts) {
			workflows = append(workflows, workflow)
		}
	}

	persistence.SortWorkflows(workflows)

	return workflows, nil
}

func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	path, err := documentPath(wr.dir, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if isNotExist(err) {
			return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}
