package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

type WorkflowRepository struct {
	client goredis.UniversalClient
	keys   keys
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	data, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to marshal workflow: %w", err))
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.keys.workflow(workflow.ID), data, 0)
		pipe.SAdd(ctx, r.keys.workflows(), workflow.ID)

		return nil
	})
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	data, err := r.client.Get(ctx, r.keys.workflow(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, fmt.Errorf("failed to decode workflow: %w", err))
	}

	return &workflow, nil
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	ids, err := r.client.SMembers(ctx, r.keys.workflows()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow ids: %w", err)
	}

	if len(ids) == 0 {
		return []*models.Workflow{}, nil
	}

	docKeys := make([]string, len(ids))
	for i, id := range ids {
		docKeys[i] = r.keys.workflow(id)
	}

	values, err := r.client.MGet(ctx, docKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(values))

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}

		var workflow models.Workflow
		if err := json.Unmarshal([]byte(raw), &workflow); err != nil {
			return nil, fmt.Errorf("failed to decode workflow: %w", err)
		}

		if persistence.MatchesWorkflow(&workflow, opts) {
			workflows = append(workflows, &workflow)
		}
	}

	persistence.SortWorkflows(workflows)

	return workflows, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	var deleted *goredis.IntCmd

	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		deleted = pipe.Del(ctx, r.keys.workflow(id))
		pipe.SRem(ctx, r.keys.workflows(), id)

		return nil
	})
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if deleted.Val() == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}
