package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

type ExecutionRepository struct {
	client goredis.UniversalClient
	keys   keys
	logger *slog.Logger
}

// Save watches the execution key so a concurrent writer aborts the transaction.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	key := r.keys.execution(execution.ID)

	var next int64

	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		stored, exists, err := r.read(ctx, tx, execution.ID)
		if err != nil {
			return err
		}

		var storedVersion int64
		if exists {
			storedVersion = stored.Version
		}

		next, err = persistence.NextVersion("Save", execution, storedVersion, exists)
		if err != nil {
			return err
		}

		doc := execution.Clone()
		doc.Version = next

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal execution: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, r.keys.executions(), execution.ID)

			if execution.Status == models.ExecutionStatusWaiting && execution.NextExecutionAt != nil {
				pipe.ZAdd(ctx, r.keys.due(), goredis.Z{
					Score:  float64(execution.NextExecutionAt.UnixMilli()),
					Member: execution.ID,
				})
			} else {
				pipe.ZRem(ctx, r.keys.due(), execution.ID)
			}

			return nil
		})

		return err
	}, key)

	if errors.Is(err, goredis.TxFailedErr) {
		return persistence.NewVersionConflictError("Save", execution.ID, execution.Version)
	}

	if err != nil {
		var execErr *persistence.ExecutionError
		if errors.As(err, &execErr) {
			return err
		}

		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	execution.Version = next

	return nil
}

func (r *ExecutionRepository) read(ctx context.Context, cmd goredis.Cmdable, id string) (*models.WorkflowExecution, bool, error) {
	data, err := cmd.Get(ctx, r.keys.execution(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	var execution models.WorkflowExecution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, false, fmt.Errorf("failed to decode execution: %w", err)
	}

	return &execution, true, nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, exists, err := r.read(ctx, r.client, id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	if !exists {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.WorkflowExecution, error) {
	ids, err := r.client.SMembers(ctx, r.keys.executions()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list execution ids: %w", err)
	}

	all, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	return persistence.FilterExecutions(all, opts), nil
}

func (r *ExecutionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error) {
	rangeBy := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}

	ids, err := r.client.ZRangeByScore(ctx, r.keys.due(), rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due executions: %w", err)
	}

	loaded, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	// the index can briefly disagree with the documents; trust the documents
	return persistence.FilterDue(loaded, now, limit), nil
}

func (r *ExecutionRepository) load(ctx context.Context, ids []string) ([]*models.WorkflowExecution, error) {
	if len(ids) == 0 {
		return []*models.WorkflowExecution{}, nil
	}

	docKeys := make([]string, len(ids))
	for i, id := range ids {
		docKeys[i] = r.keys.execution(id)
	}

	values, err := r.client.MGet(ctx, docKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load executions: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(values))

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			r.logger.WarnContext(ctx, "Execution indexed without document", "execution_id", ids[i])

			continue
		}

		var execution models.WorkflowExecution
		if err := json.Unmarshal([]byte(raw), &execution); err != nil {
			return nil, fmt.Errorf("failed to decode execution %s: %w", ids[i], err)
		}

		executions = append(executions, &execution)
	}

	return executions, nil
}
