package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// ExecutionRepository keeps the full execution in a JSONB document and mirrors
// the filter columns. Updates are guarded by "WHERE version = $n".
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	next := execution.Version + 1

	doc := execution.Clone()
	doc.Version = next

	document, err := json.Marshal(doc)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	var nextAt any
	if execution.NextExecutionAt != nil {
		nextAt = execution.NextExecutionAt.UTC()
	}

	var result sql.Result

	if execution.Version == 0 {
		result, err = r.db.ExecContext(ctx, `
			INSERT INTO workflow_executions
				(id, workflow_id, contact_id, company_id, status, next_execution_at, started_at, updated_at, version, document)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`,
			execution.ID, execution.WorkflowID, execution.ContactID, execution.CompanyID, string(execution.Status),
			nextAt, execution.StartedAt.UTC(), execution.UpdatedAt.UTC(), next, document,
		)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE workflow_executions SET
				workflow_id = $2
			  , contact_id = $3
			  , company_id = $4
			  , status = $5
			  , next_execution_at = $6
			  , updated_at = $7
			  , version = $8
			  , document = $9
			WHERE id = $1 AND version = $10
		`,
			execution.ID, execution.WorkflowID, execution.ContactID, execution.CompanyID, string(execution.Status),
			nextAt, execution.UpdatedAt.UTC(), next, document, execution.Version,
		)
	}

	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to save execution: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	if affected == 0 {
		return r.missedWrite(ctx, execution)
	}

	execution.Version = next

	return nil
}

// missedWrite tells a stale version apart from a row that does not exist.
func (r *ExecutionRepository) missedWrite(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.Version == 0 {
		return persistence.NewVersionConflictError("Save", execution.ID, execution.Version)
	}

	var exists bool

	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, execution.ID).Scan(&exists)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	if !exists {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrExecutionNotFound)
	}

	return persistence.NewVersionConflictError("Save", execution.ID, execution.Version)
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, `SELECT document FROM workflow_executions WHERE id = $1`, id).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, fmt.Errorf("failed to query execution: %w", err))
	}

	return decodeExecution(document)
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.WorkflowExecution, error) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 6)

	addFilter := func(column, value string) {
		if value == "" {
			return
		}

		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	addFilter("workflow_id", opts.WorkflowID)
	addFilter("status", string(opts.Status))
	addFilter("contact_id", opts.ContactID)
	addFilter("company_id", opts.CompanyID)

	query := `SELECT document FROM workflow_executions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}

	limit, offset := persistence.NormalizePage(opts.Limit, opts.Offset)
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY started_at, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return r.query(ctx, query, args...)
}

func (r *ExecutionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT document FROM workflow_executions
		WHERE status = $1 AND next_execution_at <= $2
		ORDER BY next_execution_at, id
	`
	args := []any{string(models.ExecutionStatusWaiting), now.UTC()}

	if limit > 0 {
		query += ` LIMIT $3`

		args = append(args, limit)
	}

	return r.query(ctx, query, args...)
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		execution, err := decodeExecution(document)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func decodeExecution(document []byte) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution
	if err := json.Unmarshal(document, &execution); err != nil {
		return nil, fmt.Errorf("failed to decode execution document: %w", err)
	}

	return &execution, nil
}
