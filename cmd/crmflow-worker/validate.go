package main

import (
	"context"
	"fmt"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/urfave/cli/v3"
)

var ErrInvalidActiveWorkflows = fmt.Errorf("%w: active workflows failed validation", services.ErrInvalidWorkflow)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate every stored workflow graph",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("crmflow-worker").With("action", "validate")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			reg, h := cmd.NewRegistry(logger, nil)
			workflowService := services.NewWorkflow(logger, store, reg, h)

			workflows, err := store.Workflows().List(ctx, persistence.ListWorkflowsOptions{})
			if err != nil {
				return fmt.Errorf("failed to fetch workflows: %w", err)
			}

			out := command.Root().Writer

			_, _ = fmt.Fprintln(out, "Workflow Validation Results:")
			_, _ = fmt.Fprintln(out, "============================")

			valid, invalid, invalidActive := 0, 0, 0

			for _, workflow := range workflows {
				state := "inactive"
				if workflow.IsActive {
					state = "active"
				}

				_, _ = fmt.Fprintf(out, "\nWorkflow: %s (%s, %s)\n", workflow.Name, workflow.ID, state)

				if err := workflowService.Validate(workflow); err != nil {
					invalid++

					if workflow.IsActive {
						invalidActive++
					}

					_, _ = fmt.Fprintf(out, "  INVALID: %v\n", err)

					continue
				}

				valid++

				_, _ = fmt.Fprintln(out, "  VALID")
			}

			_, _ = fmt.Fprintf(out, "\nSummary: %d valid, %d invalid\n", valid, invalid)

			if invalidActive > 0 {
				return ErrInvalidActiveWorkflows
			}

			return nil
		},
	}
}
