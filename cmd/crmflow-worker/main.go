// Package main provides the crmflow worker: it consumes trigger events, resumes
// due executions and fires scheduled triggers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/scheduler"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "crmflow-worker"

func newCommand() *cli.Command {
	flags := append([]cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "How often due executions are resumed",
			Value:   scheduler.DefaultSweepInterval,
			Sources: cli.EnvVars("SWEEP_INTERVAL"),
		},
	}, cmd.CommonFlags()...)

	return &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Run CRM workflow executions",
		Flags:                 flags,
		Commands:              []*cli.Command{NewValidateCommand()},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule(serviceName).With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing crmflow worker")

			runtime, err := cmd.NewRuntime(ctx, logger, cmd.ConfigFrom(command, serviceName))
			if err != nil {
				return err
			}

			defer func() {
				if err := runtime.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			sched := scheduler.New(logger, runtime.Engine, runtime.Persistence.Workflows(),
				scheduler.WithSweepInterval(command.Duration("sweep-interval")))

			worker := NewWorkerManager(workerID, logger, runtime.Engine, runtime.EventBus, sched)

			return worker.Start(ctx)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.WithModule(serviceName).Error("crmflow worker exited", "error", err)
		os.Exit(1)
	}
}
