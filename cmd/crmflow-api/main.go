package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort = 9091
	serviceName = "crmflow-api"
)

func main() {
	flags := append([]cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "queue-events",
			Usage:   "Publish POST /events to the bus for workers instead of processing them in the API",
			Sources: cli.EnvVars("QUEUE_EVENTS"),
		},
	}, cmd.CommonFlags()...)

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Author CRM workflows and control their executions",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing crmflow API")

			runtime, err := cmd.NewRuntime(ctx, logger, cmd.ConfigFrom(command, serviceName))
			if err != nil {
				return err
			}

			defer func() {
				if err := runtime.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			api := NewAPI(logger, runtime, command.Bool("queue-events"))

			return api.Start(ctx, command.Int("port"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("api").Error("crmflow API exited", "error", err)
		os.Exit(1)
	}
}
