package cmd

import (
	"github.com/dukex/crmflow/pkg/channels/kafka"
	"github.com/dukex/crmflow/pkg/engine"
	"github.com/urfave/cli/v3"
)

// CommonFlags are accepted by every crmflow binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL (memory://, file://path, postgres://..., redis://...)",
			Value:   "memory://",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.IntFlag{
			Name:    "max-steps-per-drain",
			Usage:   "Steps one execution may run before it is failed as a runaway",
			Value:   engine.DefaultMaxStepsPerDrain,
			Sources: cli.EnvVars("MAX_STEPS_PER_DRAIN"),
		},
		&cli.BoolFlag{
			Name:    "tracing-enabled",
			Usage:   "Export OpenTelemetry spans over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// ConfigFrom reads the common flags of command.
func ConfigFrom(command *cli.Command, serviceName string) Config {
	return Config{
		ServiceName:      serviceName,
		DatabaseURL:      command.String("database-url"),
		EventBusType:     command.String("event-bus"),
		KafkaBrokers:     kafka.ParseBrokers(command.String("kafka-brokers")),
		TracingEnabled:   command.Bool("tracing-enabled"),
		MaxStepsPerDrain: command.Int("max-steps-per-drain"),
	}
}
