package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/handlers"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/services"
)

// Config is what every crmflow binary is configured with.
type Config struct {
	ServiceName      string
	DatabaseURL      string
	EventBusType     string
	KafkaBrokers     []string
	TracingEnabled   bool
	MaxStepsPerDrain int
}

// Runtime is the wired object graph shared by the API and the worker.
type Runtime struct {
	Logger      *slog.Logger
	Persistence persistence.Persistence
	Registry    *registry.Registry
	Handlers    *handlers.Handlers
	EventBus    eventbus.EventBus
	Engine      *engine.Engine
	Workflows   *services.Workflow

	shutdownTracer otelhelper.ShutdownFunc
}

func NewRuntime(ctx context.Context, logger *slog.Logger, config Config) (*Runtime, error) {
	tracer, shutdownTracer, err := NewTracer(ctx, config.TracingEnabled, config.ServiceName)
	if err != nil {
		return nil, err
	}

	store, err := NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return nil, errors.Join(err, shutdownTracer(ctx))
	}

	bus, err := NewEventBus(config.EventBusType, logger, config.KafkaBrokers, config.ServiceName)
	if err != nil {
		return nil, errors.Join(err, store.Close(ctx), shutdownTracer(ctx))
	}

	reg, h := NewRegistry(logger, nil)

	eng := engine.New(store.Workflows(), store.Executions(), reg,
		engine.WithLogger(logger),
		engine.WithPublisher(bus),
		engine.WithTracer(tracer),
		engine.WithMaxStepsPerDrain(config.MaxStepsPerDrain),
	)

	return &Runtime{
		Logger:         logger,
		Persistence:    store,
		Registry:       reg,
		Handlers:       h,
		EventBus:       bus,
		Engine:         eng,
		Workflows:      services.NewWorkflow(logger, store, reg, h),
		shutdownTracer: shutdownTracer,
	}, nil
}

// Close releases the bus, the store and the tracer, in that order.
func (r *Runtime) Close(ctx context.Context) error {
	return errors.Join(
		r.EventBus.Close(),
		r.Persistence.Close(ctx),
		r.shutdownTracer(ctx),
	)
}
