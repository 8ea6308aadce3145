// Package engine runs workflow executions: it starts them from trigger events,
// drains their steps through the handler registry, parks them while they wait
// and wakes them when they become due.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxStepsPerDrain = 100
	DefaultRetryBackoff     = 5 * time.Minute
	DefaultSweepBatchSize   = 500
	DefaultSweepConcurrency = 8
)

type Engine struct {
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	registry   *registry.Registry

	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
	clock     func() time.Time
	newID     func() string

	maxStepsPerDrain int
	retryBackoff     time.Duration
	sweepBatchSize   int
	sweepConcurrency int

	locks *keyedMutex

	interruptsMu sync.Mutex
	interrupts   map[string]*interrupt
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithPublisher sets where lifecycle events go. Without one they are dropped.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithMaxStepsPerDrain bounds how many steps one drain may run, so a cycle
// without a wait step fails instead of spinning.
func WithMaxStepsPerDrain(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxStepsPerDrain = n
		}
	}
}

// WithRetryBackoff sets the base delay; retry n waits n times this long.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryBackoff = d
		}
	}
}

func WithSweepBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sweepBatchSize = n
		}
	}
}

func WithSweepConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sweepConcurrency = n
		}
	}
}

func New(
	workflows persistence.WorkflowRepository,
	executions persistence.ExecutionRepository,
	reg *registry.Registry,
	opts ...Option,
) *Engine {
	e := &Engine{
		workflows:        workflows,
		executions:       executions,
		registry:         reg,
		tracer:           otelhelper.NoopTracer(),
		logger:           slog.Default(),
		clock:            func() time.Time { return time.Now().UTC() },
		newID:            uuid.NewString,
		maxStepsPerDrain: DefaultMaxStepsPerDrain,
		retryBackoff:     DefaultRetryBackoff,
		sweepBatchSize:   DefaultSweepBatchSize,
		sweepConcurrency: DefaultSweepConcurrency,
		locks:            newKeyedMutex(),
		interrupts:       make(map[string]*interrupt),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "engine")

	return e
}

func (e *Engine) publish(ctx context.Context, key string, evs []eventbus.Event) {
	if e.publisher == nil {
		return
	}

	for _, event := range evs {
		if err := e.publisher.Publish(ctx, key, event); err != nil {
			e.logger.WarnContext(ctx, "failed to publish lifecycle event",
				"event_type", event.GetType(), "execution_id", key, "error", err)
		}
	}
}

// save stamps and persists the execution, then publishes what happened to it.
func (e *Engine) save(ctx context.Context, execution *models.WorkflowExecution, evs []eventbus.Event) error {
	execution.UpdatedAt = e.clock()

	if err := e.executions.Save(ctx, execution); err != nil {
		return err
	}

	e.publish(ctx, execution.ID, evs)

	return nil
}
