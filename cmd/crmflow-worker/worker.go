package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/scheduler"
)

const shutdownTimeout = 30 * time.Second

type WorkerManager struct {
	id        string
	logger    *slog.Logger
	engine    *engine.Engine
	eventBus  eventbus.EventBus
	scheduler *scheduler.Scheduler
}

func NewWorkerManager(
	id string,
	logger *slog.Logger,
	eng *engine.Engine,
	eventBus eventbus.EventBus,
	sched *scheduler.Scheduler,
) *WorkerManager {
	return &WorkerManager{
		id:        id,
		logger:    logger.With("module", "crmflow-worker", "worker_id", id),
		engine:    eng,
		eventBus:  eventBus,
		scheduler: sched,
	}
}

// Start consumes trigger events and runs the scheduler until ctx is done.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.TriggerReceivedEvent, w.handleTriggerReceived)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if err := w.scheduler.Start(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	w.logger.Info("Shutting down worker...")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return w.scheduler.Stop(stopCtx)
}

// handleTriggerReceived runs the matcher for an event taken off the bus. An
// error is returned, and the message redelivered, only when nothing started:
// redelivering after a partial start would start the matched workflows twice.
func (w *WorkerManager) handleTriggerReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.TriggerReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TriggerReceived")

		return nil
	}

	logger := w.logger.With(
		"event_id", received.ID,
		"trigger_type", received.Event.Type,
	)
	logger.DebugContext(ctx, "Processing trigger event")

	started, err := w.engine.ProcessEvent(ctx, received.Event)

	switch {
	case errors.Is(err, engine.ErrInvalidEvent):
		logger.WarnContext(ctx, "Dropping invalid trigger event", "error", err)

		return nil
	case err != nil && len(started) == 0:
		logger.ErrorContext(ctx, "Failed to process trigger event", "error", err)

		return err
	case err != nil:
		logger.ErrorContext(ctx, "Trigger event partially processed", "started", len(started), "error", err)
	}

	logger.InfoContext(ctx, "Trigger event processed", "started", len(started))

	return nil
}
