package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/handlers"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/mocks"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence/memory"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	store    *memory.Persistence
	registry *registry.Registry
	clock    *testutil.Clock
	bus      *mocks.MockEventBus
	engine   *engine.Engine
}

func newHarness(t *testing.T, opts ...engine.Option) *harness {
	t.Helper()

	clock := testutil.NewClock(epoch)
	reg := registry.NewRegistry(log.Discard())
	handlers.New(log.Discard(), clock.Now).Register(reg)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	store := memory.NewPersistence()

	all := append([]engine.Option{
		engine.WithLogger(log.Discard()),
		engine.WithClock(clock.Now),
		engine.WithPublisher(bus),
	}, opts...)

	return &harness{
		store:    store,
		registry: reg,
		clock:    clock,
		bus:      bus,
		engine:   engine.New(store.Workflows(), store.Executions(), reg, all...),
	}
}

func (h *harness) addWorkflow(t *testing.T, wf *models.Workflow) *models.Workflow {
	t.Helper()
	require.NoError(t, h.store.Workflows().Save(context.Background(), wf))

	return wf
}

func (h *harness) start(t *testing.T, wf *models.Workflow, seed map[string]any) *models.WorkflowExecution {
	t.Helper()

	execution, err := h.engine.StartWorkflow(context.Background(), wf.ID, engine.StartRequest{
		ContactID: "c1",
		Context:   seed,
	})
	require.NoError(t, err)

	return execution
}

func (h *harness) reload(t *testing.T, id string) *models.WorkflowExecution {
	t.Helper()

	execution, err := h.engine.GetExecution(context.Background(), id)
	require.NoError(t, err)

	return execution
}

func (h *harness) sweep(t *testing.T, now time.Time) []*models.WorkflowExecution {
	t.Helper()

	resumed, err := h.engine.ResumeDueExecutions(context.Background(), now)
	require.NoError(t, err)

	return resumed
}

func (h *harness) count(eventType string) int {
	n := 0

	for _, published := range h.bus.PublishedTypes() {
		if string(published) == eventType {
			n++
		}
	}

	return n
}

const (
	flakyStep models.StepType = "flaky"
	slowStep  models.StepType = "slow"
	panicStep models.StepType = "panicky"
)

// failingTimes returns a handler that fails its first n invocations.
func failingTimes(n int32) (registry.Handler, *atomic.Int32) {
	var calls atomic.Int32

	return func(_ context.Context, execution *models.WorkflowExecution, _ *models.WorkflowStep) (*registry.Result, error) {
		execution.Context["touched_by_flaky"] = true

		if calls.Add(1) <= n {
			return nil, errors.New("crm unavailable")
		}

		return &registry.Result{Output: map[string]any{"ok": true}}, nil
	}, &calls
}

func scoreStep(id, next string) *models.WorkflowStep {
	return testutil.CreateTestStep(id, models.StepTypeScoreLead, next,
		testutil.WithConfig(map[string]any{"points": 10}))
}

func endStep(id string) *models.WorkflowStep {
	return testutil.CreateTestStep(id, models.StepTypeEnd, "")
}
