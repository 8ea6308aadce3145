package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/scheduler"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T) *cmd.Runtime {
	t.Helper()

	runtime, err := cmd.NewRuntime(context.Background(), log.Discard(), cmd.Config{ServiceName: serviceName})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = runtime.Close(context.Background())
	})

	return runtime
}

func seedFormWorkflow(t *testing.T, runtime *cmd.Runtime) *models.Workflow {
	t.Helper()

	ctx := context.Background()

	wf, err := runtime.Workflows.Create(ctx, services.CreateWorkflowRequest{
		Name:     "Demo request follow-up",
		Triggers: []services.TriggerRequest{{TriggerType: models.TriggerTypeFormSubmission}},
	})
	require.NoError(t, err)

	_, err = runtime.Workflows.AddStep(ctx, wf.ID, services.StepRequest{ID: "done", Name: "Done", StepType: models.StepTypeEnd})
	require.NoError(t, err)

	wf, err = runtime.Workflows.Activate(ctx, wf.ID)
	require.NoError(t, err)

	return wf
}

func newWorker(runtime *cmd.Runtime) *WorkerManager {
	sched := scheduler.New(log.Discard(), runtime.Engine, runtime.Persistence.Workflows())

	return NewWorkerManager("test-worker", log.Discard(), runtime.Engine, runtime.EventBus, sched)
}

func TestNewWorkerManager(t *testing.T) {
	t.Parallel()

	runtime := newRuntime(t)
	wm := newWorker(runtime)

	assert.Equal(t, "test-worker", wm.id)
	assert.Equal(t, runtime.Engine, wm.engine)
	assert.Equal(t, runtime.EventBus, wm.eventBus)
}

func TestHandleTriggerReceived(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	runtime := newRuntime(t)
	wf := seedFormWorkflow(t, runtime)
	wm := newWorker(runtime)

	received := events.NewTriggerReceived(models.TriggerEvent{
		Type: models.TriggerTypeFormSubmission,
		Data: map[string]any{"contact_id": "c-1"},
	})
	require.NoError(t, wm.handleTriggerReceived(ctx, &received))

	executions, err := runtime.Engine.ListExecutions(ctx, persistence.ListExecutionsOptions{WorkflowID: wf.ID})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)

	invalid := events.NewTriggerReceived(models.TriggerEvent{Type: "page_viewed"})
	require.NoError(t, wm.handleTriggerReceived(ctx, &invalid), "invalid events are dropped, not redelivered")

	require.NoError(t, wm.handleTriggerReceived(ctx, "not an event"))
}

func TestWorkerConsumesTriggersFromTheBus(t *testing.T) {
	t.Parallel()

	runtime := newRuntime(t)
	wf := seedFormWorkflow(t, runtime)
	wm := newWorker(runtime)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- wm.Start(ctx) }()

	received := events.NewTriggerReceived(models.TriggerEvent{
		Type: models.TriggerTypeFormSubmission,
		Data: map[string]any{"contact_id": "c-2"},
	})

	// the subscription may not be ready on the first publish
	assert.Eventually(t, func() bool {
		_ = runtime.EventBus.Publish(context.Background(), "c-2", received)

		executions, err := runtime.Engine.ListExecutions(context.Background(), persistence.ListExecutionsOptions{
			WorkflowID: wf.ID,
			ContactID:  "c-2",
		})

		return err == nil && len(executions) > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	valid := testutil.CreateTestWorkflow([]*models.WorkflowStep{testutil.CreateTestStep("done", models.StepTypeEnd, "")})
	dangling := testutil.CreateTestWorkflow([]*models.WorkflowStep{
		testutil.CreateTestStep("score", models.StepTypeScoreLead, "ghost", testutil.WithConfig(map[string]any{"points": 1})),
	})

	tests := []struct {
		name          string
		activeInvalid bool
		wantErr       error
	}{
		{name: "inactive invalid workflow is reported only"},
		{name: "active invalid workflow fails", activeInvalid: true, wantErr: ErrInvalidActiveWorkflows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			store, err := file.NewPersistence(dir)
			require.NoError(t, err)

			broken := dangling.Clone()
			broken.IsActive = tt.activeInvalid

			require.NoError(t, store.Workflows().Save(context.Background(), valid.Clone()))
			require.NoError(t, store.Workflows().Save(context.Background(), broken))

			var out bytes.Buffer

			command := newCommand()
			command.Writer = &out

			err = command.Run(context.Background(), []string{serviceName, "--database-url", "file://" + dir, "validate"})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			assert.Contains(t, out.String(), "Summary: 1 valid, 1 invalid")
			assert.Contains(t, out.String(), "INVALID")
		})
	}
}
