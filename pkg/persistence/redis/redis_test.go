package redis_test

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/persistencetest"
	"github.com/dukex/crmflow/pkg/persistence/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*redis.Persistence, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)

	store, err := redis.NewPersistence(context.Background(), log.Discard(), "redis://"+server.Addr())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(context.Background()) })

	return store, server
}

func TestRedisPersistence(t *testing.T) {
	t.Parallel()

	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		t.Helper()

		store, _ := newStore(t)

		return store
	})
}

func TestRedisPersistence_KeysArePrefixed(t *testing.T) {
	t.Parallel()

	store, server := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Workflows().Save(ctx, &models.Workflow{ID: "wf-1", Name: "Keys"}))
	require.NoError(t, store.Executions().Save(ctx, &models.WorkflowExecution{ID: "e-1", WorkflowID: "wf-1"}))

	assert.True(t, server.Exists("crmflow:workflow:wf-1"))
	assert.True(t, server.Exists("crmflow:execution:e-1"))

	members, err := server.SMembers("crmflow:executions")
	require.NoError(t, err)
	assert.Equal(t, []string{"e-1"}, members)
}

func TestRedisPersistence_ConcurrentWritersConflict(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	ctx := context.Background()

	exec := &models.WorkflowExecution{ID: "e-1", WorkflowID: "wf-1", Status: models.ExecutionStatusRunning}
	require.NoError(t, store.Executions().Save(ctx, exec))

	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for range writers {
		copyOf := exec.Clone()

		wg.Add(1)

		go func() {
			defer wg.Done()

			err := store.Executions().Save(ctx, copyOf)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				succeeded++
			case persistence.IsVersionConflict(err):
				conflicts++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)

	final, err := store.Executions().GetByID(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), final.Version)
}

func TestRedisPersistence_HealthCheckFailsWhenServerDown(t *testing.T) {
	t.Parallel()

	store, server := newStore(t)
	server.Close()

	require.Error(t, store.HealthCheck(context.Background()))
}
