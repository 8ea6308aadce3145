package postgresql_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/persistencetest"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"workflow_executions", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func databaseURL(ctx context.Context, t *testing.T) string {
	t.Helper()

	testcontainers.SkipIfProviderIsNotHealthy(t)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("crmflow_test"),
			postgres.WithUsername("crmflow"),
			postgres.WithPassword("crmflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	url, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return url
}

func setupTestDB(t *testing.T) *postgresql.Persistence {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	url := databaseURL(ctx, t)

	dropDb(ctx, t, url)

	store, err := postgresql.NewPersistence(ctx, log.Discard(), url)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close(ctx))
		dropDb(ctx, t, url)
		cancel()
	})

	return store
}

// Subtests share one database, so they run sequentially.
func TestPostgresPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		t.Helper()

		return setupTestDB(t)
	})
}

func TestNewPersistence_MigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	url := databaseURL(ctx, t)

	again, err := postgresql.NewPersistence(ctx, log.Discard(), url)
	require.NoError(t, err)
	require.NoError(t, again.Close(ctx))

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 2, applied)

	require.NoError(t, store.HealthCheck(ctx))
}
