package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	runtime, err := cmd.NewRuntime(context.Background(), log.Discard(), cmd.Config{
		ServiceName: serviceName,
		DatabaseURL: "file://" + t.TempDir(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = runtime.Close(context.Background())
	})

	return NewAPI(log.Discard(), runtime, false).App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t), "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "crmflow API", body)
}

func TestAPI_Probes(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		status, body := get(t, app, path)
		assert.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "OK", body, path)
	}
}

func TestAPI_RoutesAreMounted(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := get(t, app, "/workflows")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", body)

	status, _ = get(t, app, "/health")
	assert.Equal(t, http.StatusOK, status)
}
