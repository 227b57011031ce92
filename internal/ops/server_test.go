package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/roombot/internal/health"
	"github.com/p-blackswan/roombot/internal/metrics"
	"github.com/p-blackswan/roombot/internal/requestid"
)

func testApp(t *testing.T, sessionStatus health.Status, m *metrics.Metrics, status StatusFunc) *fiber.App {
	t.Helper()
	logger := zerolog.Nop()
	checker := health.NewChecker(logger)
	checker.Register("store", func(context.Context) health.Status { return health.StatusOK })
	checker.Register("session", func(context.Context) health.Status { return sessionStatus })
	return NewServer(Config{ListenAddr: ":0"}, checker, m, status, logger).App()
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestServer_Healthz(t *testing.T) {
	app := testApp(t, health.StatusOK, nil, nil)

	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Header.Get(requestid.Header), 36)
	assert.Equal(t, "ok", decode(t, resp)["status"])
}

func TestServer_RequestIDIsEchoed(t *testing.T) {
	app := testApp(t, health.StatusOK, nil, nil)
	id := "0b5b8a52-3c1e-4c64-9d1a-6f1a4f0e7a11"

	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestid.Header, id)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, id, resp.Header.Get(requestid.Header))
}

func TestServer_Readyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		app := testApp(t, health.StatusDegraded, nil, nil)
		req, _ := http.NewRequest(http.MethodGet, "/readyz", nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode(t, resp)
		assert.Equal(t, "ready", body["status"])
		assert.Equal(t, "degraded", body["checks"].(map[string]any)["session"])
	})

	t.Run("not ready", func(t *testing.T) {
		app := testApp(t, health.StatusDown, nil, nil)
		req, _ := http.NewRequest(http.MethodGet, "/readyz", nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "not_ready", decode(t, resp)["status"])
	})
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	m.RecordLogin("ok")
	app := testApp(t, health.StatusOK, m, nil)

	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "roombot_login_attempts_total")
}

func TestServer_MetricsWithoutCollector(t *testing.T) {
	app := testApp(t, health.StatusOK, nil, nil)
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "No metrics collector")
}

func TestServer_Status(t *testing.T) {
	app := testApp(t, health.StatusOK, nil, func() any {
		return map[string]any{"bot_id": "bot-alpha-1", "ticks": 3}
	})
	req, _ := http.NewRequest(http.MethodGet, "/status", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "bot-alpha-1", body["bot_id"])
	assert.Equal(t, float64(3), body["ticks"])
}

func TestServer_StatusMissing(t *testing.T) {
	app := testApp(t, health.StatusOK, nil, nil)
	req, _ := http.NewRequest(http.MethodGet, "/status", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "status not available", decode(t, resp)["error"])
}
