package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/service"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	cfg := config.Config{AppName: "GEMA Grader", AppEnv: "test", AIProvider: "openai", RateLimitMax: 5, RateLimitWindow: time.Minute}
	logger := zerolog.Nop()
	svc := service.NewAnalysisService(
		service.NewGradingService(nil, logger),
		repository.NewMemoryReportRepository(time.Minute, 4),
		nil,
		nil,
		logger,
		service.AnalysisConfig{WorkspaceRoot: t.TempDir()},
	)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	Register(app, cfg, Dependencies{AnalysisHandler: handler.NewAnalysisHandler(svc, logger)})
	return app
}

func TestHealthRoute(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "GEMA Grader", resp.Header.Get("X-Application"))
	require.NotEmpty(t, resp.Header.Get(middleware.HeaderCorrelationID))

	var payload struct {
		Success bool                   `json:"success"`
		Data    handler.HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.True(t, payload.Success)
	require.Equal(t, "ok", payload.Data.Status)
	require.Equal(t, "disabled", payload.Data.Grader)
}

func TestMissingReportReturnsNotFound(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/reports/unknown/download", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestMetricsRouteExposesAPICounters(t *testing.T) {
	app := newTestApp(t)

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil), -1)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "api_requests_total"))
}
