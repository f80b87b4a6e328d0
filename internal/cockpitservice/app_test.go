package cockpitservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/config"
	"github.com/mycelian/cockpit/internal/model"
)

func TestBuild_WiresEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.NewForTesting()
	clk := clock.NewFixed(time.Date(2026, 1, 9, 16, 10, 0, 0, time.UTC))
	app, err := Build(ctx, cfg, clk, zerolog.Nop())
	require.NoError(t, err)
	defer app.Close()

	svcHealth := startHealthCheckers(ctx, app)
	require.NoError(t, waitUntilHealthy(ctx, cfg, svcHealth))
	assert.ElementsMatch(t, []string{"cache", "store"}, svcHealth.Names())

	router := app.Router(svcHealth)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"healthy"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	tok, err := app.Verifier.Issue(model.Principal{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cockpit/preferences", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	assert.Zero(t, app.Scheduler.RunOnce(ctx), "no users yet")
}

func TestBuild_RejectsBadThreshold(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.PortfolioDeltaThresholdPct = "five"
	_, err := Build(context.Background(), cfg, clock.Real{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestStartupWindow(t *testing.T) {
	assert.Equal(t, time.Minute, startupWindow(1))
	assert.Equal(t, 2*time.Minute, startupWindow(60))
}
