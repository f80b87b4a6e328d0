package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/cockpit/internal/adapters"
	"github.com/mycelian/cockpit/internal/adapters/upstream"
	"github.com/mycelian/cockpit/internal/auth"
	"github.com/mycelian/cockpit/internal/cache"
	"github.com/mycelian/cockpit/internal/chainhealth"
	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/digest"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/scoring"
	"github.com/mycelian/cockpit/internal/services"
	"github.com/mycelian/cockpit/internal/store/sqlite"
	"github.com/mycelian/cockpit/internal/suppression"
)

var now = time.Date(2026, 1, 9, 16, 10, 0, 0, time.UTC)

type staticFetcher struct{ res adapters.Result }

func (f staticFetcher) Run(context.Context, adapters.Query) adapters.Result { return f.res }

type staticScans struct{}

func (staticScans) ScanStatus(_ context.Context, _ string, wallets []string) ([]upstream.ScanStatus, error) {
	at := now.Add(-time.Hour)
	out := make([]upstream.ScanStatus, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, upstream.ScanStatus{Wallet: w, Chain: "ethereum", LastCompletedAt: &at})
	}
	return out, nil
}

type noChains struct{}

func (noChains) Degraded([]string) []string { return nil }

type upHealth struct{}

func (upHealth) IsHealthy() bool             { return true }
func (upHealth) Components() map[string]bool { return map[string]bool{"store": true} }

type server struct {
	t        *testing.T
	h        http.Handler
	verifier *auth.Verifier
}

func newServer(t *testing.T, limiter *UserLimiter) *server {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	s := sqlite.NewWithDB(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	clk := clock.NewFixed(now)
	c := cache.NewMemory(clk)
	drafts := []model.Action{{
		ID:         adapters.ActionID(model.SourceGuardian, "f1"),
		Lane:       model.LaneProtect,
		Title:      "Revoke unlimited approval",
		Severity:   model.SeverityHigh,
		Provenance: model.ProvenanceConfirmed,
		CTA:        model.CTA{Kind: model.CTAFix, Target: "/protect/f1"},
		EventTime:  now.Add(-time.Hour),
		CreatedAt:  now.Add(-time.Hour),
		Source:     model.Source{Kind: model.SourceGuardian, RefID: "f1"},
	}}
	cockpit := services.NewCockpitService(services.Deps{
		Store:       s,
		Fetcher:     staticFetcher{res: adapters.Result{Drafts: drafts}},
		Scans:       staticScans{},
		Chains:      noChains{},
		Policy:      chainhealth.DefaultPolicy(),
		Engine:      scoring.NewEngine(scoring.NewBurstConfig(nil, time.Hour)),
		Suppression: suppression.New(s.Shown(), clk, zerolog.Nop()),
		Cache:       c,
		Clock:       clk,
		Log:         zerolog.Nop(),
	})
	gen := digest.NewGenerator(s.Pulses(), cockpit, decimal.NewFromInt(5), clk, zerolog.Nop())
	verifier := auth.NewVerifier("test-secret", "cockpit.identity").WithClock(clk.Now)

	router := NewRouter(Deps{
		Cockpit:   cockpit,
		Pulses:    services.NewPulseService(s.UserStates(), gen, c, clk, zerolog.Nop()),
		Prefs:     services.NewPrefsService(s.UserStates(), c, clk),
		Relevance: services.NewRelevanceService(s, c, clk),
		Verifier:  verifier,
		Limiter:   limiter,
		Health:    upHealth{},
		Clock:     clk,
		Log:       zerolog.Nop(),
	})
	return &server{t: t, h: router, verifier: verifier}
}

func (s *server) token(p model.Principal) string {
	tok, err := s.verifier.Issue(p, time.Hour)
	require.NoError(s.t, err)
	return tok
}

var alice = model.Principal{
	UserID:       "alice",
	Wallets:      []model.Wallet{{Address: "0xA", Chain: "ethereum"}},
	ActiveWallet: "0xA",
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		RetryAfterSec int    `json:"retry_after_sec"`
	} `json:"error"`
	Meta struct {
		TS string `json:"ts"`
	} `json:"meta"`
}

func (s *server) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var rd bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&rd).Encode(body))
	}
	req := httptest.NewRequest(method, path, &rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	var env envelope
	require.NoError(s.t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr.Code, env
}

func TestHealthIsPublic(t *testing.T) {
	s := newServer(t, nil)
	code, env := s.do("GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"healthy"`)
	_, err := time.Parse(time.RFC3339, env.Meta.TS)
	assert.NoError(t, err)
}

func TestUnauthenticated(t *testing.T) {
	s := newServer(t, nil)
	code, env := s.do("GET", "/api/v1/cockpit/summary", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
	assert.Equal(t, "null", string(env.Data))

	code, _ = s.do("GET", "/api/v1/cockpit/summary", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSummaryEndpoint(t *testing.T) {
	s := newServer(t, nil)
	tok := s.token(alice)

	code, env := s.do("GET", "/api/v1/cockpit/summary?wallet_scope=active", tok, nil)
	require.Equal(t, http.StatusOK, code)
	var sum struct {
		State   string `json:"state"`
		Actions []struct {
			ID           string `json:"id"`
			Score        int    `json:"score"`
			IsExecutable bool   `json:"is_executable"`
		} `json:"actions"`
		Degraded bool `json:"degraded_mode"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sum))
	assert.Equal(t, "portfolio_anchor", sum.State)
	require.Len(t, sum.Actions, 1)
	assert.Equal(t, 80+70+25, sum.Actions[0].Score)
	assert.True(t, sum.Actions[0].IsExecutable)

	code, env = s.do("GET", "/api/v1/cockpit/summary?wallet_scope=everything", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	mallory := alice
	mallory.ActiveWallet = "0xNOTMINE"
	code, env = s.do("GET", "/api/v1/cockpit/summary", s.token(mallory), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
}

func TestOpenAndRendered(t *testing.T) {
	s := newServer(t, nil)
	tok := s.token(alice)

	code, env := s.do("POST", "/api/v1/cockpit/open", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"recorded":true,"timezone_stored":false}`, string(env.Data))

	code, env = s.do("POST", "/api/v1/cockpit/open", tok, map[string]string{"timezone": "Europe/Berlin"})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"recorded":false,"timezone_stored":true}`, string(env.Data))

	code, env = s.do("POST", "/api/v1/cockpit/rendered", tok, map[string][]string{"dedupe_keys": {"guardian:f1:Fix"}})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"recorded":1}`, string(env.Data))

	code, env = s.do("POST", "/api/v1/cockpit/rendered", tok, map[string][]string{"dedupe_keys": {"a", "b", "c", "d"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestPreferencesEndpoint(t *testing.T) {
	s := newServer(t, nil)
	tok := s.token(alice)

	code, env := s.do("PUT", "/api/v1/cockpit/preferences", tok, map[string]any{"dnd_start_local": "7:00"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, _ = s.do("PUT", "/api/v1/cockpit/preferences", tok, map[string]any{"notif_cap_per_day": 5, "dnd_start_local": "21:30"})
	require.Equal(t, http.StatusOK, code)

	code, env = s.do("GET", "/api/v1/cockpit/preferences", tok, nil)
	require.Equal(t, http.StatusOK, code)
	var p model.Prefs
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 5, p.NotifCapPerDay)
	assert.Equal(t, "21:30", p.DNDStartLocal)
}

func TestPulseEndpoint(t *testing.T) {
	s := newServer(t, nil)
	tok := s.token(alice)

	code, env := s.do("GET", "/api/v1/cockpit/pulse/2026-01-10", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = s.do("GET", "/api/v1/cockpit/pulse/2019-01-01", tok, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	code, env = s.do("GET", "/api/v1/cockpit/pulse", tok, nil)
	require.Equal(t, http.StatusOK, code)
	var p model.DailyPulse
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "2026-01-09", p.Date)
	assert.True(t, p.TZDegraded)
	assert.NotEmpty(t, p.Rows)
}

func TestInvestmentsEndpoint(t *testing.T) {
	s := newServer(t, nil)
	tok := s.token(alice)

	code, _ := s.do("PUT", "/api/v1/cockpit/investments", tok, map[string]string{"kind": "bookmark", "ref_id": "f1"})
	require.Equal(t, http.StatusOK, code)

	code, env := s.do("GET", "/api/v1/cockpit/investments", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"count":1`)

	code, _ = s.do("DELETE", "/api/v1/cockpit/investments/bookmark/f1", tok, nil)
	assert.Equal(t, http.StatusOK, code)
	code, env = s.do("DELETE", "/api/v1/cockpit/investments/bookmark/f1", tok, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestRateLimited(t *testing.T) {
	s := newServer(t, NewUserLimiter(0.5, 1))
	tok := s.token(alice)

	code, _ := s.do("GET", "/api/v1/cockpit/preferences", tok, nil)
	require.Equal(t, http.StatusOK, code)
	code, env := s.do("GET", "/api/v1/cockpit/preferences", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
	assert.Equal(t, 2, env.Error.RetryAfterSec)

	bob := model.Principal{UserID: "bob"}
	code, _ = s.do("GET", "/api/v1/cockpit/preferences", s.token(bob), nil)
	assert.Equal(t, http.StatusOK, code, "buckets are per user")
}
