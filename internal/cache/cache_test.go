package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/model"
)

func TestTTLFor(t *testing.T) {
	assert.Equal(t, 10*time.Second, TTLFor(model.StateCriticalRisk))
	assert.Equal(t, 15*time.Second, TTLFor(model.StateScanRequired))
	assert.Equal(t, 20*time.Second, TTLFor(model.StatePendingActions))
	for _, s := range []model.TodayState{model.StateDailyPulse, model.StatePortfolioAnchor, model.StateOnboarding} {
		assert.Equal(t, 60*time.Second, TTLFor(s), s)
	}
}

func TestKey_PerUser(t *testing.T) {
	assert.Equal(t, "cockpit:summary:u1:active:0xabc", Key("u1", model.ScopeActive, "0xABC"))
	assert.NotEqual(t, Key("u1", model.ScopeAll, ""), Key("u2", model.ScopeAll, ""))
}

type summary struct {
	State string `json:"state"`
}

func TestMemory_ExpiryAndInvalidate(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2026, 1, 9, 16, 0, 0, 0, time.UTC))
	m := NewMemory(clk)

	k1 := Key("u1", model.ScopeActive, "0xa")
	k2 := Key("u1", model.ScopeAll, "")
	other := Key("u10", model.ScopeAll, "")
	require.NoError(t, SetJSON(ctx, m, "u1", 0, k1, model.StateCriticalRisk, summary{State: "critical_risk"}))
	require.NoError(t, SetJSON(ctx, m, "u1", 0, k2, model.StatePortfolioAnchor, summary{State: "portfolio_anchor"}))
	require.NoError(t, SetJSON(ctx, m, "u10", 0, other, model.StatePortfolioAnchor, summary{}))

	got, ok := GetJSON[summary](ctx, m, k1)
	require.True(t, ok)
	assert.Equal(t, "critical_risk", got.State)

	clk.Advance(10 * time.Second)
	_, ok = GetJSON[summary](ctx, m, k1)
	assert.False(t, ok, "critical summaries live 10s")
	_, ok = GetJSON[summary](ctx, m, k2)
	assert.True(t, ok)

	require.NoError(t, m.InvalidateUser(ctx, "u1"))
	_, ok = GetJSON[summary](ctx, m, k2)
	assert.False(t, ok)
	_, ok = GetJSON[summary](ctx, m, other)
	assert.True(t, ok, "prefix match must not cross users")
}

func TestMemory_SupersededWriteIsDropped(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(clock.NewFixed(time.Date(2026, 1, 9, 16, 0, 0, 0, time.UTC)))
	key := Key("u1", model.ScopeAll, "")

	// A summary computation starts, then a rendered ack invalidates the user.
	gen, err := m.Generation(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, m.InvalidateUser(ctx, "u1"))

	stored, err := m.Set(ctx, "u1", gen, key, []byte(`{"state":"stale"}`), TTLDefault)
	require.NoError(t, err)
	assert.False(t, stored)
	_, ok := GetJSON[summary](ctx, m, key)
	assert.False(t, ok, "value computed before the invalidation must not be cached")

	fresh, err := m.Generation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, gen+1, fresh)
	require.NoError(t, SetJSON(ctx, m, "u1", fresh, key, model.StatePortfolioAnchor, summary{State: "fresh"}))
	got, ok := GetJSON[summary](ctx, m, key)
	require.True(t, ok)
	assert.Equal(t, "fresh", got.State)

	other, _ := m.Generation(ctx, "u2")
	assert.Zero(t, other, "generations are per user")
}

func TestMemory_WritesSweepExpiredEntries(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2026, 1, 9, 16, 0, 0, 0, time.UTC))
	m := NewMemory(clk)

	for _, u := range []string{"gone1", "gone2", "gone3"} {
		_, err := m.Set(ctx, u, 0, Key(u, model.ScopeAll, ""), []byte(`{}`), TTLCritical)
		require.NoError(t, err)
	}
	require.NoError(t, m.InvalidateUser(ctx, "gone1"))

	clk.Advance(30 * time.Second)
	_, err := m.Set(ctx, "u1", 0, Key("u1", model.ScopeAll, ""), []byte(`{}`), TTLDefault)
	require.NoError(t, err)
	assert.Len(t, m.m, 3, "no sweep before the sweep interval")

	clk.Advance(2 * time.Hour)
	_, err = m.Set(ctx, "u1", 0, Key("u1", model.ScopeActive, "0xa"), []byte(`{}`), TTLDefault)
	require.NoError(t, err)
	assert.Len(t, m.m, 1, "expired keys of users who never return are swept")
	assert.Empty(t, m.gens, "idle generation counters are swept")
}

func TestRedis_GetSet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	r := NewRedis(db)
	key := Key("u1", model.ScopeActive, "0xa")

	mock.ExpectGet(key).RedisNil()
	_, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectGet("cockpit:summary:u1:gen").RedisNil()
	gen, err := r.Generation(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, gen)

	scriptKeys := []string{"cockpit:summary:u1:gen", key, "cockpit:summary:u1:keys"}
	mock.ExpectEvalSha(setScript.Hash(), scriptKeys,
		"0", []byte(`{"state":"pending_actions"}`), TTLPending.Milliseconds(), indexTTL.Milliseconds()).SetVal(int64(1))
	require.NoError(t, SetJSON(ctx, r, "u1", gen, key, model.StatePendingActions, summary{State: "pending_actions"}))

	mock.ExpectEvalSha(setScript.Hash(), scriptKeys,
		"0", []byte(`{"state":"pending_actions"}`), TTLPending.Milliseconds(), indexTTL.Milliseconds()).SetVal(int64(0))
	stored, err := r.Set(ctx, "u1", gen, key, []byte(`{"state":"pending_actions"}`), TTLPending)
	require.NoError(t, err)
	assert.False(t, stored, "generation moved on")

	mock.ExpectGet(key).SetVal(`{"state":"pending_actions"}`)
	got, ok := GetJSON[summary](ctx, r, key)
	require.True(t, ok)
	assert.Equal(t, "pending_actions", got.State)

	mock.ExpectGet(key).SetErr(errors.New("connection reset"))
	_, ok = GetJSON[summary](ctx, r, key)
	assert.False(t, ok, "backend errors are misses")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_InvalidateUser(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	r := NewRedis(db)

	mock.ExpectIncr("cockpit:summary:u1:gen").SetVal(1)
	mock.ExpectExpire("cockpit:summary:u1:gen", genTTL).SetVal(true)
	mock.ExpectSMembers("cockpit:summary:u1:keys").SetVal([]string{"cockpit:summary:u1:active:0xa"})
	mock.ExpectDel("cockpit:summary:u1:active:0xa", "cockpit:summary:u1:keys").SetVal(2)
	require.NoError(t, r.InvalidateUser(ctx, "u1"))

	mock.ExpectPing().SetVal("PONG")
	require.NoError(t, r.HealthPing(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
