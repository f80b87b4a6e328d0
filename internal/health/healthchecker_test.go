package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	name    string
	healthy atomic.Int32
}

func (f *fakeChecker) Name() string                               { return f.name }
func (f *fakeChecker) IsHealthy() bool                            { return f.healthy.Load() == 1 }
func (f *fakeChecker) Start(ctx context.Context, _ time.Duration) {}

type fakePinger struct{ err atomic.Value }

func (p *fakePinger) HealthPing(context.Context) error {
	if v, ok := p.err.Load().(error); ok && v != nil {
		return v
	}
	return nil
}

func TestServiceHealthChecker_Transitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &fakeChecker{name: "store"}
	b := &fakeChecker{name: "cache"}
	a.healthy.Store(1)
	b.healthy.Store(1)

	var flips atomic.Int32
	svc := NewServiceHealthChecker(zerolog.Nop(), a, b)
	svc.OnTransition(func(bool) { flips.Add(1) })
	go svc.Start(ctx, 10*time.Millisecond)

	waitTrue(t, svc.IsHealthy)

	b.healthy.Store(0)
	waitTrue(t, func() bool { return !svc.IsHealthy() })
	assert.Equal(t, map[string]bool{"store": true, "cache": false}, svc.Components())

	b.healthy.Store(1)
	waitTrue(t, svc.IsHealthy)
	assert.GreaterOrEqual(t, flips.Load(), int32(3))
	assert.Equal(t, []string{"cache", "store"}, svc.Names())
}

func TestPingChecker_Probe(t *testing.T) {
	p := &fakePinger{}
	pc := NewPingChecker("store", p, zerolog.Nop(), 50*time.Millisecond)
	require.False(t, pc.IsHealthy(), "starts unhealthy")

	assert.True(t, pc.Probe(context.Background()))
	assert.True(t, pc.IsHealthy())

	p.err.Store(errors.New("connection refused"))
	assert.False(t, pc.Probe(context.Background()))
	assert.False(t, pc.IsHealthy())
}

func waitTrue(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}
