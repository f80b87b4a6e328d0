package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mycelian/cockpit/internal/clock"
)

const (
	// memorySweepEvery spaces out expiry sweeps triggered by writes.
	memorySweepEvery = time.Minute
	// genIdle is how long an untouched invalidation counter is kept; no summary
	// computation outlives it.
	genIdle = time.Hour
)

type entry struct {
	b   []byte
	exp time.Time
}

type generation struct {
	n    uint64
	seen time.Time
}

// Memory is a process-local Store used when no Redis address is configured.
type Memory struct {
	clock clock.Clock

	mu        sync.Mutex
	m         map[string]entry
	gens      map[string]generation
	lastSweep time.Time
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{clock: clk, m: make(map[string]entry), gens: make(map[string]generation), lastSweep: clk.Now()}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	if !c.clock.Now().Before(e.exp) {
		delete(c.m, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.b...), true, nil
}

func (c *Memory) Generation(_ context.Context, userID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[userID].n, nil
}

func (c *Memory) Set(_ context.Context, userID string, gen uint64, key string, val []byte, ttl time.Duration) (bool, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) >= memorySweepEvery {
		c.sweep(now)
	}
	if c.gens[userID].n != gen {
		return false, nil
	}
	c.m[key] = entry{b: append([]byte(nil), val...), exp: now.Add(ttl)}
	return true, nil
}

func (c *Memory) InvalidateUser(_ context.Context, userID string) error {
	prefix := userPrefix(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.gens[userID]
	c.gens[userID] = generation{n: g.n + 1, seen: c.clock.Now()}
	for k := range c.m {
		if strings.HasPrefix(k, prefix) {
			delete(c.m, k)
		}
	}
	return nil
}

// HealthPing always succeeds.
func (c *Memory) HealthPing(context.Context) error { return nil }

// sweep drops expired entries and idle counters. Callers hold mu.
func (c *Memory) sweep(now time.Time) {
	for k, e := range c.m {
		if !now.Before(e.exp) {
			delete(c.m, k)
		}
	}
	for id, g := range c.gens {
		if now.Sub(g.seen) > genIdle {
			delete(c.gens, id)
		}
	}
	c.lastSweep = now
}
