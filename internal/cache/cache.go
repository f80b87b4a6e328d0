// Package cache is the risk-aware read-through cache in front of the summary path.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mycelian/cockpit/internal/metrics"
	"github.com/mycelian/cockpit/internal/model"
)

const keyPrefix = "cockpit:summary:"

// TTLs by Today-State. Higher-risk states expire sooner.
const (
	TTLCritical = 10 * time.Second
	TTLScan     = 15 * time.Second
	TTLPending  = 20 * time.Second
	TTLDefault  = 60 * time.Second
)

// TTLFor returns the cache lifetime of a summary in state s.
func TTLFor(s model.TodayState) time.Duration {
	switch s {
	case model.StateCriticalRisk:
		return TTLCritical
	case model.StateScanRequired:
		return TTLScan
	case model.StatePendingActions:
		return TTLPending
	}
	return TTLDefault
}

// Key builds a per-user summary key. There is no key shape without a user.
func Key(userID string, scope model.WalletScope, wallet string) string {
	return keyPrefix + userID + ":" + string(scope) + ":" + strings.ToLower(wallet)
}

func userPrefix(userID string) string { return keyPrefix + userID + ":" }

// Store is a byte cache with per-user invalidation.
//
// Each user has a generation counter that InvalidateUser bumps. Readers take the
// generation before computing a value and pass it to Set; a Set carrying an older
// generation is dropped, so a value computed before a write never lands after it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Generation(ctx context.Context, userID string) (uint64, error)
	// Set stores val unless userID was invalidated since gen was read.
	Set(ctx context.Context, userID string, gen uint64, key string, val []byte, ttl time.Duration) (stored bool, err error)
	// InvalidateUser bumps the generation and drops every cached summary of userID.
	InvalidateUser(ctx context.Context, userID string) error
	HealthPing(ctx context.Context) error
}

// GetJSON decodes a cached value. Backend and decode errors count as misses.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool) {
	var zero T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return zero, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return v, true
}

// SetJSON stores v under key with the TTL for state, provided the user's generation
// still equals gen.
func SetJSON(ctx context.Context, s Store, userID string, gen uint64, key string, state model.TodayState, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cached summary: %w", err)
	}
	stored, err := s.Set(ctx, userID, gen, key, raw, TTLFor(state))
	if err != nil {
		return err
	}
	if !stored {
		metrics.CacheWrites.WithLabelValues("superseded").Inc()
		return nil
	}
	metrics.CacheWrites.WithLabelValues(string(state)).Inc()
	return nil
}
