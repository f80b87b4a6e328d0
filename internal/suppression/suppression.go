// Package suppression records rendered actions and reports recent repeats.
package suppression

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/metrics"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/scoring"
	"github.com/mycelian/cockpit/internal/store"
)

const (
	// RefreshGuard is the minimum age of a row before a render may refresh it.
	RefreshGuard = 30 * time.Second
	// MaxRenderedKeys bounds one acknowledgment.
	MaxRenderedKeys = 3
)

// Service wraps the shown-actions table. Storage failures degrade to "nothing shown".
type Service struct {
	shown store.Shown
	clock clock.Clock
	log   zerolog.Logger
}

func New(shown store.Shown, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{shown: shown, clock: clk, log: log}
}

// Recent returns render times inside the suppression window for keys.
func (s *Service) Recent(ctx context.Context, userID string, keys []string) map[string]time.Time {
	now := s.clock.Now()
	got, err := s.shown.Since(ctx, userID, keys, now.Add(-scoring.SuppressionWindow))
	if err != nil {
		s.log.Warn().Err(err).Str("op", "shown.since").Str("user_id", userID).Msg("suppression read failed, scoring without penalties")
		return map[string]time.Time{}
	}
	return got
}

// ValidateKeys checks an acknowledgment payload.
func ValidateKeys(keys []string) error {
	if len(keys) == 0 {
		return model.Invalid("dedupe_keys", "at least one key required")
	}
	if len(keys) > MaxRenderedKeys {
		return model.Invalid("dedupe_keys", "at most %d keys, got %d", MaxRenderedKeys, len(keys))
	}
	for _, k := range keys {
		if k == "" {
			return model.Invalid("dedupe_keys", "empty key")
		}
	}
	return nil
}

// RecordRendered upserts one row per key and returns how many were written or
// refreshed. Write failures are logged and skipped.
func (s *Service) RecordRendered(ctx context.Context, userID string, keys []string) int {
	now := s.clock.Now()
	seen := make(map[string]bool, len(keys))
	written := 0
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		ok, err := s.shown.Upsert(ctx, userID, k, now, RefreshGuard)
		if err != nil {
			s.log.Warn().Err(err).Str("op", "shown.upsert").Str("user_id", userID).Str("dedupe_key", k).Msg("suppression write failed")
			continue
		}
		if ok {
			written++
		}
	}
	return written
}

// Prune deletes rows that can no longer apply a penalty.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	n, err := s.shown.PruneBefore(ctx, s.clock.Now().Add(-scoring.SuppressionWindow))
	if err != nil {
		return 0, err
	}
	metrics.ShownPruned.Add(float64(n))
	return n, nil
}

// StartPruner runs Prune every interval until ctx is cancelled.
func (s *Service) StartPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune(ctx)
			if err != nil {
				s.log.Warn().Err(err).Str("op", "shown.prune").Msg("suppression prune failed")
				continue
			}
			if n > 0 {
				s.log.Debug().Int64("deleted", n).Msg("pruned suppression rows")
			}
		}
	}
}
