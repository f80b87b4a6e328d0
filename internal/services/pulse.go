package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mycelian/cockpit/internal/cache"
	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/digest"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/store"
)

// PulseService reads daily pulses, generating them on first access.
type PulseService struct {
	users store.UserStates
	gen   *digest.Generator
	cache cache.Store
	clock clock.Clock
	log   zerolog.Logger
}

func NewPulseService(users store.UserStates, gen *digest.Generator, c cache.Store, clk clock.Clock, log zerolog.Logger) *PulseService {
	return &PulseService{users: users, gen: gen, cache: c, clock: clk, log: log}
}

// Get returns the pulse for date in the caller's persisted timezone. Reading today's
// pulse marks it viewed, which retires the daily_pulse state.
func (s *PulseService) Get(ctx context.Context, userID, date string) (*model.DailyPulse, error) {
	user, err := loadUser(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := digest.ValidateDate(user, date, now); err != nil {
		return nil, err
	}
	pulse, _, err := s.gen.Generate(ctx, user, date, digest.TriggerLazy)
	if err != nil {
		return nil, err
	}

	today, _ := digest.Today(user, now)
	if date == today && user.LastPulseViewedDate != today {
		if err := s.users.MarkPulseViewed(ctx, userID, date, now); err != nil {
			s.log.Warn().Err(err).Str("op", "users.mark_pulse_viewed").Str("user_id", userID).Msg("pulse view not recorded")
		} else if err := s.cache.InvalidateUser(ctx, userID); err != nil {
			s.log.Warn().Err(err).Str("op", "cache.invalidate").Str("user_id", userID).Msg("summary cache not invalidated")
		}
	}
	return pulse, nil
}
