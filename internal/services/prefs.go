package services

import (
	"context"
	"fmt"

	"github.com/mycelian/cockpit/internal/cache"
	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/prefs"
	"github.com/mycelian/cockpit/internal/store"
)

type PrefsService struct {
	users store.UserStates
	cache cache.Store
	clock clock.Clock
}

func NewPrefsService(users store.UserStates, c cache.Store, clk clock.Clock) *PrefsService {
	return &PrefsService{users: users, cache: c, clock: clk}
}

func (s *PrefsService) Get(ctx context.Context, userID string) (model.Prefs, error) {
	u, err := loadUser(ctx, s.users, userID)
	if err != nil {
		return model.Prefs{}, err
	}
	return u.Prefs, nil
}

// Put validates in against the stored object and replaces it whole. Storage failures
// are returned as-is; there is no fallback for a lost preference write.
func (s *PrefsService) Put(ctx context.Context, userID string, in prefs.Input) (model.Prefs, error) {
	u, err := loadUser(ctx, s.users, userID)
	if err != nil {
		return model.Prefs{}, err
	}
	next, err := prefs.Normalize(u.Prefs, in)
	if err != nil {
		return model.Prefs{}, err
	}
	if err := s.users.PutPrefs(ctx, userID, next, s.clock.Now()); err != nil {
		return model.Prefs{}, fmt.Errorf("store preferences: %w", err)
	}
	_ = s.cache.InvalidateUser(ctx, userID)
	return next, nil
}
