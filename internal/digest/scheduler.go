package digest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/notify"
	"github.com/mycelian/cockpit/internal/prefs"
	"github.com/mycelian/cockpit/internal/store"
)

const (
	pageSize = 200
	// A pulse that could not be stored is retried after retryInitial, doubling up to retryMax.
	retryInitial = 5 * time.Minute
	retryMax     = time.Hour
)

// Notifier is the subset of notify.Notifier the scheduler needs.
type Notifier interface {
	Notify(ctx context.Context, user model.UserState, msg notify.Notification) (notify.Outcome, error)
}

// Scheduler generates each user's pulse once their local clock reaches the digest hour.
type Scheduler struct {
	users     store.UserStates
	pulses    store.Pulses
	gen       *Generator
	notifier  Notifier
	clock     clock.Clock
	log       zerolog.Logger
	localHour int
	workers   int

	mu      sync.Mutex
	retries map[string]*retry
}

// retry defers a user's next attempt for one local date.
type retry struct {
	date string
	next time.Time
	b    *backoff.ExponentialBackOff
}

func NewScheduler(users store.UserStates, pulses store.Pulses, gen *Generator, notifier Notifier, localHour, workers int, clk clock.Clock, log zerolog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		users: users, pulses: pulses, gen: gen, notifier: notifier,
		clock: clk, log: log, localHour: localHour, workers: workers,
		retries: make(map[string]*retry),
	}
}

// Start runs a sweep every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.RunOnce(ctx); n > 0 {
				s.log.Info().Int("generated", n).Msg("digest sweep complete")
			}
		}
	}
}

type job struct {
	user model.UserState
	date string
}

// RunOnce sweeps all users and returns how many pulses it stored.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	jobs := make(chan job)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		generated int
	)
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if s.process(ctx, j) {
					mu.Lock()
					generated++
					mu.Unlock()
				}
			}
		}()
	}

	s.enqueue(ctx, jobs)
	close(jobs)
	wg.Wait()
	return generated
}

func (s *Scheduler) enqueue(ctx context.Context, jobs chan<- job) {
	after := ""
	for {
		page, err := s.users.ListForDigest(ctx, after, pageSize)
		if err != nil {
			s.log.Error().Err(err).Str("op", "users.list_for_digest").Msg("digest sweep aborted")
			return
		}
		now := s.clock.Now()
		for _, u := range page {
			date, due := s.Due(u, now)
			if !due {
				continue
			}
			if s.deferred(u.UserID, date, now) {
				continue
			}
			if _, err := s.pulses.Get(ctx, u.UserID, date); err == nil {
				continue
			}
			select {
			case jobs <- job{user: u, date: date}:
			case <-ctx.Done():
				return
			}
		}
		if len(page) < pageSize {
			return
		}
		after = page[len(page)-1].UserID
	}
}

// Due reports the user's local date and whether the digest hour has passed there.
func (s *Scheduler) Due(u model.UserState, now time.Time) (string, bool) {
	loc, _ := prefs.Location(u.Prefs.Timezone)
	local := now.In(loc)
	return local.Format(model.PulseDateLayout), local.Hour() >= s.localHour
}

// deferred reports whether the user's last failed attempt for date is still backing off.
// An entry for an earlier date is dropped.
func (s *Scheduler) deferred(userID, date string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.retries[userID]
	if !ok {
		return false
	}
	if r.date != date {
		delete(s.retries, userID)
		return false
	}
	return now.Before(r.next)
}

func (s *Scheduler) backOff(userID, date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.retries[userID]
	if !ok || r.date != date {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = retryInitial
		b.MaxInterval = retryMax
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		r = &retry{date: date, b: b}
		s.retries[userID] = r
	}
	r.next = s.clock.Now().Add(r.b.NextBackOff())
}

func (s *Scheduler) settled(userID string) {
	s.mu.Lock()
	delete(s.retries, userID)
	s.mu.Unlock()
}

func (s *Scheduler) process(ctx context.Context, j job) bool {
	pulse, inserted, err := s.gen.Generate(ctx, j.user, j.date, TriggerScheduled)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", j.user.UserID).Str("date", j.date).Msg("scheduled digest failed")
		s.backOff(j.user.UserID, j.date)
		return false
	}
	if !inserted {
		// Either another writer stored it or the candidates were degraded.
		if _, err := s.pulses.Get(ctx, j.user.UserID, j.date); err != nil {
			s.backOff(j.user.UserID, j.date)
		} else {
			s.settled(j.user.UserID)
		}
		return false
	}
	s.settled(j.user.UserID)

	msg := notify.Notification{
		Kind:      notify.KindDailyPulseReady,
		UserID:    j.user.UserID,
		Title:     "Your daily pulse is ready",
		Body:      summaryLine(pulse),
		PulseDate: pulse.Date,
		CreatedAt: s.clock.Now(),
	}
	outcome, err := s.notifier.Notify(ctx, j.user, msg)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", j.user.UserID).Msg("pulse notification failed")
	} else {
		s.log.Debug().Str("user_id", j.user.UserID).Str("outcome", string(outcome)).Msg("pulse notification")
	}
	return true
}

func summaryLine(p *model.DailyPulse) string {
	if p.QuietDay {
		return QuietDayMessage
	}
	if len(p.Rows) == 1 {
		return "1 update since yesterday"
	}
	return fmt.Sprintf("%d updates since yesterday", len(p.Rows))
}
