package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/store"
)

// Run exercises the compliance suite against a store.Store implementation.
// makeStore must return a migrated store; rows are isolated by random user IDs.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()
	s := makeStore(t)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("OpenDebounce", func(t *testing.T) { openDebounce(t, s, base) })
	t.Run("OpenDebounceConcurrent", func(t *testing.T) { openDebounceConcurrent(t, s, base) })
	t.Run("TimezoneFirstWins", func(t *testing.T) { timezoneFirstWins(t, s, base) })
	t.Run("Prefs", func(t *testing.T) { prefs(t, s, base) })
	t.Run("ShownWindow", func(t *testing.T) { shownWindow(t, s, base) })
	t.Run("Pulses", func(t *testing.T) { pulses(t, s, base) })
	t.Run("Investments", func(t *testing.T) { investments(t, s, base) })
	t.Run("AlertRules", func(t *testing.T) { alertRules(t, s, base) })
	t.Run("NotificationCap", func(t *testing.T) { notificationCap(t, s) })
	t.Run("ListForDigest", func(t *testing.T) { listForDigest(t, s, base) })
	t.Run("RowIsolation", func(t *testing.T) { rowIsolation(t, s, base) })
}

func newUser() string { return "u-" + uuid.New().String() }

func openDebounce(t *testing.T, s store.Store, base time.Time) {
	ctx := context.Background()
	user := newUser()

	mutated := 0
	for i := 0; i < 5; i++ {
		ok, err := s.UserStates().TouchOpened(ctx, user, base.Add(time.Duration(i)*10*time.Second), time.Minute)
		if err != nil {
			t.Fatalf("TouchOpened: %v", err)
		}
		if ok {
			mutated++
		}
	}
	if mutated != 1 {
		t.Fatalf("expected exactly one mutation inside the window, got %d", mutated)
	}

	ok, err := s.UserStates().TouchOpened(ctx, user, base.Add(time.Minute), time.Minute)
	if err != nil || !ok {
		t.Fatalf("TouchOpened after window: ok=%v err=%v", ok, err)
	}
	got, err := s.UserStates().Get(ctx, user)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OpenCount != 2 {
		t.Fatalf("open_count=%d want 2", got.OpenCount)
	}
	if got.LastOpenedAt == nil || !got.LastOpenedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("last_opened_at=%v", got.LastOpenedAt)
	}
	if got.Prefs.WalletScopeDefault != model.ScopeActive || got.Prefs.NotifCapPerDay != 3 {
		t.Fatalf("defaults not applied: %+v", got.Prefs)
	}
}

func openDebounceConcurrent(t *testing.T, s store.Store, base time.Time) {
	ctx := context.Background()
	user := newUser()
	if err := s.UserStates().Ensure(ctx, user, base); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		mutated int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.UserStates().TouchOpened(ctx, user, base, time.Minute)
			if err != nil {
				t.Errorf("TouchOpened: %v", err)
				return
			}
			if ok {
				mu.Lock()
				mutated++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if mutated != 1 {
		t.Fatalf("expected one winner among concurrent opens, got %d", mutated)
	}
}

func timezoneFirstWins(t *testing.T, s store.Store, base time.Time) {
	ctx := context.Background()
	user := newUser()

	ok, err := s.UserStates().SetTimezoneIfEmpty(ctx, user, "Europe/Berlin", base)
	if err != nil || !ok {
		t.Fatalf("first SetTimezoneIfEmpty: ok=%v err=%v", ok, err)
	}
	ok, err = s.UserStates().SetTimezoneIfEmpty(ctx, user, "America/New_York", base)
	if err != nil || ok {
		t.Fatalf("second SetTimezoneIfEmpty: ok=%v err=%v", ok, err)
	}
	got, err := s.UserStates().Get(ctx, user)
	if err != nil || got.Prefs.Timezone != "Europe/Berlin" {
		t.Fatalf("timezone: got=%v err=%v", got, err)
	}
}

func prefs(t *testing.T, s store.Store, base time.Time) {
	ctx := context.Background()
	user := newUser()

	if _, err := s.UserStates().Get(ctx, user); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get missing user: want ErrNotFound, got %v", err)
	}

	p := model.Prefs{WalletScopeDefault: model.ScopeAll, Timezone: "Asia/Tokyo", DNDStartLocal: "23:00", DNDEndLocal: "07:00", NotifCapPerDay: 5}
	if err := s.UserStates().PutPrefs(ctx, user, p, base); err != nil {
		t.Fatalf("PutPrefs: %v", err)
	}
	p2 := p
	p2.Timezone = "UTC"
	p2.NotifCapPerDay = 0
	if err := s.UserStates().PutPrefs(ctx, user, p2, base.Add(time.Second)); err != nil {
		t.Fatalf("PutPrefs second: %v", err)
	}
	got, err := s.UserStates().Get(ctx, user)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Prefs.Timezone != "Asia/Tokyo" {
		t.Fatalf("stored timezone must not be overwritten, got %q", got.Prefs.Timezone)
	}
	if got.Prefs.NotifCapPerDay != 0 || got.Prefs.WalletScopeDefault != model.ScopeAll {
		t.Fatalf("last write should win for other fields: %+v", got.Prefs)
	}

	if err := s.UserStates().MarkEngaged(ctx, user, base); err != nil {
		t.Fatalf("MarkEngaged: %v", err)
	}
	if err := s.UserStates().MarkPulseViewed(ctx, user, "2025-03-10", base); err != nil {
		t.Fatalf("MarkPulseViewed: %v", err)
	}
	got, _ = s.UserStates().Get(ctx, user)
	if got.LastEngagedAt == nil || got.LastPulseViewedDate != "2025-03-10" {
		t.Fatalf("engagement not recorded: %+v", got)
	}
}

func shownWindow(t *testing.T, s store.Store, base time.Time) {
	ctx := context.Background()
	user := newUser()
	other := newUser()

	ok, err := s.Shown().Upsert(ctx, user, "k1", base, 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("first Upsert: ok=%v err=%v", ok, err)
	}
	ok, err = s.Shown().Upsert(ctx, user, "k1", base.Add(10*time.Second), 30*time.Second)
	if err != nil || ok {
		t.Fatalf("refresh inside guard must be skipped: ok=%v err=%v", ok, err)
	}
	ok, err = s.Shown().Upsert(ctx, user, "k1", base.Add(31*time.Second), 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("refresh after guard: ok=%v err=%v", ok, err)
	}
	if _, err := s.Shown().Upsert(ctx, other, "k1", base.Add(-3*time.Hour), 30*time.Second); err != nil {
		t.Fatalf("Upsert other: %v", err)
	}

	got, err := s.Shown().Since(ctx, user, []string{"k1", "k2"}, base.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(got) != 1 || !got["k1"].Equal(base.Add(31*time.Second)) {
		t.Fatalf("Since: %v", got)
	}
	got, _ = s.Shown().Since(ctx, other, []string{"k1"}, base.Add(-2*time.Hour))
	if len(got) != 0 {
		t.Fatalf("row older than the window must not match: %v", got)
	}
	if got, _ := s.Shown().Since(ctx, user, nil, base); len(got) != 0 {
		t.Fatalf("empty key set: %v", got)
	}

	n, err := s.Shown().PruneBefore(ctx, base.Add(-2*time.Hour))
	if err != nil || n < 1 {
		t.Fatalf("PruneBefore: n=%d err=%v", n, err)
	}
}

func pulses(t *testing.T, s store.Store, base time.Time) {
	ctx := context.Background()
	user := newUser()

	p := &model.DailyPulse{
		UserID:    user,
		Date:      "2025-03-10",
		Timezone:  "UTC",
		CreatedAt: base,
		Rows: []model.PulseRow{{
			Category: model.PulseNewOpportunity, ActionID: "a1", Title: "Stake", Lane: model.LaneEarn,
			Severity: model.SeverityHigh, Freshness: model.FreshnessNew, Score: 150, DedupeKey: "opportunity:o1:Execute",
		}},
	}
	ok, err := s.Pulses().InsertIfAbsent(ctx, p)
	if err != nil || !ok {
		t.Fatalf("InsertIfAbsent: ok=%v err=%v", ok, err)
	}
	dup := *p
	dup.QuietDay = true
	dup.Rows = nil
	ok, err = s.Pulses().InsertIfAbsent(ctx, &dup)
	if err != nil || ok {
		t.Fatalf("second InsertIfAbsent must be a no-op: ok=%v err=%v", ok, err)
	}
	got, err := s.Pulses().Get(ctx, user, "2025-03-10")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.QuietDay || len(got.Rows) != 1 || got.Rows[0].ActionID != "a1" {
		t.Fatalf("stored pulse changed: %+v", got)
	}
	if _, err := s.Pulses().Get(ctx, user, "2025-03-11"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing pulse: want ErrNotFound, got %v", err)
	}
	if _, err := s.Pulses().Get(ctx, newUser(), "2025-03-10"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("other user must not see pulse, got %v", err)
	}
}

func investments(t *testing.T, s store.Store, base time.Time) {
	ctx := context.Background()
	user := newUser()

	inv := &model.Investment{UserID: user, Kind: model.InvestmentSave, RefID: "o1", Payload: json.RawMessage(`{"note":"later"}`), CreatedAt: base}
	if err := s.Investments().Put(ctx, inv); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Investments().Put(ctx, &model.Investment{UserID: user, Kind: model.InvestmentWalletRole, RefID: "0xabc", CreatedAt: base}); err != nil {
		t.Fatalf("Put wallet_role: %v", err)
	}
	lst, err := s.Investments().List(ctx, user)
	if err != nil || len(lst) != 2 {
		t.Fatalf("List: n=%d err=%v", len(lst), err)
	}
	if other, _ := s.Investments().List(ctx, newUser()); len(other) != 0 {
		t.Fatalf("other user sees investments: %v", other)
	}
	if err := s.Investments().Delete(ctx, user, model.InvestmentSave, "o1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Investments().Delete(ctx, user, model.InvestmentSave, "o1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second Delete: want ErrNotFound, got %v", err)
	}
}

func alertRules(t *testing.T, s store.Store, base time.Time) {
	ctx := context.Background()
	user := newUser()

	r := &model.AlertRule{UserID: user, RuleID: "r1", Rule: json.RawMessage(`{"source_kind":"guardian"}`), Enabled: true, CreatedAt: base, UpdatedAt: base}
	if err := s.AlertRules().Put(ctx, r); err != nil {
		t.Fatalf("Put: %v", err)
	}
	r.Enabled = false
	r.UpdatedAt = base.Add(time.Minute)
	if err := s.AlertRules().Put(ctx, r); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	lst, err := s.AlertRules().List(ctx, user)
	if err != nil || len(lst) != 1 || lst[0].Enabled {
		t.Fatalf("List: %v err=%v", lst, err)
	}
	if err := s.AlertRules().Delete(ctx, user, "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.AlertRules().Delete(ctx, user, "r1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second Delete: want ErrNotFound, got %v", err)
	}
}

func notificationCap(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()

	granted := 0
	for i := 0; i < 5; i++ {
		ok, err := s.Notifications().Reserve(ctx, user, "2025-03-10", 3)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if ok {
			granted++
		}
	}
	if granted != 3 {
		t.Fatalf("granted=%d want 3", granted)
	}
	if ok, _ := s.Notifications().Reserve(ctx, user, "2025-03-11", 3); !ok {
		t.Fatalf("new local day must reset the counter")
	}
	if ok, _ := s.Notifications().Reserve(ctx, user, "2025-03-12", 0); ok {
		t.Fatalf("zero cap must never grant")
	}
}

func listForDigest(t *testing.T, s store.Store, base time.Time) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.UserStates().Ensure(ctx, newUser(), base); err != nil {
			t.Fatalf("Ensure: %v", err)
		}
	}

	seen := map[string]bool{}
	after := ""
	for {
		page, err := s.UserStates().ListForDigest(ctx, after, 2)
		if err != nil {
			t.Fatalf("ListForDigest: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, u := range page {
			if u.UserID <= after {
				t.Fatalf("page not ordered: %q after %q", u.UserID, after)
			}
			seen[u.UserID] = true
			after = u.UserID
		}
	}
	if len(seen) < 3 {
		t.Fatalf("paging saw %d users", len(seen))
	}
}

// rowIsolation gives two users identical keys and IDs; nothing done for one may touch the other.
func rowIsolation(t *testing.T, s store.Store, base time.Time) {
	ctx := context.Background()
	a, b := newUser(), newUser()

	for _, u := range []string{a, b} {
		if _, err := s.Shown().Upsert(ctx, u, "guardian:g1:Fix", base, 30*time.Second); err != nil {
			t.Fatalf("Upsert %s: %v", u, err)
		}
		if err := s.Investments().Put(ctx, &model.Investment{UserID: u, Kind: model.InvestmentBookmark, RefID: "o1", CreatedAt: base}); err != nil {
			t.Fatalf("Put investment %s: %v", u, err)
		}
		if err := s.AlertRules().Put(ctx, &model.AlertRule{UserID: u, RuleID: "r1", Rule: json.RawMessage(`{}`), Enabled: true, CreatedAt: base, UpdatedAt: base}); err != nil {
			t.Fatalf("Put rule %s: %v", u, err)
		}
	}
	if _, err := s.Pulses().InsertIfAbsent(ctx, &model.DailyPulse{UserID: a, Date: "2025-04-01", Timezone: "UTC", QuietDay: true, CreatedAt: base}); err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if _, err := s.UserStates().TouchOpened(ctx, a, base, time.Minute); err != nil {
		t.Fatalf("TouchOpened: %v", err)
	}

	// Deletes and refreshes on behalf of a leave b's rows intact.
	if err := s.Investments().Delete(ctx, a, model.InvestmentBookmark, "o1"); err != nil {
		t.Fatalf("Delete investment: %v", err)
	}
	if err := s.AlertRules().Delete(ctx, a, "r1"); err != nil {
		t.Fatalf("Delete rule: %v", err)
	}
	if _, err := s.Shown().Upsert(ctx, a, "guardian:g1:Fix", base.Add(time.Minute), 30*time.Second); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if lst, _ := s.Investments().List(ctx, b); len(lst) != 1 || lst[0].UserID != b {
		t.Fatalf("b investments: %+v", lst)
	}
	if lst, _ := s.AlertRules().List(ctx, b); len(lst) != 1 || lst[0].UserID != b {
		t.Fatalf("b rules: %+v", lst)
	}
	got, err := s.Shown().Since(ctx, b, []string{"guardian:g1:Fix"}, base.Add(-time.Hour))
	if err != nil || !got["guardian:g1:Fix"].Equal(base) {
		t.Fatalf("b shown_at moved: %v err=%v", got, err)
	}
	if _, err := s.Pulses().Get(ctx, b, "2025-04-01"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("b sees a's pulse: %v", err)
	}
	if _, err := s.UserStates().Get(ctx, b); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("b has no state row yet, got %v", err)
	}

	if ok, _ := s.Notifications().Reserve(ctx, a, "2025-04-01", 1); !ok {
		t.Fatal("a first reservation refused")
	}
	if ok, _ := s.Notifications().Reserve(ctx, b, "2025-04-01", 1); !ok {
		t.Fatal("a's count leaked into b's cap")
	}
}
