package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// NewWithDB wraps an open database. Call Migrate before use.
func NewWithDB(db *sqlx.DB) store.Store { return &sqliteStore{db: db} }

type sqliteStore struct{ db *sqlx.DB }

func (s *sqliteStore) UserStates() store.UserStates       { return &userStates{db: s.db} }
func (s *sqliteStore) Shown() store.Shown                 { return &shown{db: s.db} }
func (s *sqliteStore) Pulses() store.Pulses               { return &pulses{db: s.db} }
func (s *sqliteStore) Investments() store.Investments     { return &investments{db: s.db} }
func (s *sqliteStore) AlertRules() store.AlertRules       { return &alertRules{db: s.db} }
func (s *sqliteStore) Notifications() store.Notifications { return &notifications{db: s.db} }

func (s *sqliteStore) Close() error { return s.db.Close() }

// HealthPing implements health.HealthPinger.
func (s *sqliteStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate applies the embedded schema. Statements are idempotent.
func (s *sqliteStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func ms(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func fromNullMS(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- User state ---

type userStateRow struct {
	UserID              string        `db:"user_id"`
	LastOpenedAt        sql.NullInt64 `db:"last_opened_at"`
	OpenCount           int           `db:"open_count"`
	LastEngagedAt       sql.NullInt64 `db:"last_engaged_at"`
	LastPulseViewedDate string        `db:"last_pulse_viewed_date"`
	WalletScopeDefault  string        `db:"wallet_scope_default"`
	Timezone            string        `db:"timezone"`
	DNDStartLocal       string        `db:"dnd_start_local"`
	DNDEndLocal         string        `db:"dnd_end_local"`
	NotifCapPerDay      int           `db:"notif_cap_per_day"`
	CreatedAt           int64         `db:"created_at"`
	UpdatedAt           int64         `db:"updated_at"`
}

func (r userStateRow) toModel() model.UserState {
	return model.UserState{
		UserID:              r.UserID,
		LastOpenedAt:        fromNullMS(r.LastOpenedAt),
		OpenCount:           r.OpenCount,
		LastEngagedAt:       fromNullMS(r.LastEngagedAt),
		LastPulseViewedDate: r.LastPulseViewedDate,
		Prefs: model.Prefs{
			WalletScopeDefault: model.WalletScope(r.WalletScopeDefault),
			Timezone:           r.Timezone,
			DNDStartLocal:      r.DNDStartLocal,
			DNDEndLocal:        r.DNDEndLocal,
			NotifCapPerDay:     r.NotifCapPerDay,
		},
		CreatedAt: fromMS(r.CreatedAt),
		UpdatedAt: fromMS(r.UpdatedAt),
	}
}

const userStateColumns = `user_id, last_opened_at, open_count, last_engaged_at, last_pulse_viewed_date,
    wallet_scope_default, timezone, dnd_start_local, dnd_end_local, notif_cap_per_day, created_at, updated_at`

type userStates struct{ db *sqlx.DB }

func (u *userStates) Ensure(ctx context.Context, userID string, now time.Time) error {
	_, err := u.db.ExecContext(ctx, `
        INSERT INTO user_state (user_id, created_at, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (user_id) DO NOTHING
    `, userID, ms(now), ms(now))
	return err
}

func (u *userStates) Get(ctx context.Context, userID string) (*model.UserState, error) {
	var row userStateRow
	err := u.db.GetContext(ctx, &row, `SELECT `+userStateColumns+` FROM user_state WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := row.toModel()
	return &out, nil
}

func (u *userStates) TouchOpened(ctx context.Context, userID string, now time.Time, debounce time.Duration) (bool, error) {
	res, err := u.db.ExecContext(ctx, `
        INSERT INTO user_state (user_id, last_opened_at, open_count, created_at, updated_at)
        VALUES (?, ?, 1, ?, ?)
        ON CONFLICT (user_id) DO UPDATE
        SET last_opened_at = excluded.last_opened_at,
            open_count = user_state.open_count + 1,
            updated_at = excluded.updated_at
        WHERE user_state.last_opened_at IS NULL
           OR user_state.last_opened_at <= excluded.last_opened_at - ?
    `, userID, ms(now), ms(now), ms(now), debounce.Milliseconds())
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (u *userStates) SetTimezoneIfEmpty(ctx context.Context, userID, tz string, now time.Time) (bool, error) {
	res, err := u.db.ExecContext(ctx, `
        INSERT INTO user_state (user_id, timezone, created_at, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE
        SET timezone = excluded.timezone, updated_at = excluded.updated_at
        WHERE user_state.timezone = ''
    `, userID, tz, ms(now), ms(now))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (u *userStates) PutPrefs(ctx context.Context, userID string, p model.Prefs, now time.Time) error {
	_, err := u.db.ExecContext(ctx, `
        INSERT INTO user_state (user_id, wallet_scope_default, timezone, dnd_start_local, dnd_end_local,
            notif_cap_per_day, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE
        SET wallet_scope_default = excluded.wallet_scope_default,
            timezone = CASE WHEN user_state.timezone = '' THEN excluded.timezone ELSE user_state.timezone END,
            dnd_start_local = excluded.dnd_start_local,
            dnd_end_local = excluded.dnd_end_local,
            notif_cap_per_day = excluded.notif_cap_per_day,
            updated_at = excluded.updated_at
    `, userID, string(p.WalletScopeDefault), p.Timezone, p.DNDStartLocal, p.DNDEndLocal, p.NotifCapPerDay, ms(now), ms(now))
	return err
}

func (u *userStates) MarkEngaged(ctx context.Context, userID string, now time.Time) error {
	_, err := u.db.ExecContext(ctx, `
        INSERT INTO user_state (user_id, last_engaged_at, created_at, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE
        SET last_engaged_at = excluded.last_engaged_at, updated_at = excluded.updated_at
    `, userID, ms(now), ms(now), ms(now))
	return err
}

func (u *userStates) MarkPulseViewed(ctx context.Context, userID, date string, now time.Time) error {
	_, err := u.db.ExecContext(ctx, `
        UPDATE user_state SET last_pulse_viewed_date = ?, updated_at = ? WHERE user_id = ?
    `, date, ms(now), userID)
	return err
}

func (u *userStates) ListForDigest(ctx context.Context, afterUserID string, limit int) ([]model.UserState, error) {
	var rows []userStateRow
	err := u.db.SelectContext(ctx, &rows, `
        SELECT `+userStateColumns+` FROM user_state WHERE user_id > ? ORDER BY user_id LIMIT ?
    `, afterUserID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserState, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// --- Shown actions ---

type shown struct{ db *sqlx.DB }

func (s *shown) Upsert(ctx context.Context, userID, key string, now time.Time, minRefresh time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO shown_actions (user_id, dedupe_key, shown_at) VALUES (?, ?, ?)
        ON CONFLICT (user_id, dedupe_key) DO UPDATE
        SET shown_at = excluded.shown_at
        WHERE shown_actions.shown_at <= excluded.shown_at - ?
    `, userID, key, ms(now), minRefresh.Milliseconds())
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *shown) Since(ctx context.Context, userID string, keys []string, since time.Time) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`
        SELECT dedupe_key, shown_at FROM shown_actions
        WHERE user_id = ? AND shown_at > ? AND dedupe_key IN (?)
    `, userID, ms(since), keys)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Key     string `db:"dedupe_key"`
		ShownAt int64  `db:"shown_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.Key] = fromMS(r.ShownAt)
	}
	return out, nil
}

func (s *shown) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM shown_actions WHERE shown_at < ?`, ms(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Daily pulses ---

type pulses struct{ db *sqlx.DB }

func (p *pulses) InsertIfAbsent(ctx context.Context, pulse *model.DailyPulse) (bool, error) {
	rows, err := json.Marshal(pulse.Rows)
	if err != nil {
		return false, err
	}
	res, err := p.db.ExecContext(ctx, `
        INSERT INTO daily_pulses (user_id, pulse_date, timezone, tz_degraded, quiet_day, rows_json, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id, pulse_date) DO NOTHING
    `, pulse.UserID, pulse.Date, pulse.Timezone, pulse.TZDegraded, pulse.QuietDay, string(rows), ms(pulse.CreatedAt))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (p *pulses) Get(ctx context.Context, userID, date string) (*model.DailyPulse, error) {
	var row struct {
		Timezone   string `db:"timezone"`
		TZDegraded bool   `db:"tz_degraded"`
		QuietDay   bool   `db:"quiet_day"`
		Rows       string `db:"rows_json"`
		CreatedAt  int64  `db:"created_at"`
	}
	err := p.db.GetContext(ctx, &row, `
        SELECT timezone, tz_degraded, quiet_day, rows_json, created_at
        FROM daily_pulses WHERE user_id = ? AND pulse_date = ?
    `, userID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := &model.DailyPulse{
		UserID:     userID,
		Date:       date,
		Timezone:   row.Timezone,
		TZDegraded: row.TZDegraded,
		QuietDay:   row.QuietDay,
		CreatedAt:  fromMS(row.CreatedAt),
	}
	if err := json.Unmarshal([]byte(row.Rows), &out.Rows); err != nil {
		return nil, fmt.Errorf("decode pulse rows: %w", err)
	}
	return out, nil
}

// --- Investments ---

type investments struct{ db *sqlx.DB }

func (i *investments) Put(ctx context.Context, inv *model.Investment) error {
	var payload sql.NullString
	if len(inv.Payload) > 0 {
		payload = sql.NullString{String: string(inv.Payload), Valid: true}
	}
	_, err := i.db.ExecContext(ctx, `
        INSERT INTO investments (user_id, kind, ref_id, payload, created_at) VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (user_id, kind, ref_id) DO UPDATE SET payload = excluded.payload
    `, inv.UserID, string(inv.Kind), inv.RefID, payload, ms(inv.CreatedAt))
	return err
}

func (i *investments) Delete(ctx context.Context, userID string, kind model.InvestmentKind, refID string) error {
	res, err := i.db.ExecContext(ctx, `DELETE FROM investments WHERE user_id = ? AND kind = ? AND ref_id = ?`, userID, string(kind), refID)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return model.ErrNotFound
	}
	return nil
}

func (i *investments) List(ctx context.Context, userID string) ([]model.Investment, error) {
	var rows []struct {
		Kind      string         `db:"kind"`
		RefID     string         `db:"ref_id"`
		Payload   sql.NullString `db:"payload"`
		CreatedAt int64          `db:"created_at"`
	}
	err := i.db.SelectContext(ctx, &rows, `
        SELECT kind, ref_id, payload, created_at FROM investments WHERE user_id = ? ORDER BY kind, ref_id
    `, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Investment, 0, len(rows))
	for _, r := range rows {
		inv := model.Investment{UserID: userID, Kind: model.InvestmentKind(r.Kind), RefID: r.RefID, CreatedAt: fromMS(r.CreatedAt)}
		if r.Payload.Valid {
			inv.Payload = json.RawMessage(r.Payload.String)
		}
		out = append(out, inv)
	}
	return out, nil
}

// --- Alert rules ---

type alertRules struct{ db *sqlx.DB }

func (a *alertRules) Put(ctx context.Context, rule *model.AlertRule) error {
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO alert_rules (user_id, rule_id, rule, enabled, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id, rule_id) DO UPDATE
        SET rule = excluded.rule, enabled = excluded.enabled, updated_at = excluded.updated_at
    `, rule.UserID, rule.RuleID, string(rule.Rule), rule.Enabled, ms(rule.CreatedAt), ms(rule.UpdatedAt))
	return err
}

func (a *alertRules) Delete(ctx context.Context, userID, ruleID string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE user_id = ? AND rule_id = ?`, userID, ruleID)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return model.ErrNotFound
	}
	return nil
}

func (a *alertRules) List(ctx context.Context, userID string) ([]model.AlertRule, error) {
	var rows []struct {
		RuleID    string `db:"rule_id"`
		Rule      string `db:"rule"`
		Enabled   bool   `db:"enabled"`
		CreatedAt int64  `db:"created_at"`
		UpdatedAt int64  `db:"updated_at"`
	}
	err := a.db.SelectContext(ctx, &rows, `
        SELECT rule_id, rule, enabled, created_at, updated_at FROM alert_rules WHERE user_id = ? ORDER BY rule_id
    `, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.AlertRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AlertRule{
			UserID:    userID,
			RuleID:    r.RuleID,
			Rule:      json.RawMessage(r.Rule),
			Enabled:   r.Enabled,
			CreatedAt: fromMS(r.CreatedAt),
			UpdatedAt: fromMS(r.UpdatedAt),
		})
	}
	return out, nil
}

// --- Notification counters ---

type notifications struct{ db *sqlx.DB }

func (n *notifications) Reserve(ctx context.Context, userID, localDate string, cap int) (bool, error) {
	if cap <= 0 {
		return false, nil
	}
	res, err := n.db.ExecContext(ctx, `
        INSERT INTO notif_counters (user_id, local_date, sent_count) VALUES (?, ?, 1)
        ON CONFLICT (user_id, local_date) DO UPDATE
        SET sent_count = notif_counters.sent_count + 1
        WHERE notif_counters.sent_count < ?
    `, userID, localDate, cap)
	if err != nil {
		return false, err
	}
	return affected(res)
}
