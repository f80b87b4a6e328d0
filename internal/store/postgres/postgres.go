package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres store. Every user-scoped call runs in a transaction
// that sets app.user_id so row-level security policies filter by owner.
func NewWithDB(db *sqlx.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sqlx.DB }

func (s *pgStore) UserStates() store.UserStates       { return &userStates{s} }
func (s *pgStore) Shown() store.Shown                 { return &shown{s} }
func (s *pgStore) Pulses() store.Pulses               { return &pulses{s} }
func (s *pgStore) Investments() store.Investments     { return &investments{s} }
func (s *pgStore) AlertRules() store.AlertRules       { return &alertRules{s} }
func (s *pgStore) Notifications() store.Notifications { return &notifications{s} }

func (s *pgStore) Close() error { return s.db.Close() }

// HealthPing implements health.HealthPinger for Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate applies the embedded schema and row-level security policies.
func (s *pgStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// asUser runs fn in a transaction scoped to userID.
func (s *pgStore) asUser(ctx context.Context, userID string, fn func(tx *sqlx.Tx) error) error {
	return s.inTx(ctx, "app.user_id", userID, fn)
}

// asMaintenance runs fn with the cross-user maintenance policy enabled.
func (s *pgStore) asMaintenance(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.inTx(ctx, "app.maintenance", "on", fn)
}

func (s *pgStore) inTx(ctx context.Context, setting, value string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT set_config($1, $2, true)`, setting, value); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// --- User state ---

type userStateRow struct {
	UserID              string       `db:"user_id"`
	LastOpenedAt        sql.NullTime `db:"last_opened_at"`
	OpenCount           int          `db:"open_count"`
	LastEngagedAt       sql.NullTime `db:"last_engaged_at"`
	LastPulseViewedDate string       `db:"last_pulse_viewed_date"`
	WalletScopeDefault  string       `db:"wallet_scope_default"`
	Timezone            string       `db:"timezone"`
	DNDStartLocal       string       `db:"dnd_start_local"`
	DNDEndLocal         string       `db:"dnd_end_local"`
	NotifCapPerDay      int          `db:"notif_cap_per_day"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
}

func (r userStateRow) toModel() model.UserState {
	return model.UserState{
		UserID:              r.UserID,
		LastOpenedAt:        nullTime(r.LastOpenedAt),
		OpenCount:           r.OpenCount,
		LastEngagedAt:       nullTime(r.LastEngagedAt),
		LastPulseViewedDate: r.LastPulseViewedDate,
		Prefs: model.Prefs{
			WalletScopeDefault: model.WalletScope(r.WalletScopeDefault),
			Timezone:           r.Timezone,
			DNDStartLocal:      r.DNDStartLocal,
			DNDEndLocal:        r.DNDEndLocal,
			NotifCapPerDay:     r.NotifCapPerDay,
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

const userStateColumns = `user_id, last_opened_at, open_count, last_engaged_at, last_pulse_viewed_date,
    wallet_scope_default, timezone, dnd_start_local, dnd_end_local, notif_cap_per_day, created_at, updated_at`

type userStates struct{ s *pgStore }

func (u *userStates) Ensure(ctx context.Context, userID string, now time.Time) error {
	return u.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO user_state (user_id, created_at, updated_at) VALUES ($1, $2, $2)
            ON CONFLICT (user_id) DO NOTHING
        `, userID, now.UTC())
		return err
	})
}

func (u *userStates) Get(ctx context.Context, userID string) (*model.UserState, error) {
	var row userStateRow
	err := u.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, `SELECT `+userStateColumns+` FROM user_state WHERE user_id = $1`, userID)
	})
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
	var mutated bool
	err := u.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO user_state (user_id, last_opened_at, open_count, created_at, updated_at)
            VALUES ($1, $2, 1, $2, $2)
            ON CONFLICT (user_id) DO UPDATE
            SET last_opened_at = EXCLUDED.last_opened_at,
                open_count = user_state.open_count + 1,
                updated_at = EXCLUDED.updated_at
            WHERE user_state.last_opened_at IS NULL
               OR user_state.last_opened_at <= EXCLUDED.last_opened_at - make_interval(secs => $3)
        `, userID, now.UTC(), debounce.Seconds())
		if err != nil {
			return err
		}
		mutated, err = affected(res)
		return err
	})
	return mutated, err
}

func (u *userStates) SetTimezoneIfEmpty(ctx context.Context, userID, tz string, now time.Time) (bool, error) {
	var stored bool
	err := u.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO user_state (user_id, timezone, created_at, updated_at) VALUES ($1, $2, $3, $3)
            ON CONFLICT (user_id) DO UPDATE
            SET timezone = EXCLUDED.timezone, updated_at = EXCLUDED.updated_at
            WHERE user_state.timezone = ''
        `, userID, tz, now.UTC())
		if err != nil {
			return err
		}
		stored, err = affected(res)
		return err
	})
	return stored, err
}

func (u *userStates) PutPrefs(ctx context.Context, userID string, p model.Prefs, now time.Time) error {
	return u.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO user_state (user_id, wallet_scope_default, timezone, dnd_start_local, dnd_end_local,
                notif_cap_per_day, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
            ON CONFLICT (user_id) DO UPDATE
            SET wallet_scope_default = EXCLUDED.wallet_scope_default,
                timezone = CASE WHEN user_state.timezone = '' THEN EXCLUDED.timezone ELSE user_state.timezone END,
                dnd_start_local = EXCLUDED.dnd_start_local,
                dnd_end_local = EXCLUDED.dnd_end_local,
                notif_cap_per_day = EXCLUDED.notif_cap_per_day,
                updated_at = EXCLUDED.updated_at
        `, userID, string(p.WalletScopeDefault), p.Timezone, p.DNDStartLocal, p.DNDEndLocal, p.NotifCapPerDay, now.UTC())
		return err
	})
}

func (u *userStates) MarkEngaged(ctx context.Context, userID string, now time.Time) error {
	return u.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO user_state (user_id, last_engaged_at, created_at, updated_at) VALUES ($1, $2, $2, $2)
            ON CONFLICT (user_id) DO UPDATE
            SET last_engaged_at = EXCLUDED.last_engaged_at, updated_at = EXCLUDED.updated_at
        `, userID, now.UTC())
		return err
	})
}

func (u *userStates) MarkPulseViewed(ctx context.Context, userID, date string, now time.Time) error {
	return u.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
            UPDATE user_state SET last_pulse_viewed_date = $2, updated_at = $3 WHERE user_id = $1
        `, userID, date, now.UTC())
		return err
	})
}

func (u *userStates) ListForDigest(ctx context.Context, afterUserID string, limit int) ([]model.UserState, error) {
	var rows []userStateRow
	err := u.s.asMaintenance(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, `
            SELECT `+userStateColumns+` FROM user_state WHERE user_id > $1 ORDER BY user_id LIMIT $2
        `, afterUserID, limit)
	})
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

type shown struct{ s *pgStore }

func (sh *shown) Upsert(ctx context.Context, userID, key string, now time.Time, minRefresh time.Duration) (bool, error) {
	var refreshed bool
	err := sh.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO shown_actions (user_id, dedupe_key, shown_at) VALUES ($1, $2, $3)
            ON CONFLICT (user_id, dedupe_key) DO UPDATE
            SET shown_at = EXCLUDED.shown_at
            WHERE shown_actions.shown_at <= EXCLUDED.shown_at - make_interval(secs => $4)
        `, userID, key, now.UTC(), minRefresh.Seconds())
		if err != nil {
			return err
		}
		refreshed, err = affected(res)
		return err
	})
	return refreshed, err
}

func (sh *shown) Since(ctx context.Context, userID string, keys []string, since time.Time) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var rows []struct {
		Key     string    `db:"dedupe_key"`
		ShownAt time.Time `db:"shown_at"`
	}
	err := sh.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, `
            SELECT dedupe_key, shown_at FROM shown_actions
            WHERE user_id = $1 AND shown_at > $2 AND dedupe_key = ANY($3)
        `, userID, since.UTC(), keys)
	})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.Key] = r.ShownAt.UTC()
	}
	return out, nil
}

func (sh *shown) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := sh.s.asMaintenance(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM shown_actions WHERE shown_at < $1`, cutoff.UTC())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// --- Daily pulses ---

type pulses struct{ s *pgStore }

func (p *pulses) InsertIfAbsent(ctx context.Context, pulse *model.DailyPulse) (bool, error) {
	rows, err := json.Marshal(pulse.Rows)
	if err != nil {
		return false, err
	}
	var inserted bool
	err = p.s.asUser(ctx, pulse.UserID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO daily_pulses (user_id, pulse_date, timezone, tz_degraded, quiet_day, rows_json, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            ON CONFLICT (user_id, pulse_date) DO NOTHING
        `, pulse.UserID, pulse.Date, pulse.Timezone, pulse.TZDegraded, pulse.QuietDay, string(rows), pulse.CreatedAt.UTC())
		if err != nil {
			return err
		}
		inserted, err = affected(res)
		return err
	})
	return inserted, err
}

func (p *pulses) Get(ctx context.Context, userID, date string) (*model.DailyPulse, error) {
	var row struct {
		Timezone   string    `db:"timezone"`
		TZDegraded bool      `db:"tz_degraded"`
		QuietDay   bool      `db:"quiet_day"`
		Rows       []byte    `db:"rows_json"`
		CreatedAt  time.Time `db:"created_at"`
	}
	err := p.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, `
            SELECT timezone, tz_degraded, quiet_day, rows_json, created_at
            FROM daily_pulses WHERE user_id = $1 AND pulse_date = $2
        `, userID, date)
	})
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
		CreatedAt:  row.CreatedAt.UTC(),
	}
	if err := json.Unmarshal(row.Rows, &out.Rows); err != nil {
		return nil, fmt.Errorf("decode pulse rows: %w", err)
	}
	return out, nil
}

// --- Investments ---

type investments struct{ s *pgStore }

func (i *investments) Put(ctx context.Context, inv *model.Investment) error {
	var payload *string
	if len(inv.Payload) > 0 {
		v := string(inv.Payload)
		payload = &v
	}
	return i.s.asUser(ctx, inv.UserID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO investments (user_id, kind, ref_id, payload, created_at) VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (user_id, kind, ref_id) DO UPDATE SET payload = EXCLUDED.payload
        `, inv.UserID, string(inv.Kind), inv.RefID, payload, inv.CreatedAt.UTC())
		return err
	})
}

func (i *investments) Delete(ctx context.Context, userID string, kind model.InvestmentKind, refID string) error {
	return i.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM investments WHERE user_id = $1 AND kind = $2 AND ref_id = $3`, userID, string(kind), refID)
		if err != nil {
			return err
		}
		if ok, err := affected(res); err != nil {
			return err
		} else if !ok {
			return model.ErrNotFound
		}
		return nil
	})
}

func (i *investments) List(ctx context.Context, userID string) ([]model.Investment, error) {
	var rows []struct {
		Kind      string    `db:"kind"`
		RefID     string    `db:"ref_id"`
		Payload   []byte    `db:"payload"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := i.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, `
            SELECT kind, ref_id, payload, created_at FROM investments WHERE user_id = $1 ORDER BY kind, ref_id
        `, userID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.Investment, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Investment{
			UserID:    userID,
			Kind:      model.InvestmentKind(r.Kind),
			RefID:     r.RefID,
			Payload:   json.RawMessage(r.Payload),
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

// --- Alert rules ---

type alertRules struct{ s *pgStore }

func (a *alertRules) Put(ctx context.Context, rule *model.AlertRule) error {
	return a.s.asUser(ctx, rule.UserID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO alert_rules (user_id, rule_id, rule, enabled, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
            ON CONFLICT (user_id, rule_id) DO UPDATE
            SET rule = EXCLUDED.rule, enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
        `, rule.UserID, rule.RuleID, string(rule.Rule), rule.Enabled, rule.CreatedAt.UTC(), rule.UpdatedAt.UTC())
		return err
	})
}

func (a *alertRules) Delete(ctx context.Context, userID, ruleID string) error {
	return a.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM alert_rules WHERE user_id = $1 AND rule_id = $2`, userID, ruleID)
		if err != nil {
			return err
		}
		if ok, err := affected(res); err != nil {
			return err
		} else if !ok {
			return model.ErrNotFound
		}
		return nil
	})
}

func (a *alertRules) List(ctx context.Context, userID string) ([]model.AlertRule, error) {
	var rows []struct {
		RuleID    string    `db:"rule_id"`
		Rule      []byte    `db:"rule"`
		Enabled   bool      `db:"enabled"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := a.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, `
            SELECT rule_id, rule, enabled, created_at, updated_at FROM alert_rules WHERE user_id = $1 ORDER BY rule_id
        `, userID)
	})
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
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

// --- Notification counters ---

type notifications struct{ s *pgStore }

func (n *notifications) Reserve(ctx context.Context, userID, localDate string, cap int) (bool, error) {
	if cap <= 0 {
		return false, nil
	}
	var ok bool
	err := n.s.asUser(ctx, userID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO notif_counters (user_id, local_date, sent_count) VALUES ($1, $2, 1)
            ON CONFLICT (user_id, local_date) DO UPDATE
            SET sent_count = notif_counters.sent_count + 1
            WHERE notif_counters.sent_count < $3
        `, userID, localDate, cap)
		if err != nil {
			return err
		}
		ok, err = affected(res)
		return err
	})
	return ok, err
}
