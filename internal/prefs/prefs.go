// Package prefs validates and normalizes user preferences and evaluates quiet hours.
package prefs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mycelian/cockpit/internal/model"
)

// MaxNotifCap is the highest accepted notif_cap_per_day.
const MaxNotifCap = 10

var hhmmRx = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Input is the raw preference write. Nil fields keep their current value.
type Input struct {
	WalletScopeDefault *string `json:"wallet_scope_default,omitempty"`
	Timezone           *string `json:"timezone,omitempty"`
	DNDStartLocal      *string `json:"dnd_start_local,omitempty"`
	DNDEndLocal        *string `json:"dnd_end_local,omitempty"`
	NotifCapPerDay     *int    `json:"notif_cap_per_day,omitempty"`
}

// Normalize merges in over current and validates the result.
// A timezone already on current is never replaced.
func Normalize(current model.Prefs, in Input) (model.Prefs, error) {
	out := current
	if in.WalletScopeDefault != nil {
		scope, err := model.ParseWalletScope(strings.TrimSpace(*in.WalletScopeDefault))
		if err != nil {
			return current, model.Invalid("wallet_scope_default", "must be active or all")
		}
		out.WalletScopeDefault = scope
	}
	if in.DNDStartLocal != nil {
		v, err := ParseHHMM(*in.DNDStartLocal)
		if err != nil {
			return current, model.Invalid("dnd_start_local", "%v", err)
		}
		out.DNDStartLocal = v
	}
	if in.DNDEndLocal != nil {
		v, err := ParseHHMM(*in.DNDEndLocal)
		if err != nil {
			return current, model.Invalid("dnd_end_local", "%v", err)
		}
		out.DNDEndLocal = v
	}
	if in.NotifCapPerDay != nil {
		if *in.NotifCapPerDay < 0 || *in.NotifCapPerDay > MaxNotifCap {
			return current, model.Invalid("notif_cap_per_day", "must be an integer 0-%d", MaxNotifCap)
		}
		out.NotifCapPerDay = *in.NotifCapPerDay
	}
	if in.Timezone != nil && out.Timezone == "" {
		tz, err := ValidateTimezone(*in.Timezone)
		if err != nil {
			return current, err
		}
		out.Timezone = tz
	}
	if out.WalletScopeDefault == "" {
		out.WalletScopeDefault = model.ScopeActive
	}
	return out, nil
}

// ParseHHMM accepts zero-padded 24h "HH:MM".
func ParseHHMM(v string) (string, error) {
	v = strings.TrimSpace(v)
	if !hhmmRx.MatchString(v) {
		return "", fmt.Errorf("must be zero-padded HH:MM (00:00-23:59), got %q", v)
	}
	return v, nil
}

// ValidateTimezone checks an IANA zone name resolved by the client.
func ValidateTimezone(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "local") {
		return "", model.Invalid("timezone", "an IANA zone name is required")
	}
	if _, err := time.LoadLocation(v); err != nil {
		return "", model.Invalid("timezone", "unknown IANA zone %q", v)
	}
	return v, nil
}

// Location resolves the persisted timezone. ok is false when it falls back to UTC.
func Location(tz string) (loc *time.Location, ok bool) {
	if tz == "" {
		return time.UTC, false
	}
	l, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC, false
	}
	return l, true
}

func minutesOf(hhmm string) int {
	h, _ := strconv.Atoi(hhmm[:2])
	m, _ := strconv.Atoi(hhmm[3:])
	return h*60 + m
}

// InQuietHours reports whether now, in the user's persisted zone, falls inside the DND window.
// The window is [start, end) and may cross midnight; start == end disables it.
func InQuietHours(p model.Prefs, now time.Time) bool {
	if !hhmmRx.MatchString(p.DNDStartLocal) || !hhmmRx.MatchString(p.DNDEndLocal) {
		return false
	}
	start, end := minutesOf(p.DNDStartLocal), minutesOf(p.DNDEndLocal)
	if start == end {
		return false
	}
	loc, _ := Location(p.Timezone)
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	if start < end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// LocalDate returns now's calendar date in the user's zone.
func LocalDate(p model.Prefs, now time.Time) string {
	loc, _ := Location(p.Timezone)
	return now.In(loc).Format(model.PulseDateLayout)
}
