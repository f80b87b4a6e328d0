package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/store/sqlite"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (c *capturePublisher) WriteMessages(_ context.Context, _ string, msgs ...kafka.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func newNotifier(t *testing.T, clk clock.Clock, pub Publisher) *Notifier {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	s := sqlite.NewWithDB(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return NewNotifier(s.Notifications(), pub, "cockpit.notifications", clk, zerolog.Nop())
}

func user(tz string, cap int) model.UserState {
	p := model.DefaultPrefs()
	p.Timezone = tz
	p.NotifCapPerDay = cap
	return model.UserState{UserID: "u1", Prefs: p}
}

func TestNotify_QuietHoursInUserZone(t *testing.T) {
	// 06:30 UTC is 07:30 in Berlin, inside the default 22:00-08:00 window.
	clk := clock.NewFixed(time.Date(2026, 1, 9, 6, 30, 0, 0, time.UTC))
	pub := &capturePublisher{}
	n := newNotifier(t, clk, pub)

	out, err := n.Notify(context.Background(), user("Europe/Berlin", 3), Notification{Kind: KindDailyPulseReady})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuietHours, out)
	assert.Empty(t, pub.msgs)

	// 10:00 in Berlin.
	clk.Set(time.Date(2026, 1, 9, 9, 0, 0, 0, time.UTC))
	out, err = n.Notify(context.Background(), user("Europe/Berlin", 3), Notification{Kind: KindDailyPulseReady, PulseDate: "2026-01-09"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, out)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "u1", string(pub.msgs[0].Key))

	var got Notification
	require.NoError(t, json.Unmarshal(pub.msgs[0].Value, &got))
	assert.Equal(t, "2026-01-09", got.PulseDate)
	assert.Equal(t, "u1", got.UserID)
}

func TestNotify_DailyCap(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC))
	pub := &capturePublisher{}
	n := newNotifier(t, clk, pub)

	var outcomes []Outcome
	for i := 0; i < 3; i++ {
		out, err := n.Notify(context.Background(), user("", 2), Notification{Kind: KindDailyPulseReady})
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}
	assert.Equal(t, []Outcome{OutcomeSent, OutcomeSent, OutcomeCapped}, outcomes)

	out, _ := n.Notify(context.Background(), model.UserState{UserID: "u2", Prefs: model.Prefs{NotifCapPerDay: 0}}, Notification{})
	assert.Equal(t, OutcomeCapped, out, "zero cap disables notifications")
}

func TestNotify_PublishFailure(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC))
	n := newNotifier(t, clk, &capturePublisher{err: errors.New("broker down")})

	out, err := n.Notify(context.Background(), user("", 3), Notification{Kind: KindDailyPulseReady})
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)
}
