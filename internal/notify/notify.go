// Package notify decides whether a user may be notified now and publishes the
// notification for the push transport.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/metrics"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/prefs"
	"github.com/mycelian/cockpit/internal/store"
)

type Kind string

const KindDailyPulseReady Kind = "daily_pulse_ready"

// Notification is the message consumed by the push transport.
type Notification struct {
	Kind      Kind      `json:"kind"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	PulseDate string    `json:"pulse_date,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeQuietHours Outcome = "quiet_hours"
	OutcomeCapped     Outcome = "capped"
	OutcomeFailed     Outcome = "failed"
)

// Notifier applies quiet hours and the daily cap before publishing.
type Notifier struct {
	counters store.Notifications
	pub      Publisher
	topic    string
	clock    clock.Clock
	log      zerolog.Logger
}

func NewNotifier(counters store.Notifications, pub Publisher, topic string, clk clock.Clock, log zerolog.Logger) *Notifier {
	return &Notifier{counters: counters, pub: pub, topic: topic, clock: clk, log: log}
}

// Notify evaluates the user's persisted preferences at the current instant.
// A reserved slot is not returned when publishing fails.
func (n *Notifier) Notify(ctx context.Context, user model.UserState, msg Notification) (Outcome, error) {
	now := n.clock.Now()
	outcome, err := n.notify(ctx, user, msg, now)
	metrics.Notifications.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (n *Notifier) notify(ctx context.Context, user model.UserState, msg Notification, now time.Time) (Outcome, error) {
	if prefs.InQuietHours(user.Prefs, now) {
		return OutcomeQuietHours, nil
	}
	ok, err := n.counters.Reserve(ctx, user.UserID, prefs.LocalDate(user.Prefs, now), user.Prefs.NotifCapPerDay)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("reserve notification slot: %w", err)
	}
	if !ok {
		return OutcomeCapped, nil
	}

	msg.UserID = user.UserID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return OutcomeFailed, err
	}
	if err := n.pub.WriteMessages(ctx, n.topic, kafka.Message{Key: []byte(user.UserID), Value: body, Time: now}); err != nil {
		return OutcomeFailed, fmt.Errorf("publish notification: %w", err)
	}
	n.log.Debug().Str("user_id", user.UserID).Str("kind", string(msg.Kind)).Msg("notification published")
	return OutcomeSent, nil
}
