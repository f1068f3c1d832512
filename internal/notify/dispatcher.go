// Package notify fans transitions out to the channels a team subscribed.
//
// Each (alert, policy) pair is delivered at most once: the dedupe key is
// acquired before the channel is called, and a failed delivery after
// acquisition is logged and counted, never retried by the dispatcher.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dandantas/sentinel/internal/metrics"
	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/store"
)

// Channel delivers one notification
type Channel interface {
	Send(ctx context.Context, n model.Notification) error
}

// Store is the persistence the dispatcher needs
type Store interface {
	ListPolicies(ctx context.Context, monitorID string) ([]model.NotificationPolicy, error)
	GetChannel(ctx context.Context, id string) (*model.NotificationChannel, error)
	Acquire(ctx context.Context, key string) (bool, error)
}

// Summary counts what one dispatch did
type Summary struct {
	Matched    int
	Sent       int
	Duplicates int
	Failed     int
	Skipped    int
}

// Dispatcher selects policies for an alert and delivers through channels
type Dispatcher struct {
	store    Store
	channels map[model.ChannelType]Channel
	metrics  *metrics.Registry
}

// NewDispatcher creates a dispatcher with no channels registered
func NewDispatcher(st Store, reg *metrics.Registry) *Dispatcher {
	return &Dispatcher{store: st, channels: make(map[model.ChannelType]Channel), metrics: reg}
}

// Register installs the Channel for a channel type
func (d *Dispatcher) Register(t model.ChannelType, ch Channel) *Dispatcher {
	d.channels[t] = ch
	return d
}

// Matches reports whether policy p wants alert
func Matches(p model.NotificationPolicy, alert model.AlertJob) bool {
	switch alert.Status {
	case model.StatusDown:
		return p.EffectiveThreshold(alert.FailureThreshold) <= alert.ConsecutiveFailures
	case model.StatusUp:
		return p.NotifyOnRecovery
	}
	return false
}

// Dispatch delivers alert to every matching policy. Store faults are
// returned so the alert is redelivered; channel faults are not.
func (d *Dispatcher) Dispatch(ctx context.Context, alert model.AlertJob) (Summary, error) {
	var sum Summary

	policies, err := d.store.ListPolicies(ctx, alert.MonitorID)
	if err != nil {
		return sum, fmt.Errorf("failed to list policies: %w", err)
	}

	for _, p := range policies {
		if !Matches(p, alert) {
			continue
		}
		sum.Matched++

		ch, err := d.store.GetChannel(ctx, p.ChannelID)
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("Policy references a missing channel",
				"policy_id", p.ID,
				"channel_id", p.ChannelID,
			)
			sum.Skipped++
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("failed to load channel %s: %w", p.ChannelID, err)
		}
		if !ch.Enabled {
			sum.Skipped++
			continue
		}
		channel, ok := d.channels[ch.Type]
		if !ok {
			slog.Warn("No sender registered for channel type",
				"channel_id", ch.ID,
				"channel_type", ch.Type,
			)
			sum.Skipped++
			continue
		}

		key := model.DedupeKey(alert.AlertID, p.ID)
		acquired, err := d.store.Acquire(ctx, key)
		if err != nil {
			return sum, fmt.Errorf("failed to acquire dedupe key %s: %w", key, err)
		}
		if !acquired {
			d.metrics.Inc(metrics.NotificationDuplicates, "channel_type", string(ch.Type))
			slog.Debug("Notification already sent", "alert_id", alert.AlertID, "policy_id", p.ID)
			sum.Duplicates++
			continue
		}

		n := model.Notification{Alert: alert, Policy: p, Channel: *ch}
		if err := channel.Send(ctx, n); err != nil {
			d.metrics.Inc(metrics.NotificationFailuresTotal, "channel_type", string(ch.Type))
			slog.Error("Notification delivery failed",
				"alert_id", alert.AlertID,
				"monitor_id", alert.MonitorID,
				"policy_id", p.ID,
				"channel_id", ch.ID,
				"channel_type", ch.Type,
				"error", err,
			)
			sum.Failed++
			continue
		}

		d.metrics.Inc(metrics.NotificationsSentTotal, "channel_type", string(ch.Type))
		slog.Info("Notification sent",
			"alert_id", alert.AlertID,
			"monitor_id", alert.MonitorID,
			"policy_id", p.ID,
			"channel_type", ch.Type,
			"status", alert.Status,
		)
		sum.Sent++
	}
	return sum, nil
}
