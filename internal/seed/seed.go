// Package seed loads monitors, channels and policies from a YAML file.
package seed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dandantas/sentinel/internal/model"
)

// Store is where seeded records are written
type Store interface {
	UpsertMonitor(ctx context.Context, m *model.Monitor) error
	UpsertChannel(ctx context.Context, c *model.NotificationChannel) error
	UpsertPolicy(ctx context.Context, p *model.NotificationPolicy) error
}

// Monitor is the seed form of a monitor. Token is the plaintext ingest
// token for push-based kinds; only its hash is stored.
type Monitor struct {
	ID               string          `yaml:"id"`
	TeamID           string          `yaml:"team_id"`
	Name             string          `yaml:"name"`
	Enabled          *bool           `yaml:"enabled"`
	IntervalSeconds  int             `yaml:"interval_seconds"`
	TimeoutMs        int             `yaml:"timeout_ms"`
	FailureThreshold int             `yaml:"failure_threshold"`
	Token            string          `yaml:"token"`
	Check            model.CheckSpec `yaml:"check"`
	Tags             []string        `yaml:"tags"`
}

// File is the top-level seed document
type File struct {
	Monitors []Monitor                   `yaml:"monitors"`
	Channels []model.NotificationChannel `yaml:"channels"`
	Policies []model.NotificationPolicy  `yaml:"policies"`
}

// Summary counts what Apply wrote
type Summary struct {
	Monitors int
	Channels int
	Policies int
}

// Parse decodes a seed document
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

// LoadFile parses the seed document at path
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// ToModel converts a seed monitor into a validated model.Monitor
func (m Monitor) ToModel() (*model.Monitor, error) {
	out := &model.Monitor{
		ID:               m.ID,
		TeamID:           m.TeamID,
		Name:             m.Name,
		Check:            m.Check,
		IntervalSeconds:  m.IntervalSeconds,
		TimeoutMs:        m.TimeoutMs,
		FailureThreshold: m.FailureThreshold,
		Enabled:          m.Enabled == nil || *m.Enabled,
		Metadata:         model.Metadata{CreatedBy: "seed", Tags: m.Tags},
	}
	if m.Token != "" {
		hash := model.HashToken(m.Token)
		switch {
		case out.Check.Webhook != nil:
			out.Check.Webhook.TokenHash = hash
		case out.Check.Heartbeat != nil:
			out.Check.Heartbeat.TokenHash = hash
		}
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("monitor %q: %w", m.ID, err)
	}
	return out, nil
}

// Apply validates everything first, then upserts channels, monitors and
// policies in that order
func Apply(ctx context.Context, st Store, f *File) (Summary, error) {
	var sum Summary

	monitors := make([]*model.Monitor, 0, len(f.Monitors))
	for _, m := range f.Monitors {
		mon, err := m.ToModel()
		if err != nil {
			return sum, err
		}
		monitors = append(monitors, mon)
	}
	channels := make(map[string]bool, len(f.Channels))
	for i := range f.Channels {
		if err := f.Channels[i].Validate(); err != nil {
			return sum, fmt.Errorf("channel %q: %w", f.Channels[i].ID, err)
		}
		channels[f.Channels[i].ID] = true
	}
	for _, p := range f.Policies {
		if p.ID == "" || p.MonitorID == "" || p.ChannelID == "" {
			return sum, fmt.Errorf("policy %q: id, monitor_id and channel_id are required", p.ID)
		}
		if !channels[p.ChannelID] {
			slog.Warn("Policy references a channel not in this file", "policy_id", p.ID, "channel_id", p.ChannelID)
		}
	}

	for i := range f.Channels {
		if err := st.UpsertChannel(ctx, &f.Channels[i]); err != nil {
			return sum, err
		}
		sum.Channels++
	}
	for _, m := range monitors {
		if err := st.UpsertMonitor(ctx, m); err != nil {
			return sum, err
		}
		sum.Monitors++
	}
	for i := range f.Policies {
		if err := st.UpsertPolicy(ctx, &f.Policies[i]); err != nil {
			return sum, err
		}
		sum.Policies++
	}

	slog.Info("Seed applied",
		"monitors", sum.Monitors,
		"channels", sum.Channels,
		"policies", sum.Policies,
	)
	return sum, nil
}
