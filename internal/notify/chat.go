package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dandantas/sentinel/internal/model"
)

// SlackChannel posts to a Slack incoming webhook
type SlackChannel struct {
	poster *poster
}

// NewSlackChannel creates a Slack channel
func NewSlackChannel(client *http.Client, cfg BreakerConfig) *SlackChannel {
	return &SlackChannel{poster: newPoster(client, cfg)}
}

// Send implements Channel
func (c *SlackChannel) Send(ctx context.Context, n model.Notification) error {
	text := fmt.Sprintf("*%s* %s", statusLabel(n.Alert.Status), Message(n.Alert))
	if n.Alert.IncidentID != "" {
		text += fmt.Sprintf(" (incident %s)", n.Alert.IncidentID)
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}
	return c.poster.send(ctx, n, body)
}

// TeamsChannel posts a MessageCard to a Microsoft Teams connector
type TeamsChannel struct {
	poster *poster
}

// NewTeamsChannel creates a Teams channel
func NewTeamsChannel(client *http.Client, cfg BreakerConfig) *TeamsChannel {
	return &TeamsChannel{poster: newPoster(client, cfg)}
}

// Send implements Channel
func (c *TeamsChannel) Send(ctx context.Context, n model.Notification) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": statusColor(n.Alert.Status),
		"summary":    Subject(n.Alert),
		"title":      fmt.Sprintf("%s: %s", Subject(n.Alert), monitorLabel(n.Alert)),
		"text":       Message(n.Alert),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal teams payload: %w", err)
	}
	return c.poster.send(ctx, n, body)
}
