package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/dandantas/sentinel/internal/model"
)

// SMTPConfig addresses the outbound mail relay
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends plain-text alert mail through an SMTP relay
type EmailChannel struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewEmailChannel creates an email channel
func NewEmailChannel(cfg SMTPConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}
}

// Send implements Channel
func (c *EmailChannel) Send(ctx context.Context, n model.Notification) error {
	if c.cfg.Addr == "" {
		return errors.New("smtp relay is not configured")
	}
	to := n.Channel.Config.To
	if len(to) == 0 {
		return errors.New("email channel has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.cfg.Username != "" {
		host := c.cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, host)
	}

	if err := c.sendMail(c.cfg.Addr, auth, c.cfg.From, to, c.compose(n.Alert, to)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

func (c *EmailChannel) compose(alert model.AlertJob, to []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s: %s\r\n", Subject(alert), monitorLabel(alert))
	fmt.Fprintf(&b, "Date: %s\r\n", c.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")

	b.WriteString(Message(alert) + "\r\n\r\n")
	fmt.Fprintf(&b, "Monitor: %s\r\n", alert.MonitorID)
	fmt.Fprintf(&b, "Status: %s\r\n", alert.Status)
	if alert.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\r\n", alert.Reason)
	}
	if alert.IncidentID != "" {
		fmt.Fprintf(&b, "Incident: %s\r\n", alert.IncidentID)
	}
	fmt.Fprintf(&b, "Alert: %s\r\n", alert.AlertID)
	return []byte(b.String())
}
