// Package notify tells humans when a call needs them: handoffs and
// escalations are posted to Slack and/or Discord webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/logger"
)

const maxRetries = 3

// Handoff describes a call that needs a human.
type Handoff struct {
	CallID   string
	From     string
	Reason   string
	Category string
	// Summary must already be redacted.
	Summary string
	At      time.Time
}

// Title is the one-line headline for h.
func (h Handoff) Title() string {
	if h.CallID == "" {
		return fmt.Sprintf("Message from %s needs a human (%s)", h.From, h.Reason)
	}
	return fmt.Sprintf("Call %s needs a human (%s)", h.CallID, h.Reason)
}

// Color is a sidebar color hint for h.
func (h Handoff) Color() string {
	switch h.Category {
	case "urgent":
		return "#e01e5a"
	case "sales":
		return "#36a64f"
	}
	return "#ecb22e"
}

// Notifier delivers handoff notifications.
type Notifier interface {
	NotifyHandoff(ctx context.Context, h Handoff) error
}

// Noop discards notifications.
type Noop struct{}

// NotifyHandoff does nothing.
func (Noop) NotifyHandoff(context.Context, Handoff) error { return nil }

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

// NotifyHandoff sends h to every notifier.
func (m Multi) NotifyHandoff(ctx context.Context, h Handoff) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyHandoff(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the notifiers configured in cfg. With none configured it
// returns Noop.
func FromConfig(cfg config.NotifyConfig, log *logger.Logger) (Notifier, error) {
	if log == nil {
		log = logger.Nop()
	}
	var m Multi
	if cfg.SlackWebhookURL != "" {
		m = append(m, NewSlack(cfg.SlackWebhookURL))
		log.Info("slack notifications enabled")
	}
	if cfg.DiscordWebhookID != "" {
		d, err := NewDiscord(cfg.DiscordWebhookID, cfg.DiscordWebhookToken)
		if err != nil {
			return nil, err
		}
		m = append(m, d)
		log.Info("discord notifications enabled")
	}
	if len(m) == 0 {
		return Noop{}, nil
	}
	return m, nil
}

// retry calls fn until it succeeds, returns a non-retryable error or runs
// out of attempts. retryable returns the wait before the next attempt.
func retry(ctx context.Context, fn func() error, retryable func(err error, attempt int) (time.Duration, bool)) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		wait, ok := retryable(err, attempt)
		if !ok || attempt == maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
