package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	slackapi "github.com/slack-go/slack"
)

type webhookPoster func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Slack posts handoffs to an incoming webhook.
type Slack struct {
	url  string
	post webhookPoster
}

// NewSlack creates a Slack notifier for webhookURL.
func NewSlack(webhookURL string) *Slack {
	return &Slack{url: webhookURL, post: slackapi.PostWebhookContext}
}

// NotifyHandoff posts h, retrying when Slack rate limits.
func (s *Slack) NotifyHandoff(ctx context.Context, h Handoff) error {
	msg := buildWebhookMessage(h)
	err := retry(ctx, func() error { return s.post(ctx, s.url, msg) }, func(err error, attempt int) (time.Duration, bool) {
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return 0, false
		}
		if rle.RetryAfter > 0 {
			return rle.RetryAfter, true
		}
		return time.Duration(math.Pow(2, float64(attempt))) * time.Second, true
	})
	if err != nil {
		return fmt.Errorf("notify: slack: %w", err)
	}
	return nil
}

func buildWebhookMessage(h Handoff) *slackapi.WebhookMessage {
	att := slackapi.Attachment{
		Title:    h.Title(),
		Text:     h.Summary,
		Color:    h.Color(),
		Fallback: h.Title(),
		Fields: []slackapi.AttachmentField{
			{Title: "Caller", Value: h.From, Short: true},
			{Title: "Category", Value: h.Category, Short: true},
		},
	}
	if !h.At.IsZero() {
		att.Ts = json.Number(strconv.FormatInt(h.At.Unix(), 10))
	}
	return &slackapi.WebhookMessage{
		Text:        h.Title(),
		Attachments: []slackapi.Attachment{att},
	}
}
