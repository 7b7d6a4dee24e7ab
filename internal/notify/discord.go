package notify

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/discordgo"
)

// webhookExecutor abstracts the discordgo.Session method we use, enabling
// test mocks.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts handoffs to a channel webhook.
type Discord struct {
	id          string
	token       string
	sess        webhookExecutor
	baseBackoff time.Duration
}

// NewDiscord creates a Discord notifier. Webhooks need no bot token.
func NewDiscord(webhookID, token string) (*Discord, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: discord: webhook token is required")
	}
	sess, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("notify: discord: %w", err)
	}
	return &Discord{id: webhookID, token: token, sess: sess, baseBackoff: time.Second}, nil
}

// NotifyHandoff posts h, retrying with backoff when Discord rate limits.
func (d *Discord) NotifyHandoff(ctx context.Context, h Handoff) error {
	params := buildWebhookParams(h)
	err := retry(ctx, func() error {
		_, err := d.sess.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx))
		return err
	}, func(err error, attempt int) (time.Duration, bool) {
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return 0, false
		}
		return time.Duration(math.Pow(2, float64(attempt))) * d.baseBackoff, true
	})
	if err != nil {
		return fmt.Errorf("notify: discord: %w", err)
	}
	return nil
}

func buildWebhookParams(h Handoff) *discordgo.WebhookParams {
	embed := &discordgo.MessageEmbed{
		Title:       h.Title(),
		Description: h.Summary,
		Color:       parseHexColor(h.Color()),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Caller", Value: h.From, Inline: true},
			{Name: "Category", Value: h.Category, Inline: true},
		},
	}
	if !h.At.IsZero() {
		embed.Timestamp = h.At.UTC().Format(time.RFC3339)
	}
	return &discordgo.WebhookParams{
		Content:  h.Title(),
		Username: "Switchboard",
		Embeds:   []*discordgo.MessageEmbed{embed},
	}
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}
