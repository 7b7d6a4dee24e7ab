package receptionist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/switchboard/internal/carrier"
	"github.com/zulandar/switchboard/internal/compliance"
	"github.com/zulandar/switchboard/internal/idempotency"
	"github.com/zulandar/switchboard/internal/lifecycle"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/notify"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelSMS is the suppression channel for text messages.
const ChannelSMS = "sms"

var (
	stopWords  = map[string]bool{"STOP": true, "UNSUBSCRIBE": true, "CANCEL": true, "END": true, "QUIT": true, "STOPALL": true}
	startWords = map[string]bool{"START": true, "YES": true, "UNSTOP": true}
)

// SMS replies.
const (
	ReplyStopped = "You have been unsubscribed and will receive no further messages. Reply START to resubscribe."
	ReplyStarted = "You have been resubscribed. Reply STOP to unsubscribe."
	ReplyAck     = "Thanks for your message. Our team will get back to you shortly."
)

// HelpReply is the answer to HELP.
func HelpReply(business string) string {
	return business + ": for help, reply to this message or call us. Reply STOP to unsubscribe. Msg & data rates may apply."
}

// SMSResult is the outcome of an inbound message.
type SMSResult struct {
	Reply     string `json:"reply"`
	Category  string `json:"category,omitempty"`
	Escalated bool   `json:"escalated,omitempty"`
}

// SMS handles an inbound text. Opt-out and opt-in keywords update the
// number's suppression and consent; anything else is stored redacted and
// acknowledged.
func (r *Receptionist) SMS(ctx context.Context, ev carrier.Event) (SMSResult, error) {
	args := struct {
		MessageSid string `json:"messageSid"`
		From       string `json:"from"`
	}{ev.MessageSid, ev.From}
	res, _, err := idempotency.Do(ctx, r.idem, OpSMS, args, func(ctx context.Context) (SMSResult, error) {
		return r.sms(ctx, ev)
	})
	if errors.Is(err, idempotency.ErrInProgress) {
		return SMSResult{}, nil
	}
	return res, err
}

func (r *Receptionist) sms(ctx context.Context, ev carrier.Event) (SMSResult, error) {
	log := r.log.With(logger.String("message_sid", ev.MessageSid))
	keyword := strings.ToUpper(strings.TrimSpace(ev.Body))

	switch {
	case stopWords[keyword]:
		if err := r.Suppress(ctx, ev.From, "opt_out"); err != nil {
			return SMSResult{}, err
		}
		log.Info("sms opt-out")
		return SMSResult{Reply: ReplyStopped}, nil
	case startWords[keyword]:
		if err := r.Unsuppress(ctx, ev.From); err != nil {
			return SMSResult{}, err
		}
		log.Info("sms opt-in")
		return SMSResult{Reply: ReplyStarted}, nil
	case keyword == "HELP" || keyword == "INFO":
		return SMSResult{Reply: HelpReply(r.voice.BusinessName)}, nil
	}

	suppressed, err := r.Suppressed(ctx, ev.From)
	if err != nil {
		return SMSResult{}, err
	}
	s, err := r.machine.LatestForCaller(ctx, ev.From)
	if errors.Is(err, lifecycle.ErrSessionNotFound) {
		s, err = &models.CallSession{From: ev.From, To: ev.To}, nil
	}
	if err != nil {
		return SMSResult{}, err
	}
	d := r.policy.Decide(compliance.Input{
		Session:         s,
		Now:             r.now(),
		Text:            ev.Body,
		OutboundPurpose: compliance.PurposeTransactional,
		Suppressed:      suppressed,
	})
	msg := models.Message{
		Channel:   ChannelSMS,
		From:      ev.From,
		To:        ev.To,
		CallID:    s.ID,
		Body:      d.RedactedText,
		Category:  string(d.Category),
		Sentiment: d.SentimentScore,
		Escalated: d.Escalate,
	}
	if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return SMSResult{}, fmt.Errorf("receptionist: store sms %s: %w", ev.MessageSid, err)
	}
	if d.Escalate {
		r.notifyHandoff(notify.Handoff{
			CallID: s.ID, From: ev.From, Reason: d.EscalationReason,
			Category: string(d.Category), Summary: d.RedactedText, At: r.now(),
		})
	}
	out := SMSResult{Category: string(d.Category), Escalated: d.Escalate}
	if !suppressed {
		out.Reply = ReplyAck
	}
	return out, nil
}

// Suppress adds phone to the SMS do-not-contact list and records the opt-out
// on its sessions.
func (r *Receptionist) Suppress(ctx context.Context, phone, reason string) error {
	sup := models.Suppression{Phone: phone, Channel: ChannelSMS, Reason: reason}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&sup).Error; err != nil {
		return fmt.Errorf("receptionist: suppress %s: %w", phone, err)
	}
	_, err := r.machine.SetSMSOptIn(ctx, phone, false)
	return err
}

// Unsuppress removes phone from the SMS do-not-contact list and records the
// opt-in on its sessions.
func (r *Receptionist) Unsuppress(ctx context.Context, phone string) error {
	if err := r.db.WithContext(ctx).Where("phone = ? AND channel = ?", phone, ChannelSMS).
		Delete(&models.Suppression{}).Error; err != nil {
		return fmt.Errorf("receptionist: unsuppress %s: %w", phone, err)
	}
	_, err := r.machine.SetSMSOptIn(ctx, phone, true)
	return err
}

// Suppressed reports whether phone opted out of SMS.
func (r *Receptionist) Suppressed(ctx context.Context, phone string) (bool, error) {
	var sup models.Suppression
	err := r.db.WithContext(ctx).Where("phone = ? AND channel = ?", phone, ChannelSMS).Take(&sup).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("receptionist: suppression lookup %s: %w", phone, err)
	}
	return true, nil
}
