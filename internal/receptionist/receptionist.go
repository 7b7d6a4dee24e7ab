// Package receptionist drives a call from the carrier's webhooks: each
// delivery runs once under an idempotency key, gets a compliance decision,
// moves the call's lifecycle, and yields the next voice action.
package receptionist

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/carrier"
	"github.com/zulandar/switchboard/internal/compliance"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/idempotency"
	"github.com/zulandar/switchboard/internal/lifecycle"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/voice"
	"gorm.io/gorm"
)

// Operation types used as idempotency key prefixes.
const (
	OpInbound   = "voice.inbound"
	OpConsent   = "voice.consent"
	OpMenu      = "voice.menu"
	OpConnect   = "voice.connect"
	OpRecording = "voice.recording"
	OpStatus    = "voice.status"
	OpSMS       = "sms.inbound"
	OpContact   = "contact"
)

// Options holds parameters for creating a Receptionist.
type Options struct {
	DB          *gorm.DB
	Machine     *lifecycle.Machine
	Idempotency *idempotency.Manager
	Policy      compliance.Policy
	Notifier    notify.Notifier
	Voice       config.VoiceConfig
	Log         *logger.Logger
}

// Receptionist handles carrier webhooks and the public API.
type Receptionist struct {
	db       *gorm.DB
	machine  *lifecycle.Machine
	idem     *idempotency.Manager
	policy   compliance.Policy
	notifier notify.Notifier
	voice    config.VoiceConfig
	log      *logger.Logger
	now      func() time.Time

	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// New creates a Receptionist.
func New(opts Options) (*Receptionist, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("receptionist: db is required")
	}
	if opts.Machine == nil || opts.Idempotency == nil {
		return nil, fmt.Errorf("receptionist: lifecycle and idempotency are required")
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Noop{}
	}
	return &Receptionist{
		db:            opts.DB,
		machine:       opts.Machine,
		idem:          opts.Idempotency,
		policy:        opts.Policy,
		notifier:      n,
		voice:         opts.Voice,
		log:           log.Named("receptionist"),
		now:           func() time.Time { return time.Now().UTC() },
		notifyTimeout: 15 * time.Second,
	}, nil
}

// SetClock overrides the time source for compliance decisions.
func (r *Receptionist) SetClock(now func() time.Time) { r.now = now }

// Machine exposes the lifecycle state machine.
func (r *Receptionist) Machine() *lifecycle.Machine { return r.machine }

// Wait blocks until in-flight handoff notifications finish.
func (r *Receptionist) Wait() { r.pending.Wait() }

// once runs fn under the idempotency key for (op, args). A twin delivery that
// is still running yields busy instead of an error.
func (r *Receptionist) once(ctx context.Context, op string, args any, busy voice.Action, fn func(context.Context) (voice.Action, error)) (voice.Action, error) {
	a, replayed, err := idempotency.Do(ctx, r.idem, op, args, fn)
	if errors.Is(err, idempotency.ErrInProgress) {
		r.log.Info("duplicate delivery in flight", logger.String("op", op))
		return busy, nil
	}
	if err != nil {
		return voice.Action{}, err
	}
	if replayed {
		r.log.Debug("replayed cached action", logger.String("op", op))
	}
	return a, nil
}

type callArgs struct {
	CallSid string `json:"callSid"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Extra   string `json:"extra,omitempty"`
}

// Inbound starts a call: RINGING, then ANSWERED, then the consent prompt.
func (r *Receptionist) Inbound(ctx context.Context, ev carrier.Event) (voice.Action, error) {
	args := callArgs{CallSid: ev.CallSid}
	return r.once(ctx, OpInbound, args, voice.Retry(voice.PathInbound), func(ctx context.Context) (voice.Action, error) {
		log := r.log.WithCall(ev.CallSid)
		res, err := r.machine.ApplyEvent(ctx, lifecycle.Event{
			CallID: ev.CallSid, Status: carrier.StatusRinging, OccurredAt: r.eventTime(ev),
			From: ev.From, To: ev.To,
			Metadata: map[string]any{"carrierStatus": ev.CallStatus},
		})
		if err != nil {
			return voice.Action{}, err
		}
		if res.Session == nil || lifecycle.IsTerminal(res.Session.Status) {
			log.Info("inbound for finished call", logger.String("anomaly", res.Anomaly))
			return voice.Goodbye(), nil
		}

		d := r.policy.Decide(compliance.Input{Session: res.Session, Now: r.now()})
		if res.Session.Timezone == "" && d.Timezone != "" {
			if err := r.machine.SetTimezone(ctx, ev.CallSid, d.Timezone); err != nil {
				return voice.Action{}, err
			}
		}
		if d.Timezone == "" {
			log.Info("caller timezone unknown", logger.String("anomaly", compliance.ReasonTimezoneUnknown))
		}
		if _, err := r.apply(ctx, ev, carrier.StatusAnswered, d.Metadata()); err != nil {
			return voice.Action{}, err
		}
		return voice.Consent(r.voice.BusinessName), nil
	})
}

// Consent records the caller's recording consent and offers the menu. No
// input leaves consent unknown, which is treated as no consent.
func (r *Receptionist) Consent(ctx context.Context, ev carrier.Event) (voice.Action, error) {
	args := callArgs{CallSid: ev.CallSid, Field: "digits", Value: ev.Digits}
	return r.once(ctx, OpConsent, args, voice.Retry(withDigits(voice.PathConsent, ev.Digits)), func(ctx context.Context) (voice.Action, error) {
		log := r.log.WithCall(ev.CallSid)
		s, err := r.live(ctx, ev.CallSid)
		if s == nil || err != nil {
			return voice.Goodbye(), err
		}
		answer := "unknown"
		switch ev.Digits {
		case "":
			log.Info("recording consent not given", logger.String("anomaly", compliance.ReasonRecordingConsentUnknown))
		case "1":
			answer = "granted"
		default:
			answer = "declined"
		}
		if answer != "unknown" {
			if err := r.machine.SetConsent(ctx, ev.CallSid, answer == "granted"); err != nil {
				return voice.Action{}, err
			}
		}
		if _, err := r.apply(ctx, ev, carrier.StatusIVRMenu, map[string]any{"consentRecording": answer}); err != nil {
			return voice.Action{}, err
		}
		return voice.Menu(), nil
	})
}

// Menu routes the caller's menu choice or spoken request.
func (r *Receptionist) Menu(ctx context.Context, ev carrier.Event) (voice.Action, error) {
	args := callArgs{CallSid: ev.CallSid, Field: "digits", Value: ev.Digits, Extra: ev.SpeechResult}
	return r.once(ctx, OpMenu, args, voice.Retry(withDigits(voice.PathMenu, ev.Digits)), func(ctx context.Context) (voice.Action, error) {
		s, err := r.live(ctx, ev.CallSid)
		if s == nil || err != nil {
			return voice.Goodbye(), err
		}
		noInput := ev.Digits == "" && ev.SpeechResult == ""
		d := r.policy.Decide(compliance.Input{
			Session:       s,
			Now:           r.now(),
			Text:          ev.SpeechResult,
			Signal:        compliance.Signal{Digits: ev.Digits, Voicemail: ev.Digits == "9" || noInput},
			WantRecording: true,
		})
		if err := r.machine.SetCategory(ctx, s.ID, string(d.Category)); err != nil {
			return voice.Action{}, err
		}
		for _, reason := range d.Reasons {
			if reason == compliance.ReasonRecordingConsentUnknown || reason == compliance.ReasonRecordingConsentDenied {
				r.log.WithCall(s.ID).Info("recording suppressed", logger.String("anomaly", reason))
			}
		}

		if d.Escalate {
			if _, err := r.handoff(ctx, s, d.EscalationReason, d, d.RedactedText); err != nil {
				return voice.Action{}, err
			}
			if r.canDial(s) {
				return r.transfer(s), nil
			}
			return r.toVoicemail(ctx, ev, d)
		}

		switch {
		case d.Category == compliance.CategorySpam:
			r.log.WithCall(s.ID).Info("spam call ended")
			return voice.Goodbye(), nil
		case d.Category == compliance.CategoryVoicemail:
			return r.toVoicemail(ctx, ev, d)
		case ev.Digits == "1" || ev.Digits == "2" || ev.SpeechResult != "":
			res, err := r.apply(ctx, ev, carrier.StatusStreaming, d.Metadata())
			if err != nil {
				return voice.Action{}, err
			}
			if !res.Accepted {
				return voice.Goodbye(), nil
			}
			return voice.Stream(d.AllowRecording), nil
		}
		return voice.Menu(), nil
	})
}

func (r *Receptionist) toVoicemail(ctx context.Context, ev carrier.Event, d compliance.Decision) (voice.Action, error) {
	res, err := r.apply(ctx, ev, carrier.StatusVoicemail, d.Metadata())
	if err != nil {
		return voice.Action{}, err
	}
	if !res.Accepted {
		return voice.Goodbye(), nil
	}
	return voice.Voicemail(int(r.voice.VoicemailMaxLength / time.Second)), nil
}

// Connect runs when the media stream ends: dial a human if one was
// requested, otherwise say goodbye.
func (r *Receptionist) Connect(ctx context.Context, ev carrier.Event) (voice.Action, error) {
	args := callArgs{CallSid: ev.CallSid}
	return r.once(ctx, OpConnect, args, voice.Retry(voice.PathConnect), func(ctx context.Context) (voice.Action, error) {
		s, err := r.live(ctx, ev.CallSid)
		if s == nil || err != nil {
			return voice.Goodbye(), err
		}
		if s.Handoff && r.canDial(s) {
			return r.transfer(s), nil
		}
		return voice.Goodbye(), nil
	})
}

// Recording handles the voicemail callbacks. The recording callback attaches
// the recording and completes the call; the later transcription callback
// stores the redacted transcript as a message.
func (r *Receptionist) Recording(ctx context.Context, ev carrier.Event, transcript bool) (voice.Action, error) {
	if transcript {
		args := callArgs{CallSid: ev.CallSid, Field: "transcript", Value: ev.RecordingSid}
		return r.once(ctx, OpRecording, args, voice.Empty(), func(ctx context.Context) (voice.Action, error) {
			return voice.Empty(), r.storeTranscript(ctx, ev)
		})
	}
	args := callArgs{CallSid: ev.CallSid, Field: "recording", Value: ev.RecordingSid}
	return r.once(ctx, OpRecording, args, voice.Recorded(), func(ctx context.Context) (voice.Action, error) {
		// A voicemail is left deliberately, so the recording is kept
		// regardless of the stream recording consent.
		if ev.RecordingURL != "" {
			if err := r.machine.AttachRecording(ctx, ev.CallSid, ev.RecordingURL); err != nil && !errors.Is(err, lifecycle.ErrSessionNotFound) {
				return voice.Action{}, err
			}
		}
		meta := map[string]any{
			"recordingUrl":      ev.RecordingURL,
			"recordingSid":      ev.RecordingSid,
			"recordingDuration": ev.RecordingDuration,
		}
		if ev.TranscriptionText != "" {
			meta["transcript"] = compliance.Redact(ev.TranscriptionText)
		}
		if _, err := r.apply(ctx, ev, carrier.StatusCompleted, meta); err != nil {
			return voice.Action{}, err
		}
		return voice.Recorded(), nil
	})
}

func (r *Receptionist) storeTranscript(ctx context.Context, ev carrier.Event) error {
	if ev.TranscriptionText == "" {
		return nil
	}
	s, err := r.machine.Session(ctx, ev.CallSid)
	known := err == nil
	if err != nil && !errors.Is(err, lifecycle.ErrSessionNotFound) {
		return err
	}
	if !known {
		s = &models.CallSession{ID: ev.CallSid, From: ev.From, To: ev.To}
	}
	d := r.policy.Decide(compliance.Input{
		Session: s,
		Now:     r.now(),
		Text:    ev.TranscriptionText,
		Signal:  compliance.Signal{Voicemail: true},
	})
	msg := models.Message{
		Channel:   "voicemail",
		From:      s.From,
		To:        s.To,
		CallID:    ev.CallSid,
		Body:      d.RedactedText,
		Category:  string(d.Category),
		Sentiment: d.SentimentScore,
		Escalated: d.Escalate,
	}
	if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("receptionist: store transcript for %s: %w", ev.CallSid, err)
	}
	switch {
	case d.Escalate && known:
		if _, err := r.handoff(ctx, s, d.EscalationReason, d, d.RedactedText); err != nil {
			return err
		}
	case d.Escalate:
		r.notifyHandoff(notify.Handoff{
			CallID: ev.CallSid, From: s.From, Reason: d.EscalationReason,
			Category: string(d.Category), Summary: d.RedactedText, At: r.now(),
		})
	}
	return nil
}

// Status applies a carrier status callback.
func (r *Receptionist) Status(ctx context.Context, ev carrier.Event) (voice.Action, error) {
	args := callArgs{CallSid: ev.CallSid, Field: "status", Value: ev.CallStatus}
	return r.once(ctx, OpStatus, args, voice.Empty(), func(ctx context.Context) (voice.Action, error) {
		status, ok := carrier.MapCallStatus(ev.CallStatus)
		if !ok {
			r.log.WithCall(ev.CallSid).Warn("unknown carrier status", logger.String("status", ev.CallStatus))
			return voice.Empty(), nil
		}
		meta := map[string]any{"carrierStatus": ev.CallStatus}
		if ev.CallDuration != "" {
			meta["callDuration"] = ev.CallDuration
		}
		if ev.AnsweredBy != "" {
			meta["answeredBy"] = ev.AnsweredBy
		}
		res, err := r.machine.ApplyEvent(ctx, lifecycle.Event{
			CallID: ev.CallSid, Status: status, OccurredAt: ev.Timestamp.Truncate(time.Second),
			From: ev.From, To: ev.To, Metadata: meta,
		})
		if err != nil {
			return voice.Action{}, err
		}
		if res.Accepted && !res.Duplicate && lifecycle.IsTerminal(status) && res.Session != nil && res.Session.Category == "" {
			secs, _ := strconv.Atoi(ev.CallDuration)
			cat := compliance.Categorize(compliance.Signal{
				Ended:          true,
				Duration:       time.Duration(secs) * time.Second,
				AbandonedAfter: r.policy.AbandonedAfter,
			})
			if err := r.machine.SetCategory(ctx, ev.CallSid, string(cat)); err != nil {
				return voice.Action{}, err
			}
		}
		return voice.Empty(), nil
	})
}

// RequestHandoff flags a live call for a human, for example when the caller
// presses 0 during the media stream. The dial happens at the connect callback.
func (r *Receptionist) RequestHandoff(ctx context.Context, callID, reason string) error {
	s, err := r.machine.Session(ctx, callID)
	if err != nil {
		return err
	}
	_, err = r.handoff(ctx, s, reason, compliance.Decision{Category: compliance.Category(s.Category)}, "")
	return err
}

// apply moves the call described by ev to status.
func (r *Receptionist) apply(ctx context.Context, ev carrier.Event, status string, meta map[string]any) (lifecycle.Result, error) {
	return r.machine.ApplyEvent(ctx, lifecycle.Event{
		CallID: ev.CallSid, Status: status, OccurredAt: r.eventTime(ev),
		From: ev.From, To: ev.To, Metadata: meta,
	})
}

// eventTime is the occurrence time of an event we derive ourselves. Carrier
// timestamps have second precision, so ours are truncated to match.
func (r *Receptionist) eventTime(ev carrier.Event) time.Time {
	t := r.now()
	if ev.Timestamp.After(t) {
		t = ev.Timestamp
	}
	return t.Truncate(time.Second)
}

// live returns the session if it can still take actions. A nil session with
// a nil error means the call is over or unknown.
func (r *Receptionist) live(ctx context.Context, callID string) (*models.CallSession, error) {
	s, err := r.machine.Session(ctx, callID)
	if errors.Is(err, lifecycle.ErrSessionNotFound) {
		r.log.WithCall(callID).Info("callback for unknown call", logger.String("anomaly", lifecycle.AnomalyUnknownSession))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lifecycle.IsTerminal(s.Status) {
		return nil, nil
	}
	return s, nil
}

// handoff marks the session and notifies a human once.
func (r *Receptionist) handoff(ctx context.Context, s *models.CallSession, reason string, d compliance.Decision, summary string) (bool, error) {
	changed, err := r.machine.MarkHandoff(ctx, s.ID, reason)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	s.Handoff = true
	s.HandoffReason = &reason
	r.notifyHandoff(notify.Handoff{
		CallID:   s.ID,
		From:     s.From,
		Reason:   reason,
		Category: string(d.Category),
		Summary:  summary,
		At:       r.now(),
	})
	return true, nil
}

// notifyHandoff delivers in the background so a slow chat webhook never
// delays the caller.
func (r *Receptionist) notifyHandoff(h notify.Handoff) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
		defer cancel()
		if err := r.notifier.NotifyHandoff(ctx, h); err != nil {
			r.log.WithCall(h.CallID).Warn("handoff notification failed", logger.Error(err))
		}
	}()
}

// canDial reports whether the handoff number may be dialled for s. It never
// dials the caller back or the number they called.
func (r *Receptionist) canDial(s *models.CallSession) bool {
	n := r.voice.HandoffNumber
	return n != "" && n != s.From && n != s.To
}

func (r *Receptionist) transfer(s *models.CallSession) voice.Action {
	return voice.Transfer(r.voice.HandoffNumber, s.To)
}

// withDigits keeps the caller's input on a retry redirect, which the carrier
// would otherwise drop.
func withDigits(path, digits string) string {
	if digits == "" {
		return path
	}
	return path + "?" + url.Values{"Digits": {digits}}.Encode()
}
