package carrier

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Call statuses as tracked by the lifecycle state machine.
const (
	StatusRinging   = "RINGING"
	StatusAnswered  = "ANSWERED"
	StatusIVRMenu   = "IVR_MENU"
	StatusVoicemail = "VOICEMAIL"
	StatusStreaming = "STREAMING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusNoAnswer  = "NO_ANSWER"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidE164 reports whether s is an E.164 number.
func ValidE164(s string) bool { return e164.MatchString(s) }

// Event is the subset of carrier webhook fields Switchboard consumes.
type Event struct {
	CallSid           string
	MessageSid        string
	AccountSid        string
	From              string
	To                string
	CallStatus        string
	Digits            string
	SpeechResult      string
	RecordingURL      string
	RecordingSid      string
	RecordingDuration string
	TranscriptionText string
	Body              string
	AnsweredBy        string
	CallDuration      string
	Timestamp         time.Time
}

// ParseEvent extracts an Event from a webhook form. Timestamp falls back to
// now when the carrier omits it.
func ParseEvent(form url.Values, now time.Time) Event {
	ev := Event{
		CallSid:           form.Get("CallSid"),
		MessageSid:        form.Get("MessageSid"),
		AccountSid:        form.Get("AccountSid"),
		From:              strings.TrimSpace(form.Get("From")),
		To:                strings.TrimSpace(form.Get("To")),
		CallStatus:        form.Get("CallStatus"),
		Digits:            form.Get("Digits"),
		SpeechResult:      form.Get("SpeechResult"),
		RecordingURL:      form.Get("RecordingUrl"),
		RecordingSid:      form.Get("RecordingSid"),
		RecordingDuration: form.Get("RecordingDuration"),
		TranscriptionText: form.Get("TranscriptionText"),
		Body:              form.Get("Body"),
		AnsweredBy:        form.Get("AnsweredBy"),
		CallDuration:      form.Get("CallDuration"),
		Timestamp:         now.UTC(),
	}
	if ts := form.Get("Timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC1123Z, ts); err == nil {
			ev.Timestamp = t.UTC()
		}
	}
	return ev
}

// ValidateNumbers checks From and To are E.164. Either may be empty for
// events that do not carry it.
func (e Event) ValidateNumbers() error {
	if e.From != "" && !ValidE164(e.From) {
		return fmt.Errorf("carrier: from %q is not E.164", e.From)
	}
	if e.To != "" && !ValidE164(e.To) {
		return fmt.Errorf("carrier: to %q is not E.164", e.To)
	}
	return nil
}

// MapCallStatus translates the carrier's CallStatus into a lifecycle status.
func MapCallStatus(s string) (string, bool) {
	switch strings.ToLower(s) {
	case "queued", "initiated", "ringing":
		return StatusRinging, true
	case "in-progress":
		return StatusAnswered, true
	case "completed":
		return StatusCompleted, true
	case "busy", "no-answer", "canceled":
		return StatusNoAnswer, true
	case "failed":
		return StatusFailed, true
	default:
		return "", false
	}
}
