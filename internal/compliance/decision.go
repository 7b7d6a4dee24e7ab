package compliance

import (
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
)

// Escalation reasons.
const (
	EscalateHumanRequested = "human_requested"
	EscalateSentiment      = "negative_sentiment"
	EscalateCategory       = "category"
)

// Policy is the configured compliance policy.
type Policy struct {
	Window             Window
	SentimentThreshold float64
	EscalateCategories map[Category]bool
	RecordStreams      bool
	AbandonedAfter     time.Duration
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		Window:             DefaultWindow,
		SentimentThreshold: -0.4,
		EscalateCategories: map[Category]bool{CategoryUrgent: true},
		RecordStreams:      true,
		AbandonedAfter:     DefaultAbandonedAfter,
	}
}

// PolicyFromConfig builds a Policy from the compliance section.
func PolicyFromConfig(cfg config.ComplianceConfig) (Policy, error) {
	p := Policy{
		Window: Window{
			StartHour:        cfg.QuietHours.StartHour,
			EndHour:          cfg.QuietHours.EndHour,
			BusinessTimezone: cfg.QuietHours.BusinessTimezone,
			FallbackHour:     cfg.QuietHours.FallbackHour,
		},
		SentimentThreshold: -0.4,
		EscalateCategories: map[Category]bool{},
		RecordStreams:      true,
		AbandonedAfter:     cfg.AbandonedAfter,
	}
	if cfg.SentimentThreshold != nil {
		p.SentimentThreshold = *cfg.SentimentThreshold
	}
	if cfg.RecordStreams != nil {
		p.RecordStreams = *cfg.RecordStreams
	}
	for _, name := range cfg.EscalateCategories {
		if c, ok := ParseCategory(name); ok {
			p.EscalateCategories[c] = true
		}
	}
	if err := ValidateWindow(p.Window); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// ShouldEscalate decides whether the interaction goes to a human. A session
// already handed off never escalates again.
func (p Policy) ShouldEscalate(s *models.CallSession, score float64, cat Category, humanRequested bool) (bool, string) {
	if s != nil && s.Handoff {
		return false, ""
	}
	switch {
	case humanRequested:
		return true, EscalateHumanRequested
	case p.EscalateCategories[cat]:
		return true, EscalateCategory + ":" + string(cat)
	case score < p.SentimentThreshold:
		return true, EscalateSentiment
	}
	return false, ""
}

// Input is everything Decide looks at for one event.
type Input struct {
	Session *models.CallSession
	Now     time.Time
	// Timezone overrides the session's zone; when both are empty the zone
	// is inferred from the caller's area code.
	Timezone        string
	Text            string
	Signal          Signal
	WantRecording   bool
	OutboundPurpose string
	Suppressed      bool
}

// Decision is the compliance verdict for one event. It is not stored on its
// own; Metadata is merged into the lifecycle event it governed.
type Decision struct {
	AllowRecording   bool       `json:"allowRecording"`
	AllowOutbound    bool       `json:"allowOutbound"`
	NextAllowedAt    *time.Time `json:"nextAllowedAt,omitempty"`
	Category         Category   `json:"category"`
	RedactedText     string     `json:"redactedText,omitempty"`
	Escalate         bool       `json:"escalate"`
	EscalationReason string     `json:"escalationReason,omitempty"`
	SentimentScore   float64    `json:"sentimentScore"`
	Timezone         string     `json:"timezone,omitempty"`
	NeedsReview      bool       `json:"needsReview,omitempty"`
	Reasons          []string   `json:"reasons,omitempty"`
}

// Metadata returns the decision in the shape stored on lifecycle events.
func (d Decision) Metadata() map[string]any {
	return map[string]any{"compliance": d}
}

// Decide composes every policy function into one Decision.
func (p Policy) Decide(in Input) Decision {
	var d Decision
	s := in.Session

	if in.WantRecording {
		switch {
		case !p.RecordStreams:
			d.Reasons = append(d.Reasons, ReasonRecordingDisabled)
		case !EvaluateRecordingConsent(s):
			d.Reasons = append(d.Reasons, recordingReason(s))
		default:
			d.AllowRecording = true
		}
	}

	d.Timezone = in.Timezone
	if d.Timezone == "" && s != nil {
		d.Timezone = s.Timezone
		if d.Timezone == "" {
			d.Timezone = InferTimezone(s.From)
		}
	}
	qh := EvaluateQuietHours(in.Now, d.Timezone, p.Window)
	d.AllowOutbound = qh.Allowed
	if !qh.Allowed {
		d.NextAllowedAt = qh.NextAllowedAt
		d.NeedsReview = qh.NeedsReview
		d.Reasons = append(d.Reasons, qh.Reason)
	}
	if in.Suppressed {
		d.AllowOutbound = false
		d.Reasons = append(d.Reasons, ReasonSuppressed)
	}
	if in.OutboundPurpose != "" {
		var optIn *bool
		if s != nil {
			optIn = s.ConsentSMSOptIn
		}
		if ok, reason := EvaluateSMSConsent(optIn, in.OutboundPurpose); !ok {
			d.AllowOutbound = false
			d.Reasons = append(d.Reasons, reason)
		}
	}

	sig := in.Signal
	if sig.Transcript == "" {
		sig.Transcript = in.Text
	}
	if sig.AbandonedAfter == 0 {
		sig.AbandonedAfter = p.AbandonedAfter
	}
	d.Category = Categorize(sig)
	d.RedactedText = Redact(in.Text)
	d.SentimentScore = ScoreSentiment(in.Text)
	d.Escalate, d.EscalationReason = p.ShouldEscalate(s, d.SentimentScore, d.Category, HumanRequested(in.Text, sig.Digits))
	return d
}
