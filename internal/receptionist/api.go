package receptionist

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/zulandar/switchboard/internal/carrier"
	"github.com/zulandar/switchboard/internal/compliance"
	"github.com/zulandar/switchboard/internal/idempotency"
	"github.com/zulandar/switchboard/internal/lifecycle"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/notify"
)

// ValidationError is a caller mistake in an API request.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return "receptionist: " + e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ContactRequest is a web contact form submission.
type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// ContactResult acknowledges a stored submission.
type ContactResult struct {
	ID        uint   `json:"id"`
	Category  string `json:"category"`
	Escalated bool   `json:"escalated"`
}

func (c ContactRequest) validate() error {
	if strings.TrimSpace(c.Message) == "" {
		return invalid("message is required")
	}
	if c.Email == "" && c.Phone == "" {
		return invalid("email or phone is required")
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return invalid("email %q is invalid", c.Email)
		}
	}
	if c.Phone != "" && !carrier.ValidE164(c.Phone) {
		return invalid("phone %q is not E.164", c.Phone)
	}
	return nil
}

// Contact stores a contact submission once. key is the client's
// Idempotency-Key, if any; without one, identical submissions deduplicate.
// The second result reports a replay.
func (r *Receptionist) Contact(ctx context.Context, req ContactRequest, key string) (ContactResult, bool, error) {
	if err := req.validate(); err != nil {
		return ContactResult{}, false, err
	}
	fn := func(ctx context.Context) (ContactResult, error) {
		from := req.Email
		if from == "" {
			from = req.Phone
		}
		s := &models.CallSession{From: req.Phone}
		d := r.policy.Decide(compliance.Input{Session: s, Now: r.now(), Text: req.Message})
		body := d.RedactedText
		if req.Name != "" {
			body = compliance.Redact(req.Name) + ": " + body
		}
		msg := models.Message{
			Channel:   "web",
			From:      from,
			Body:      body,
			Category:  string(d.Category),
			Sentiment: d.SentimentScore,
			Escalated: d.Escalate,
		}
		if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
			return ContactResult{}, fmt.Errorf("receptionist: store contact: %w", err)
		}
		if d.Escalate {
			r.notifyHandoff(notify.Handoff{
				From: from, Reason: d.EscalationReason,
				Category: msg.Category, Summary: body, At: r.now(),
			})
		}
		return ContactResult{ID: msg.ID, Category: msg.Category, Escalated: msg.Escalated}, nil
	}
	if key != "" {
		return idempotency.DoWithKey(ctx, r.idem, OpContact+"_"+key, OpContact, req, fn)
	}
	return idempotency.Do(ctx, r.idem, OpContact, req, fn)
}

// EligibilityRequest asks whether an outbound contact may happen now.
type EligibilityRequest struct {
	To       string `json:"to"`
	Purpose  string `json:"purpose"`
	Timezone string `json:"timezone,omitempty"`
}

// Eligibility returns the compliance verdict for contacting req.To now.
func (r *Receptionist) Eligibility(ctx context.Context, req EligibilityRequest) (compliance.Decision, error) {
	if !carrier.ValidE164(req.To) {
		return compliance.Decision{}, invalid("to %q is not E.164", req.To)
	}
	if req.Purpose == "" {
		req.Purpose = compliance.PurposeTransactional
	}
	suppressed, err := r.Suppressed(ctx, req.To)
	if err != nil {
		return compliance.Decision{}, err
	}
	s, err := r.machine.LatestForCaller(ctx, req.To)
	if errors.Is(err, lifecycle.ErrSessionNotFound) {
		s, err = &models.CallSession{From: req.To}, nil
	}
	if err != nil {
		return compliance.Decision{}, err
	}
	return r.policy.Decide(compliance.Input{
		Session:         s,
		Now:             r.now(),
		Timezone:        req.Timezone,
		OutboundPurpose: req.Purpose,
		Suppressed:      suppressed,
	}), nil
}

// CallDetail is a session with its full event history.
type CallDetail struct {
	Session *models.CallSession     `json:"session"`
	Events  []models.LifecycleEvent `json:"events"`
}

// Call returns the session and events for id.
func (r *Receptionist) Call(ctx context.Context, id string) (CallDetail, error) {
	s, err := r.machine.Session(ctx, id)
	if err != nil {
		return CallDetail{}, err
	}
	events, err := r.machine.Events(ctx, id)
	if err != nil {
		return CallDetail{}, err
	}
	return CallDetail{Session: s, Events: events}, nil
}
