package compliance

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func TestEvaluateRecordingConsent(t *testing.T) {
	tests := []struct {
		name    string
		session *models.CallSession
		want    bool
	}{
		{"nil session", nil, false},
		{"unknown", &models.CallSession{}, false},
		{"declined", &models.CallSession{ConsentRecording: boolPtr(false)}, false},
		{"granted", &models.CallSession{ConsentRecording: boolPtr(true)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateRecordingConsent(tt.session); got != tt.want {
				t.Errorf("EvaluateRecordingConsent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateSMSConsent(t *testing.T) {
	tests := []struct {
		optIn   *bool
		purpose string
		want    bool
		reason  string
	}{
		{nil, PurposeTransactional, true, ""},
		{boolPtr(false), PurposeTransactional, true, ""},
		{nil, PurposeMarketing, false, ReasonSMSNoOptIn},
		{boolPtr(false), PurposeMarketing, false, ReasonSMSNoOptIn},
		{boolPtr(true), PurposeMarketing, true, ""},
		{boolPtr(true), "survey", false, ReasonUnknownPurpose},
	}
	for _, tt := range tests {
		got, reason := EvaluateSMSConsent(tt.optIn, tt.purpose)
		if got != tt.want || reason != tt.reason {
			t.Errorf("EvaluateSMSConsent(%v, %q) = %v, %q; want %v, %q", tt.optIn, tt.purpose, got, reason, tt.want, tt.reason)
		}
	}
}

func TestEvaluateQuietHours(t *testing.T) {
	// 2026-03-04 is a Wednesday. Toronto is UTC-5 until March 8.
	tests := []struct {
		name    string
		now     time.Time
		tz      string
		allowed bool
		next    time.Time
		review  bool
		reason  string
	}{
		{
			name: "inside window", now: time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC),
			tz: "America/Toronto", allowed: true,
		},
		{
			name: "before start", now: time.Date(2026, 3, 4, 11, 30, 0, 0, time.UTC), // 06:30 local
			tz: "America/Toronto", next: time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC), reason: ReasonQuietHours,
		},
		{
			name: "at end", now: time.Date(2026, 3, 5, 2, 0, 0, 0, time.UTC), // 21:00 local on the 4th
			tz: "America/Toronto", next: time.Date(2026, 3, 5, 13, 0, 0, 0, time.UTC), reason: ReasonQuietHours,
		},
		{
			name: "unknown timezone", now: time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC),
			tz: "", next: time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC), review: true, reason: ReasonTimezoneUnknown,
		},
		{
			name: "literal unknown", now: time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC),
			tz: "unknown", next: time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC), review: true, reason: ReasonTimezoneUnknown,
		},
		{
			name: "invalid timezone", now: time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC),
			tz: "Mars/Olympus", next: time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC), review: true, reason: ReasonTimezoneInvalid,
		},
		{
			name: "unknown on friday skips weekend", now: time.Date(2026, 3, 6, 15, 0, 0, 0, time.UTC),
			tz: "", next: time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC), review: true, reason: ReasonTimezoneUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateQuietHours(tt.now, tt.tz, DefaultWindow)
			if got.Allowed != tt.allowed {
				t.Fatalf("Allowed = %v, want %v (%+v)", got.Allowed, tt.allowed, got)
			}
			if got.NeedsReview != tt.review || got.Reason != tt.reason {
				t.Errorf("result = %+v, want review=%v reason=%q", got, tt.review, tt.reason)
			}
			if tt.allowed {
				if got.NextAllowedAt != nil {
					t.Errorf("NextAllowedAt = %v, want nil", got.NextAllowedAt)
				}
				return
			}
			if got.NextAllowedAt == nil || !got.NextAllowedAt.Equal(tt.next) {
				t.Errorf("NextAllowedAt = %v, want %v", got.NextAllowedAt, tt.next)
			}
		})
	}
}

func TestEvaluateQuietHours_Deterministic(t *testing.T) {
	now := time.Date(2026, 7, 1, 3, 17, 0, 0, time.UTC)
	for _, tz := range []string{"America/Vancouver", "", "Nope/Zone", "Europe/London"} {
		first := EvaluateQuietHours(now, tz, DefaultWindow)
		for i := 0; i < 50; i++ {
			got := EvaluateQuietHours(now, tz, DefaultWindow)
			if got.Allowed != first.Allowed || got.Reason != first.Reason ||
				(got.NextAllowedAt == nil) != (first.NextAllowedAt == nil) ||
				(got.NextAllowedAt != nil && !got.NextAllowedAt.Equal(*first.NextAllowedAt)) {
				t.Fatalf("tz %q: run %d = %+v, first = %+v", tz, i, got, first)
			}
		}
	}
}

func TestInferTimezone(t *testing.T) {
	tests := map[string]string{
		"+14165550100":  "America/Toronto",
		"+12125550100":  "America/New_York",
		"+16045550100":  "America/Vancouver",
		"+13035550100":  "America/Denver",
		"+19995550100":  "",
		"+442071234567": "",
		"+1":            "",
	}
	for in, want := range tests {
		if got := InferTimezone(in); got != want {
			t.Errorf("InferTimezone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"card with spaces", "card 4111 1111 1111 1111 thanks", "card [CARD] thanks"},
		{"card with dashes", "4111-1111-1111-1111", "[CARD]"},
		{"ssn", "my ssn is 123-45-6789", "my ssn is [SSN]"},
		{"sin", "sin 046 454 286", "sin [SIN]"},
		{"e164", "call +14165550100 now", "call [PHONE] now"},
		{"local phone", "reach me at 416-555-0100", "reach me at [PHONE]"},
		{"email", "mail jane.doe42@example.com", "mail [EMAIL]"},
		{"plain text untouched", "I need a quote for Tuesday", "I need a quote for Tuesday"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.in); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		sig  Signal
		want Category
	}{
		{"spam phrase", Signal{Transcript: "This is about your vehicle warranty"}, CategorySpam},
		{"urgent", Signal{Transcript: "we have a leak in the basement"}, CategoryUrgent},
		{"voicemail", Signal{Voicemail: true, Transcript: "call me back"}, CategoryVoicemail},
		{"abandoned", Signal{Ended: true, Duration: 2 * time.Second}, CategoryAbandoned},
		{"short call with digits", Signal{Ended: true, Duration: 2 * time.Second, Digits: "1"}, CategorySales},
		{"existing customer", Signal{IsExistingCustomer: true, Transcript: "how much is it"}, CategorySupport},
		{"lead signal", Signal{Transcript: "Can I get a quote?"}, CategorySales},
		{"prospect keyword", Signal{Keywords: []string{"Learn More"}}, CategorySales},
		{"menu support", Signal{Digits: "2"}, CategorySupport},
		{"default", Signal{Transcript: "hello"}, CategorySupport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.sig); got != tt.want {
				t.Errorf("Categorize = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScoreSentiment(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"", 0},
		{"this is terrible", -0.5},
		{"terrible and rude service", -2.0 / 3.0},
		{"thanks, that was great", 2.0 / 3.0},
		{"not happy", -0.5},
		{"not bad at all", 0.5},
		{"good but awful", 0},
	}
	for _, tt := range tests {
		if got := ScoreSentiment(tt.text); abs(got-tt.want) > 1e-9 {
			t.Errorf("ScoreSentiment(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestHumanRequested(t *testing.T) {
	if !HumanRequested("", "0") {
		t.Error("digit 0 should request a human")
	}
	if !HumanRequested("Can I speak to a person please", "") {
		t.Error("phrase not detected")
	}
	if HumanRequested("I want a quote", "1") {
		t.Error("false positive")
	}
}

func TestShouldEscalate(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name    string
		session *models.CallSession
		score   float64
		cat     Category
		human   bool
		want    bool
		reason  string
	}{
		{"calm support", &models.CallSession{}, 0, CategorySupport, false, false, ""},
		{"negative", &models.CallSession{}, -0.5, CategorySupport, false, true, EscalateSentiment},
		{"at threshold", &models.CallSession{}, -0.4, CategorySupport, false, false, ""},
		{"urgent", &models.CallSession{}, 0, CategoryUrgent, false, true, "category:urgent"},
		{"human", &models.CallSession{}, 0, CategorySales, true, true, EscalateHumanRequested},
		{"already handed off", &models.CallSession{Handoff: true}, -1, CategoryUrgent, true, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := p.ShouldEscalate(tt.session, tt.score, tt.cat, tt.human)
			if got != tt.want || reason != tt.reason {
				t.Errorf("ShouldEscalate = %v, %q; want %v, %q", got, reason, tt.want, tt.reason)
			}
		})
	}
}

// Unknown consent with recording requested yields a no-record decision with
// an auditable reason.
func TestDecide_RecordingWithoutConsent(t *testing.T) {
	p := DefaultPolicy()
	s := &models.CallSession{ID: "CA1", From: "+14165550100"}
	d := p.Decide(Input{Session: s, Now: time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC), WantRecording: true, Signal: Signal{Digits: "1"}})
	if d.AllowRecording {
		t.Fatal("recording allowed with unknown consent")
	}
	if !contains(d.Reasons, ReasonRecordingConsentUnknown) {
		t.Errorf("Reasons = %v, want %q", d.Reasons, ReasonRecordingConsentUnknown)
	}
	if d.Timezone != "America/Toronto" {
		t.Errorf("Timezone = %q, want inferred Toronto", d.Timezone)
	}
	if d.Category != CategorySales {
		t.Errorf("Category = %q, want sales", d.Category)
	}
	meta := d.Metadata()
	if _, ok := meta["compliance"].(Decision); !ok {
		t.Errorf("Metadata = %v", meta)
	}

	s.ConsentRecording = boolPtr(true)
	if d := p.Decide(Input{Session: s, Now: time.Now(), WantRecording: true}); !d.AllowRecording {
		t.Error("recording refused with consent")
	}
}

func TestDecide_Outbound(t *testing.T) {
	p := DefaultPolicy()
	night := time.Date(2026, 3, 5, 4, 0, 0, 0, time.UTC) // 23:00 Toronto
	day := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      Input
		allowed bool
		reason  string
	}{
		{"daytime transactional", Input{Session: &models.CallSession{From: "+14165550100"}, Now: day, OutboundPurpose: PurposeTransactional}, true, ""},
		{"night", Input{Session: &models.CallSession{From: "+14165550100"}, Now: night, OutboundPurpose: PurposeTransactional}, false, ReasonQuietHours},
		{"unknown zone", Input{Session: &models.CallSession{From: "+19995550100"}, Now: day, OutboundPurpose: PurposeTransactional}, false, ReasonTimezoneUnknown},
		{"suppressed", Input{Session: &models.CallSession{From: "+14165550100"}, Now: day, Suppressed: true}, false, ReasonSuppressed},
		{"marketing without opt in", Input{Session: &models.CallSession{From: "+14165550100"}, Now: day, OutboundPurpose: PurposeMarketing}, false, ReasonSMSNoOptIn},
		{"explicit timezone", Input{Session: &models.CallSession{From: "+19995550100"}, Timezone: "America/Chicago", Now: day}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.in)
			if d.AllowOutbound != tt.allowed {
				t.Fatalf("AllowOutbound = %v, want %v (%+v)", d.AllowOutbound, tt.allowed, d)
			}
			if tt.reason != "" && !contains(d.Reasons, tt.reason) {
				t.Errorf("Reasons = %v, want %q", d.Reasons, tt.reason)
			}
		})
	}
}

func TestDecide_RedactsAndEscalates(t *testing.T) {
	p := DefaultPolicy()
	d := p.Decide(Input{
		Session: &models.CallSession{},
		Now:     time.Now(),
		Text:    "This is terrible, my card 4111 1111 1111 1111 was charged twice",
	})
	if strings.Contains(d.RedactedText, "4111") {
		t.Errorf("RedactedText = %q", d.RedactedText)
	}
	if !d.Escalate || d.EscalationReason != EscalateSentiment {
		t.Errorf("Escalate = %v %q, want negative sentiment", d.Escalate, d.EscalationReason)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	th := -0.7
	rec := false
	p, err := PolicyFromConfig(config.ComplianceConfig{
		QuietHours:         config.QuietHoursConfig{StartHour: 9, EndHour: 20, BusinessTimezone: "America/Toronto", FallbackHour: 11},
		SentimentThreshold: &th,
		EscalateCategories: []string{"urgent", "Spam", "bogus"},
		RecordStreams:      &rec,
	})
	if err != nil {
		t.Fatalf("PolicyFromConfig: %v", err)
	}
	if p.SentimentThreshold != -0.7 || p.RecordStreams {
		t.Errorf("policy = %+v", p)
	}
	if !p.EscalateCategories[CategorySpam] || len(p.EscalateCategories) != 2 {
		t.Errorf("EscalateCategories = %v", p.EscalateCategories)
	}

	_, err = PolicyFromConfig(config.ComplianceConfig{QuietHours: config.QuietHoursConfig{StartHour: 9, EndHour: 20, BusinessTimezone: "Nowhere/Land"}})
	if err == nil {
		t.Error("bad business timezone accepted")
	}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
