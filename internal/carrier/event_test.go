package carrier

import (
	"net/url"
	"testing"
	"time"
)

func TestParseEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	form := url.Values{
		"CallSid":    {"CA1"},
		"From":       {" +14165550100 "},
		"To":         {"+14165550199"},
		"CallStatus": {"in-progress"},
		"Digits":     {"1"},
		"Timestamp":  {"Sun, 01 Mar 2026 11:59:58 +0000"},
	}
	ev := ParseEvent(form, now)
	if ev.CallSid != "CA1" || ev.Digits != "1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.From != "+14165550100" {
		t.Errorf("From = %q, want trimmed", ev.From)
	}
	want := time.Date(2026, 3, 1, 11, 59, 58, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, want)
	}

	ev = ParseEvent(url.Values{"Timestamp": {"yesterday"}}, now)
	if !ev.Timestamp.Equal(now) {
		t.Errorf("bad Timestamp should fall back to now, got %v", ev.Timestamp)
	}
}

func TestValidateNumbers(t *testing.T) {
	tests := []struct {
		from, to string
		wantErr  bool
	}{
		{"+14165550100", "+14165550199", false},
		{"", "+14165550199", false},
		{"4165550100", "+14165550199", true},
		{"+14165550100", "+0123", true},
		{"+1416555010012345", "", true},
	}
	for _, tt := range tests {
		err := Event{From: tt.from, To: tt.to}.ValidateNumbers()
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateNumbers(%q, %q) = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}

func TestMapCallStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"queued", StatusRinging, true},
		{"initiated", StatusRinging, true},
		{"ringing", StatusRinging, true},
		{"in-progress", StatusAnswered, true},
		{"completed", StatusCompleted, true},
		{"busy", StatusNoAnswer, true},
		{"no-answer", StatusNoAnswer, true},
		{"canceled", StatusNoAnswer, true},
		{"failed", StatusFailed, true},
		{"Completed", StatusCompleted, true},
		{"paused", "", false},
	}
	for _, tt := range tests {
		got, ok := MapCallStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("MapCallStatus(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
