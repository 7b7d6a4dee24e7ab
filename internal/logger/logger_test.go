package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Named("lifecycle").WithCall("CA123").Info("transition", String("to", "ANSWERED"))
	log.Debug("hidden")
	_ = log.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["call_id"] != "CA123" {
		t.Errorf("call_id = %v, want CA123", entry["call_id"])
	}
	if entry["logger"] != "lifecycle" {
		t.Errorf("logger = %v, want lifecycle", entry["logger"])
	}
	if entry["to"] != "ANSWERED" {
		t.Errorf("to = %v, want ANSWERED", entry["to"])
	}
}

func TestSecurity(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Security("signature_invalid", String("path", "/voice/inbound"))
	_ = log.Sync()
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"security_event":true`) {
		t.Errorf("security entry = %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"debug", false},
		{"info", false},
		{"", false},
		{"warn", false},
		{"error", false},
		{"trace", true},
	}
	for _, tt := range tests {
		_, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestNew_BadFormat(t *testing.T) {
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
