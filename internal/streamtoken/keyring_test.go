package streamtoken

import (
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/config"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestKeyring_Rotation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old, err := NewKeyring([]Key{{ID: "v1", Secret: "one"}}, "v1", time.Minute)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	old.SetClock(fixedClock(now))
	tok, err := old.Issue("CA9")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rotated, err := NewKeyring([]Key{{ID: "v1", Secret: "one"}, {ID: "v2", Secret: "two"}}, "v2", time.Minute)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	rotated.SetClock(fixedClock(now.Add(10 * time.Second)))

	res := rotated.Verify(tok)
	if !res.OK || res.KeyID != "v1" {
		t.Fatalf("old token after rotation = %+v, want OK via v1", res)
	}

	fresh, _ := rotated.Issue("CA9")
	if res := rotated.Verify(fresh); !res.OK || res.KeyID != "v2" {
		t.Fatalf("new token = %+v, want OK via v2", res)
	}

	retired, _ := NewKeyring([]Key{{ID: "v2", Secret: "two"}}, "v2", time.Minute)
	retired.SetClock(fixedClock(now.Add(10 * time.Second)))
	if res := retired.Verify(tok); res.OK || res.Reason != ReasonBadSignature {
		t.Fatalf("token under retired key = %+v, want bad_signature", res)
	}
}

func TestKeyring_VerifyFor(t *testing.T) {
	kr, err := NewKeyring([]Key{{ID: "a", Secret: "s"}}, "a", time.Minute)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	tok, _ := kr.Issue("CA1")
	if res := kr.VerifyFor(tok, "CA1"); !res.OK {
		t.Errorf("matching call = %+v, want OK", res)
	}
	if res := kr.VerifyFor(tok, "CA2"); res.OK || res.Reason != ReasonCallMismatch {
		t.Errorf("other call = %+v, want call_mismatch", res)
	}
}

func TestKeyring_IssueTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	kr, _ := NewKeyring([]Key{{ID: "a", Secret: "s"}}, "a", time.Minute)
	kr.SetClock(fixedClock(now))
	tok, _ := kr.IssueTTL("CA1", time.Second)

	kr.SetClock(fixedClock(now.Add(1500 * time.Millisecond)))
	if res := kr.Verify(tok); res.Reason != ReasonExpired {
		t.Errorf("Reason = %q, want expired", res.Reason)
	}
}

func TestNewKeyring_Errors(t *testing.T) {
	tests := []struct {
		name   string
		keys   []Key
		active string
	}{
		{"no keys", nil, ""},
		{"empty secret", []Key{{ID: "a"}}, "a"},
		{"unknown active", []Key{{ID: "a", Secret: "s"}}, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKeyring(tt.keys, tt.active, time.Minute); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	kr, err := FromConfig(config.StreamConfig{
		Keys:      []config.StreamKey{{ID: "k1", Secret: "x"}, {ID: "k2", Secret: "y"}},
		ActiveKey: "k2",
		TTL:       3 * time.Minute,
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if kr.ActiveKeyID() != "k2" {
		t.Errorf("ActiveKeyID = %q, want k2", kr.ActiveKeyID())
	}
	if kr.TTL() != 3*time.Minute {
		t.Errorf("TTL = %v, want 3m", kr.TTL())
	}
}
