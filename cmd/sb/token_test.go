package main

import (
	"strings"
	"testing"
)

func TestTokenIssueAndVerify(t *testing.T) {
	path := writeTestConfig(t)

	out, err := run(t, "token", "issue", "CA123", "--config", path)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tok := strings.TrimSpace(out)
	if tok == "" {
		t.Fatal("empty token")
	}

	out, err = run(t, "token", "verify", tok, "--config", path, "--call", "CA123")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "valid: call CA123 (key k1)") {
		t.Errorf("output = %s", out)
	}

	if _, err := run(t, "token", "verify", tok, "--config", path, "--call", "CA999"); err == nil ||
		!strings.Contains(err.Error(), "call_mismatch") {
		t.Errorf("mismatch err = %v", err)
	}
	if _, err := run(t, "token", "verify", "garbage", "--config", path); err == nil {
		t.Error("expected garbage token to be rejected")
	}
}

func TestTokenIssue_RequiresCall(t *testing.T) {
	if _, err := run(t, "token", "issue"); err == nil {
		t.Error("expected arg error")
	}
}
