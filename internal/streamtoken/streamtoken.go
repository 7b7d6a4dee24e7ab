// Package streamtoken issues and verifies short-lived HMAC credentials that
// bind a media stream connection to exactly one call.
//
// A token is the URL-escaped string "callID|expiresAtMs|signature" where the
// signature is base64url(HMAC-SHA256(secret, "callID|expiresAtMs")). Tokens
// are stateless: they cannot be revoked before they expire.
package streamtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Reason is a typed verification failure.
type Reason string

const (
	ReasonInvalidFormat Reason = "invalid_format"
	ReasonMissingCallID Reason = "missing_call_id"
	ReasonInvalidExpiry Reason = "invalid_expiry"
	ReasonExpired       Reason = "expired"
	ReasonBadSignature  Reason = "bad_signature"
	ReasonCallMismatch  Reason = "call_mismatch"
)

// Result is the outcome of Verify. CallID is set only when OK.
type Result struct {
	OK     bool
	CallID string
	Reason Reason
	KeyID  string
}

// Error carries a Reason as an error value.
type Error struct{ Reason Reason }

func (e *Error) Error() string { return "streamtoken: " + string(e.Reason) }

// ErrEmptySecret is returned when signing with an empty secret.
var ErrEmptySecret = errors.New("streamtoken: empty secret")

// Create issues a token for callID valid for ttl from now.
func Create(secret, callID string, ttl time.Duration) (string, error) {
	return createAt(secret, callID, time.Now().Add(ttl))
}

func createAt(secret, callID string, expiresAt time.Time) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if callID == "" {
		return "", fmt.Errorf("streamtoken: create: %w", &Error{Reason: ReasonMissingCallID})
	}
	if strings.Contains(callID, "|") {
		return "", fmt.Errorf("streamtoken: create: call id contains separator")
	}
	payload := callID + "|" + strconv.FormatInt(expiresAt.UnixMilli(), 10)
	return url.QueryEscape(payload + "|" + sign(secret, payload)), nil
}

// Verify checks token against secret at the current time.
func Verify(secret, token string) Result {
	return verifyAt([]string{secret}, token, time.Now()).result
}

type verified struct {
	result Result
	index  int
}

func verifyAt(secrets []string, token string, now time.Time) verified {
	fail := func(r Reason) verified { return verified{result: Result{Reason: r}, index: -1} }

	raw, err := url.QueryUnescape(token)
	if err != nil {
		return fail(ReasonInvalidFormat)
	}
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return fail(ReasonInvalidFormat)
	}
	callID, expiry, sig := parts[0], parts[1], parts[2]
	if callID == "" {
		return fail(ReasonMissingCallID)
	}
	expiresAtMs, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil || expiresAtMs <= 0 {
		return fail(ReasonInvalidExpiry)
	}
	if now.UnixMilli() > expiresAtMs {
		return fail(ReasonExpired)
	}

	payload := callID + "|" + expiry
	for i, secret := range secrets {
		if secret != "" && equal(sign(secret, payload), sig) {
			return verified{result: Result{OK: true, CallID: callID}, index: i}
		}
	}
	return fail(ReasonBadSignature)
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// equal compares in constant time once lengths match.
func equal(expected, presented string) bool {
	if len(expected) != len(presented) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
