package carrier

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func signedRequest(t *testing.T, token, base, path string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set(SignatureHeader, Sign(token, base+path, Flatten(form)))
	}
	return req
}

func TestValidator_Validate(t *testing.T) {
	base := "https://rx.example.com"
	form := url.Values{"CallSid": {"CA1"}, "From": {"+14165550100"}, "To": {"+14165550199"}}

	tests := []struct {
		name    string
		signer  string
		tokens  []string
		path    string
		tamper  func(url.Values)
		wantErr error
	}{
		{name: "primary token", signer: "primary", tokens: []string{"primary"}, path: "/voice/inbound"},
		{name: "secondary token", signer: "old", tokens: []string{"new", "old"}, path: "/voice/inbound"},
		{name: "query string signed", signer: "primary", tokens: []string{"primary"}, path: "/voice/menu?attempt=2"},
		{name: "missing signature", signer: "", tokens: []string{"primary"}, path: "/voice/inbound", wantErr: ErrMissingSignature},
		{name: "wrong token", signer: "other", tokens: []string{"primary"}, path: "/voice/inbound", wantErr: ErrInvalidSignature},
		{name: "no tokens configured", signer: "primary", tokens: nil, path: "/voice/inbound", wantErr: ErrInvalidSignature},
		{
			name: "tampered param", signer: "primary", tokens: []string{"primary"}, path: "/voice/inbound",
			tamper:  func(v url.Values) { v.Set("From", "+12125550100") },
			wantErr: ErrInvalidSignature,
		},
		{
			name: "added param", signer: "primary", tokens: []string{"primary"}, path: "/voice/inbound",
			tamper:  func(v url.Values) { v.Set("Digits", "1") },
			wantErr: ErrInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedRequest(t, tt.signer, base, tt.path, form)
			received := url.Values{}
			for k, vs := range form {
				received[k] = append([]string(nil), vs...)
			}
			if tt.tamper != nil {
				tt.tamper(received)
			}
			v := NewValidator(base+"/", tt.tokens)
			if err := v.Validate(req, received); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_URL(t *testing.T) {
	v := NewValidator("https://rx.example.com/", nil)
	req := httptest.NewRequest("POST", "http://10.0.0.3:8080/voice/menu?x=1", nil)
	if got := v.URL(req); got != "https://rx.example.com/voice/menu?x=1" {
		t.Errorf("URL() = %q", got)
	}
}

func TestSign_OrderIndependent(t *testing.T) {
	a := Sign("tok", "https://x/y", map[string]string{"B": "2", "A": "1"})
	b := Sign("tok", "https://x/y", map[string]string{"A": "1", "B": "2"})
	if a != b {
		t.Errorf("signatures differ: %q vs %q", a, b)
	}
	if c := Sign("tok", "https://x/y", map[string]string{"A": "12"}); c == a {
		t.Error("concatenation collision not distinguished by key set")
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten(url.Values{"A": {"1", "2"}, "B": {}})
	if got["A"] != "1" {
		t.Errorf("A = %q, want first value", got["A"])
	}
	if _, ok := got["B"]; ok {
		t.Error("empty field should be dropped")
	}
}
