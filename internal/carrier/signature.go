// Package carrier authenticates and parses webhook deliveries from the
// telephony carrier.
package carrier

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the carrier's request signature.
const SignatureHeader = "X-Twilio-Signature"

var (
	ErrMissingSignature = errors.New("carrier: missing signature")
	ErrInvalidSignature = errors.New("carrier: invalid signature")
)

// Validator checks webhook signatures computed over the full request URL and
// the sorted form parameters. Several account tokens may be configured so the
// primary can be rotated; any match is accepted.
type Validator struct {
	baseURL    string
	validators []client.RequestValidator
}

// NewValidator builds a validator for requests addressed to baseURL.
func NewValidator(baseURL string, authTokens []string) *Validator {
	v := &Validator{baseURL: strings.TrimRight(baseURL, "/")}
	for _, tok := range authTokens {
		if tok != "" {
			v.validators = append(v.validators, client.NewRequestValidator(tok))
		}
	}
	return v
}

// URL rebuilds the URL the carrier signed: the public base plus the request
// path and query. The listener address is not what the carrier saw when it
// sits behind a proxy.
func (v *Validator) URL(r *http.Request) string {
	return v.baseURL + r.URL.RequestURI()
}

// Validate checks r's signature. form must be the parsed POST body.
func (v *Validator) Validate(r *http.Request, form url.Values) error {
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		return ErrMissingSignature
	}
	return v.ValidateParams(v.URL(r), Flatten(form), sig)
}

// ValidateParams checks sig against an explicit URL and parameter set.
func (v *Validator) ValidateParams(fullURL string, params map[string]string, sig string) error {
	if sig == "" {
		return ErrMissingSignature
	}
	for i := range v.validators {
		if v.validators[i].Validate(fullURL, params, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Flatten keeps the first value of each form field, matching how the carrier
// signs single-valued webhook parameters.
func Flatten(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k, vs := range form {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// Sign computes the signature the carrier would send for fullURL and params.
// Used by `sb` tooling to replay webhooks and by tests.
func Sign(authToken, fullURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
