package streamtoken

import (
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/config"
)

// Key is one versioned signing secret.
type Key struct {
	ID     string
	Secret string
}

// Keyring signs with the active key and verifies against every key, so a
// secret can be rotated without rejecting tokens that are still in flight.
type Keyring struct {
	keys   []Key
	active int
	ttl    time.Duration
	now    func() time.Time
}

// NewKeyring builds a keyring. activeID must name one of keys.
func NewKeyring(keys []Key, activeID string, ttl time.Duration) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("streamtoken: keyring: no keys")
	}
	kr := &Keyring{keys: keys, active: -1, ttl: ttl, now: time.Now}
	for i, k := range keys {
		if k.Secret == "" {
			return nil, fmt.Errorf("streamtoken: keyring: key %q: %w", k.ID, ErrEmptySecret)
		}
		if k.ID == activeID {
			kr.active = i
		}
	}
	if kr.active < 0 {
		return nil, fmt.Errorf("streamtoken: keyring: active key %q not found", activeID)
	}
	return kr, nil
}

// FromConfig builds a keyring from the stream section.
func FromConfig(cfg config.StreamConfig) (*Keyring, error) {
	keys := make([]Key, 0, len(cfg.Keys))
	for _, k := range cfg.Keys {
		keys = append(keys, Key{ID: k.ID, Secret: k.Secret})
	}
	return NewKeyring(keys, cfg.ActiveKey, cfg.TTL)
}

// SetClock overrides the time source.
func (k *Keyring) SetClock(now func() time.Time) { k.now = now }

// ActiveKeyID returns the id of the signing key.
func (k *Keyring) ActiveKeyID() string { return k.keys[k.active].ID }

// TTL returns the default token lifetime.
func (k *Keyring) TTL() time.Duration { return k.ttl }

// Issue creates a token for callID with the default TTL.
func (k *Keyring) Issue(callID string) (string, error) {
	return k.IssueTTL(callID, k.ttl)
}

// IssueTTL creates a token for callID with an explicit lifetime.
func (k *Keyring) IssueTTL(callID string, ttl time.Duration) (string, error) {
	return createAt(k.keys[k.active].Secret, callID, k.now().Add(ttl))
}

// Verify checks a token against every key in the ring.
func (k *Keyring) Verify(token string) Result {
	secrets := make([]string, len(k.keys))
	for i, key := range k.keys {
		secrets[i] = key.Secret
	}
	v := verifyAt(secrets, token, k.now())
	if v.result.OK {
		v.result.KeyID = k.keys[v.index].ID
	}
	return v.result
}

// VerifyFor checks a token and additionally requires it to name callID.
func (k *Keyring) VerifyFor(token, callID string) Result {
	res := k.Verify(token)
	if res.OK && res.CallID != callID {
		return Result{Reason: ReasonCallMismatch}
	}
	return res
}
