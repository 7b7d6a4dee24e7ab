package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize returns a stable JSON encoding of args: object keys sorted at
// every depth and numbers kept verbatim.
func Canonicalize(args any) ([]byte, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("idempotency: canonicalize: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("idempotency: canonicalize: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("idempotency: canonicalize: %w", err)
	}
	return out, nil
}

// Key derives the idempotency key for an operation: the operation type, an
// underscore, and the hex SHA-256 of {"args":...,"operationType":...}.
func Key(operationType string, args any) (string, error) {
	canon, err := Canonicalize(args)
	if err != nil {
		return "", err
	}
	envelope, err := json.Marshal(struct {
		Args          json.RawMessage `json:"args"`
		OperationType string          `json:"operationType"`
	}{canon, operationType})
	if err != nil {
		return "", fmt.Errorf("idempotency: key: %w", err)
	}
	sum := sha256.Sum256(envelope)
	return operationType + "_" + hex.EncodeToString(sum[:]), nil
}

// RequestHash fingerprints args so a reused explicit key with different
// arguments can be detected.
func RequestHash(args any) (string, error) {
	canon, err := Canonicalize(args)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
