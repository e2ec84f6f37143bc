// Package signature verifies HMAC-SHA256 signatures on provider callbacks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// prefix some senders put in front of the hex digest
const prefix = "sha256="

// Verifier checks callback bodies against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier bound to secret. The secret is copied.
func NewVerifier(secret []byte) *Verifier {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Verifier{secret: s}
}

// Verify reports whether signature is the HMAC of rawBody under the verifier's secret.
func (v *Verifier) Verify(rawBody []byte, signature string) bool {
	return Verify(rawBody, signature, v.secret)
}

// Sign returns the hex HMAC of rawBody under the verifier's secret.
func (v *Verifier) Sign(rawBody []byte) string {
	return Sign(rawBody, v.secret)
}

// Verify computes HMAC-SHA256 over the exact raw bytes and compares it with the
// provided hex signature in constant time. Any malformed input yields false.
func Verify(rawBody []byte, signature string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}

	sig := strings.TrimSpace(signature)
	if len(sig) >= len(prefix) && strings.EqualFold(sig[:len(prefix)], prefix) {
		sig = sig[len(prefix):]
	}
	if sig == "" {
		return false
	}

	provided, err := hex.DecodeString(sig)
	if err != nil || len(provided) != sha256.Size {
		return false
	}

	return hmac.Equal(provided, mac(rawBody, secret))
}

// Sign returns the lowercase hex HMAC-SHA256 of rawBody.
func Sign(rawBody []byte, secret []byte) string {
	return hex.EncodeToString(mac(rawBody, secret))
}

func mac(body, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}
