package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func expected(body, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func TestVerify(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"transcript_id":"abc123","status":"completed"}`)
	good := expected(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    []byte
		want      bool
	}{
		{name: "valid signature", body: body, signature: good, secret: secret, want: true},
		{name: "uppercase hex", body: body, signature: strings.ToUpper(good), secret: secret, want: true},
		{name: "sha256 prefix", body: body, signature: "sha256=" + good, secret: secret, want: true},
		{name: "surrounding whitespace", body: body, signature: " " + good + " ", secret: secret, want: true},
		{name: "tampered body", body: []byte(`{"transcript_id":"abc124","status":"completed"}`), signature: good, secret: secret, want: false},
		{name: "reserialized body", body: []byte(`{"status":"completed","transcript_id":"abc123"}`), signature: good, secret: secret, want: false},
		{name: "wrong secret", body: body, signature: good, secret: []byte("other"), want: false},
		{name: "missing signature", body: body, signature: "", secret: secret, want: false},
		{name: "prefix only", body: body, signature: "sha256=", secret: secret, want: false},
		{name: "not hex", body: body, signature: "zz" + good[2:], secret: secret, want: false},
		{name: "truncated", body: body, signature: good[:32], secret: secret, want: false},
		{name: "empty secret", body: body, signature: expected(body, nil), secret: nil, want: false},
		{name: "empty body signed", body: []byte{}, signature: expected([]byte{}, secret), secret: secret, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.body, tt.signature, tt.secret))
		})
	}
}

func TestVerify_EveryFlippedByteRejected(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"transcript_id":"abc123","status":"completed","text":"hello"}`)
	sig := Sign(body, secret)

	for i := range body {
		tampered := append([]byte(nil), body...)
		tampered[i] ^= 0x01
		assert.False(t, Verify(tampered, sig, secret), "byte %d", i)
	}
}

func TestVerifier(t *testing.T) {
	secret := []byte("per-deployment")
	v := NewVerifier(secret)

	// Mutating the caller's slice must not change the verifier's secret.
	secret[0] = 'X'

	body := []byte("payload")
	sig := v.Sign(body)
	assert.Equal(t, expected(body, []byte("per-deployment")), sig)
	assert.True(t, v.Verify(body, sig))

	other := NewVerifier([]byte("another-deployment"))
	assert.False(t, other.Verify(body, sig))
}
