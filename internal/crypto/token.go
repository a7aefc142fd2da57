// Package crypto provides the HMAC signing and constant-time verification
// primitives the session token scheme is built on: nothing here handles
// passwords or at-rest encryption, only what opaque and JWT-like bearer
// tokens need.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds the derived signing key to this specific use, so the same
// configured secret used elsewhere (unlikely, but cheap to guard against)
// would never derive the same key bytes.
const hkdfInfo = "fortistate-inspector-session-token-v1"

// RandomToken returns n cryptographically random bytes, base64url-encoded
// without padding — the wire form of an opaque session token and of a
// generated HMAC secret.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto.RandomToken: read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HMACSigner signs and verifies byte strings with HMAC-SHA256 under one
// secret, constructed once from a validated key.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner builds a signer over secret. An empty secret is rejected —
// callers must source one from config/env or generate an ephemeral one
//. The configured secret is never used as the
// HMAC key directly: it's first expanded through HKDF-SHA256 into a
// fixed-length key bound to this package's use, so a short or
// low-entropy-but-still-valid secret doesn't hand the HMAC a key with
// awkward length or structure.
func NewHMACSigner(secret string) (*HMACSigner, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("crypto.NewHMACSigner: secret must not be empty")
	}

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("crypto.NewHMACSigner: derive key: %w", err)
	}
	return &HMACSigner{secret: key}, nil
}

// Sign returns the hex-free base64url HMAC-SHA256 of data.
func (s *HMACSigner) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the valid HMAC-SHA256 of data, using a
// constant-time comparison to avoid leaking timing information about how
// much of the signature matched (mirrors authService.ValidateAPIKey's use
// of subtle.ConstantTimeCompare).
func (s *HMACSigner) Verify(data []byte, sig string) bool {
	want, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	got := mac.Sum(nil)
	return subtle.ConstantTimeCompare(want, got) == 1
}

// HashOpaqueToken returns HMAC-SHA256(secret, token) base64url-encoded,
// the only value the session store ever persists for an opaque token.
func (s *HMACSigner) HashOpaqueToken(token string) string {
	return s.Sign([]byte(token))
}
