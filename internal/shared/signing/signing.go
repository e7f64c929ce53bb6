// Package signing provides HMAC-SHA256 verification for carrier webhooks.
// The carrier signs every webhook over the request URL and raw body with the
// shared auth token; unsigned or mis-signed requests are rejected before any
// call state is touched.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Verifier checks carrier webhook signatures.
type Verifier struct {
	token []byte
}

// NewVerifier creates a verifier with the carrier auth token.
func NewVerifier(token []byte) *Verifier {
	return &Verifier{token: token}
}

// Sign computes HMAC-SHA256 over url|body. Exposed so tests and the
// outbound carrier client can produce valid signatures.
func (v *Verifier) Sign(url string, body []byte) string {
	mac := hmac.New(sha256.New, v.token)
	mac.Write([]byte(url))
	mac.Write([]byte{'|'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature presented in the webhook header.
func (v *Verifier) Verify(url string, body []byte, signature string) error {
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	expected, err := hex.DecodeString(v.Sign(url, body))
	if err != nil {
		return fmt.Errorf("decode expected: %w", err)
	}
	if !hmac.Equal(sigBytes, expected) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
