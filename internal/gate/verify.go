package gate

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignaturePrefix precedes the hex digest in the signature header.
const SignaturePrefix = "sha256="

// VerifySignature reports whether header equals "sha256=" + hex(HMAC-SHA256(secret, body)).
// Any missing input fails verification.
func VerifySignature(body []byte, header, secret string) bool {
	if len(body) == 0 || header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// VerifySharedSecret reports whether header matches the expected shared
// secret. An unset expected value disables the check.
func VerifySharedSecret(header, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}
