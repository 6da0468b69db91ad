// Package verify implements the inbound webhook signature check.
package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sign computes the lowercase hex HMAC-SHA256 of rawBody keyed by the literal
// ASCII bytes of secretHex (not hex-decoded) — this preserves wire
// compatibility with sources that sign the same way.
func Sign(secretHex string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secretHex))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether providedSignatureHex matches the HMAC-SHA256 of
// rawBody keyed by secretHex, in time independent of the result (beyond the
// fixed comparison length). Any length mismatch or byte mismatch is a
// rejection; it never leaks which caused the failure.
func Verify(secretHex string, rawBody []byte, providedSignatureHex string) bool {
	want := Sign(secretHex, rawBody)

	if len(providedSignatureHex) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(providedSignatureHex), []byte(want)) == 1
}
