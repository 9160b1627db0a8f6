// Package byteutil provides the low-level byte, hex, and hash conversions
// shared by every other package in the protocol engine.
package byteutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrOddLength is returned by DecodeHex when the input has an odd number
// of hex digits.
var ErrOddLength = errors.New("byteutil: hex string has odd length")

// EncodeHex returns the lowercase hex encoding of b.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex decodes a lowercase or uppercase hex string. It rejects
// odd-length input explicitly rather than relying on the stdlib error
// text, since the ingestion engine branches on exactly this condition.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, ErrOddLength
	}
	return hex.DecodeString(s)
}

// LowerHex lowercases a hex string without validating it; canonical
// outpoint-id strings are always lowercase regardless of how the ledger
// node cased its transaction ids.
func LowerHex(s string) string {
	return strings.ToLower(s)
}

// SHA256 returns the 32-byte SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// DoubleSHA256 returns SHA256(SHA256(data)), the derivation behind
// shared secrets and chain keys.
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// TrimTrailingZeros returns the prefix of b up to (but excluding) the first
// trailing run of 0x00 bytes, used to recover the ASCII prefix field from
// its zero-padded 4-byte wire form.
func TrimTrailingZeros(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0x00 {
		end--
	}
	return b[:end]
}
