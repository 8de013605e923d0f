// Package hexid implements the small hex-identifier helpers the persona
// keystore assumes exist externally: validating that a string is a
// lowercase hex digest of the expected length, and converting between raw
// digest bytes and their lowercase hex form.
package hexid

import (
	"encoding/hex"
	"strings"
)

// ShortLen is the length of the 64-bit short-form persona id accepted by
// Keystore.FindPersona.
const ShortLen = 16

// IsHexHash reports whether s is exactly size lowercase hex characters
// (pass ShortLen to check a short-form id). A size of 0 skips the length check entirely and only validates the
// alphabet, matching callers that accept any hex string.
func IsHexHash(s string, size int) bool {
	if size > 0 && len(s) != size {
		return false
	}
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// IsHexHashAnyLen reports whether s is composed entirely of lowercase hex
// digits, regardless of length. Used where a full digest or its 16-char
// short form are both acceptable.
func IsHexHashAnyLen(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'))
	}) == -1
}

// BlobToHex lowercases-hex-encodes raw bytes.
func BlobToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// HexToBlob decodes a lowercase hex string back to raw bytes.
func HexToBlob(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
