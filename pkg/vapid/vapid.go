// Package vapid handles VAPID application server keys (Voluntary
// Application Server Identification, RFC 8292).
//
// Servers hand the public key to clients as a base64url string, usually
// without padding. DecodeKey normalizes such input back to standard base64
// and returns the raw bytes.
package vapid

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// PublicKeyLength is the size of an uncompressed P-256 public key point
// (0x04 prefix + 32-byte X + 32-byte Y).
const PublicKeyLength = 65

var ErrInvalidKey = errors.New("vapid: invalid key")

// DecodeKey decodes a base64url-encoded key, tolerating missing padding.
//
// The transform is deterministic and side-effect free: the input is
// right-padded with '=' to a multiple of 4, URL-safe alphabet characters
// are mapped back to the standard alphabet, and the result is decoded as
// standard base64. Malformed input is an error, not something to repair.
func DecodeKey(s string) ([]byte, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidKey)
	}
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")

	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return b, nil
}

// DecodePublicKey decodes an application server public key and verifies it
// is an uncompressed P-256 point.
func DecodePublicKey(s string) ([]byte, error) {
	b, err := DecodeKey(s)
	if err != nil {
		return nil, err
	}
	if len(b) != PublicKeyLength {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(b), PublicKeyLength)
	}
	if b[0] != 0x04 {
		return nil, fmt.Errorf("%w: not an uncompressed point", ErrInvalidKey)
	}
	return b, nil
}
