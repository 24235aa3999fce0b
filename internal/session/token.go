package session

import (
	"crypto/rand"
	"fmt"
)

// tokenAlphabet matches what teacher devices render as QR payloads: uppercase
// alphanumerics only, so scans survive poor cameras and manual entry.
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// TokenLength is the length of rotated session tokens. Collisions across
// concurrent sessions are accepted as negligible; tokens are only ever
// compared against their own session.
const TokenLength = 6

// NewToken returns a fresh, uniformly random session token.
func NewToken() (string, error) {
	// Bytes at or above the largest multiple of the alphabet size are
	// discarded so every character is equally likely.
	const limit = byte(256 - 256%len(tokenAlphabet))

	out := make([]byte, 0, TokenLength)
	buf := make([]byte, 2*TokenLength)
	for len(out) < TokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("token entropy: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}
