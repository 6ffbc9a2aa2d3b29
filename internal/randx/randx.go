// Package randx generates the opaque identifiers used for sessions, refresh
// tokens, and password-reset tokens. All material comes from crypto/rand.
package randx

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenIDBytes is the number of random bytes behind an opaque token id.
// 32 bytes gives 256 bits of entropy, well past the point where guessing
// is feasible.
const TokenIDBytes = 32

// MakeRandHexString generates a random hexadecimal string of the given size.
// The size parameter specifies the number of random bytes to generate before
// encoding them as a hexadecimal string, so the final string length will be
// twice the size.
//
// It returns an error if the random number generator fails.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// TokenID returns a new opaque token id.
func TokenID() (string, error) {
	return MakeRandHexString(TokenIDBytes)
}
