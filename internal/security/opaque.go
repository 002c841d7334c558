package security

import (
	"crypto/rand"
	"encoding/hex"
)

// NewOpaqueToken returns 32 random bytes hex-encoded, used for email
// verification and password reset links.
func NewOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
