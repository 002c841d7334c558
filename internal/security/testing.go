package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"time"

	"unified-ai/backend/internal/platform/clock"
)

// NewTestTokenProvider returns a TokenProvider over a freshly generated P-256
// key, for tests in this and dependent packages.
func NewTestTokenProvider(clk clock.Clock) (*TokenProvider, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(key, key.Public(), "test-issuer", "test-audience", 15*time.Minute, 720*time.Hour, clk)
}
