// Package oauth provides the small primitives shared by the platform
// adapters' OAuth2 authorization-code flows: opaque random tokens and the
// PKCE S256 challenge.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// GenerateState mints an opaque random CSRF state parameter.
func GenerateState() (string, error) {
	return randomToken()
}

// GenerateVerifier mints a PKCE code verifier.
func GenerateVerifier() (string, error) {
	return randomToken()
}

// S256Challenge derives the code challenge for a verifier using the S256
// method.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
