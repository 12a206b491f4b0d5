package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateToken returns a URL-safe random string built from n random bytes.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
