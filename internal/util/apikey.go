package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewAPIKey returns 32 hex characters of crypto randomness.
func NewAPIKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
