package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns 24 hex characters of crypto randomness, used for request ids.
func NewID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
