package id

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a random hex identifier used for proof-photo object keys.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "proof-fallback-id"
	}
	return hex.EncodeToString(b[:])
}
