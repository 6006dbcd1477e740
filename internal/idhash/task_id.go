package idhash

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeTaskID computes a deterministic task identifier.
// Formula: base58(SHA256(name|created_at)[:16]).
// Base58 keeps the identifier short and URL-safe.
func ComputeTaskID(name string, createdAt int64) string {
	data := fmt.Sprintf("%s|%d", name, createdAt)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:16])
}

// NewResultID returns a random run identifier in the same base58 shape the
// run service uses. Live resultIds are assigned by the service; this exists
// for local tooling and tests.
func NewResultID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is not recoverable at this level
		panic(fmt.Sprintf("idhash: read random bytes: %v", err))
	}
	return base58.Encode(b[:])
}
