package id

import (
	"github.com/google/uuid"
)

// New returns a fresh random 128-bit row identity.
func New() uuid.UUID {
	return uuid.New()
}

// Parse parses the canonical hyphenated form of an identity.
func Parse(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
