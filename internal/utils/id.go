package utils

import "github.com/google/uuid"

// NewID returns a random peer identifier.
func NewID() string {
	return uuid.NewString()
}
