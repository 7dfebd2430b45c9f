package utils

import (
	"github.com/google/uuid"
)

// GenerateID returns a new unique identifier string
func GenerateID() string {
	return uuid.New().String()
}

// GenerateOrderedID returns a time-ordered (v7) identifier, falling back to a random one.
// Event ids use it so that ids sort roughly in staging order in logs and storage.
func GenerateOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
