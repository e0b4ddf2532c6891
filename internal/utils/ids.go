package utils

import "github.com/google/uuid"

// GenerateID returns a prefixed unique identifier
func GenerateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
