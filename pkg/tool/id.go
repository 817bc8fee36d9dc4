package tool

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 string used for primary keys.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IsID reports whether s is a well-formed UUID.
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
