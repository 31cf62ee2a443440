package identity

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user owns the phone number.
	ErrNotFound = errors.New("user not found")

	// ErrAlreadyExists is returned when registering a phone number twice.
	ErrAlreadyExists = errors.New("user already exists")

	// ErrInvalidUser is returned when a name or phone number is blank.
	ErrInvalidUser = errors.New("name and phone are required")
)

// User is a wallet owner known to the directory.
type User struct {
	ID        string
	Name      string
	Phone     string
	CreatedAt time.Time
}
