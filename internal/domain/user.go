package domain

import "time"

// User represents a platform account.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash []byte
	IsActive     bool
	CreatedAt    time.Time
}
