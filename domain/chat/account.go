package chat

import "time"

// Account is a registered identity. Username is the primary key.
type Account struct {
	Username       string
	CredentialHash string
	LastLoginAt    time.Time
}
