package models

import "time"

// User represents a registered bettor. The username doubles as the bettor's
// Identity on the ledger and in the vaults.
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity returns the ledger identity of the user
func (u User) Identity() Identity {
	return Identity(u.Username)
}
