package models

import (
	"time"
)

// User is the persisted account record. Values are treated as immutable
// snapshots; changes go through the repository update operations.
type User struct {
	ID                  string    `json:"id" dynamodbav:"id"`
	Username            string    `json:"username" dynamodbav:"username"`
	Email               string    `json:"email" dynamodbav:"email"`
	FullName            string    `json:"fullName" dynamodbav:"full_name"`
	PasswordHash        string    `json:"-" dynamodbav:"password_hash"`
	CurrentRefreshToken string    `json:"-" dynamodbav:"refresh_token,omitempty"`
	PasswordChangedAt   time.Time `json:"passwordChangedAt" dynamodbav:"password_changed_at"`
	CreatedAt           time.Time `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt           time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

// Sanitized returns a copy safe to hand to clients.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.CurrentRefreshToken = ""
	return u
}

func UserPK(id string) string {
	return "USER#" + id
}

func UsernamePK(username string) string {
	return "USERNAME#" + username
}

func EmailPK(email string) string {
	return "EMAIL#" + email
}
