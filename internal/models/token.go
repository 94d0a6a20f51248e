package models

import "time"

// DefaultDeviceName labels tokens issued without an explicit device.
const DefaultDeviceName = "mobile"

// AccessToken is a stored bearer token. Only a hash of the secret is kept.
type AccessToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"` // device label, e.g. "web" or "mobile"
	TokenHash  string     `json:"-"`
	LastUsedAt *time.Time `json:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reports whether the token has an expiry at or before now.
func (t AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// NewAccessToken is the result of issuing a token. PlainText is only ever
// available here.
type NewAccessToken struct {
	AccessToken AccessToken
	PlainText   string
}

// AuthResponse is the body returned by register and login.
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResource `json:"user"`
}
