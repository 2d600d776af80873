package auth

import "time"

// Profile represents a registered dashboard account.
type Profile struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          string
	CompanyID     string
	EmailVerified bool
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RefreshToken represents a persisted refresh token.
type RefreshToken struct {
	ID        string
	ProfileID string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
