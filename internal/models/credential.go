package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is the access/refresh token pair of an authenticated session.
type Credential struct {
	AccessToken  string     `json:"access"`
	RefreshToken string     `json:"refresh"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// RefreshToken is the server-side record of an issued refresh token.
type RefreshToken struct {
	ID        int64      `json:"-"`
	UserID    uuid.UUID  `json:"user_id"`
	Token     string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
