package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Email  string
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued by the identity provider.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller as seen by the core.
type Identity struct {
	UserID uuid.UUID
	Email  string
}

// Identity projects the claims onto the caller identity.
func (c *AccessTokenClaims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email}
}
