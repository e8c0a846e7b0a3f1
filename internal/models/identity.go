package models

import "github.com/golang-jwt/jwt/v5"

// Identity is the resolved caller identity attached to every authenticated request.
// The token itself is issued elsewhere; this service only consumes the assertion.
type Identity struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
}

// IdentityClaims is the JWT claim set the external auth layer signs.
type IdentityClaims struct {
	Role UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts the claim set into the resolved identity.
func (c *IdentityClaims) Identity() Identity {
	return Identity{UserID: c.Subject, Role: c.Role}
}
