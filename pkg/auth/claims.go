package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// RoleAccount is an end user acting on their own credit account.
	RoleAccount = "account"
	// RoleService is a trusted pipeline acting for an account. Only it may
	// report the outcome of paid work.
	RoleService = "service"
)

// AccessTokenClaims identifies the credit account a bearer token acts for.
// Tokens are minted by the identity service; this service only verifies them.
type AccessTokenClaims struct {
	AccountID uuid.UUID `json:"account_id"`
	Role      string    `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// EffectiveRole treats a token without a role claim as an account token.
func (c *AccessTokenClaims) EffectiveRole() string {
	if c == nil || c.Role == "" {
		return RoleAccount
	}
	return c.Role
}
