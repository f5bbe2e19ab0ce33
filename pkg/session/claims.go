package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the display fields read from an access token. They are decoded
// without verifying the signature and must never drive authorization.
type Claims struct {
	Subject   string    `json:"sub,omitempty"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the claims of a JWT access token without verifying it.
// Subject falls back to the user_id claim.
func ParseClaims(accessToken string) (Claims, error) {
	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &tc); err != nil {
		return Claims{}, fmt.Errorf("decode token claims: %w", err)
	}

	c := Claims{
		Subject: tc.Subject,
		Email:   tc.Email,
		Role:    tc.Role,
	}
	if c.Subject == "" {
		c.Subject = tc.UserID
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}

// Expired reports whether the claims carry an expiry that is before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
