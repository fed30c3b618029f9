package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields read from an access token. The token is decoded
// without verifying its signature: the server is the only verifier, and
// these values are used for display and account identity only.
type Claims struct {
	UserID    string
	TokenType string
	ExpiresAt time.Time
}

// Expired reports whether the token's exp is in the past. Tokens without
// exp never expire.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// ParseClaims decodes an access token's payload.
func ParseClaims(token string) (*Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("decode token: unexpected claims type %T", parsed.Claims)
	}

	c := &Claims{}
	switch id := mc["user_id"].(type) {
	case string:
		c.UserID = id
	case float64:
		c.UserID = fmt.Sprintf("%.0f", id)
	}
	if tt, ok := mc["token_type"].(string); ok {
		c.TokenType = tt
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}
