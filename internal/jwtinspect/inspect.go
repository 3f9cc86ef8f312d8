// Package jwtinspect reads the self-asserted claims of a bearer token without
// verifying its signature. It is a local pre-check only: the verdict that
// matters comes from the remote verification endpoint.
package jwtinspect

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the chat client reads from a token payload.
type Claims struct {
	UserID   interface{} `json:"user_id,omitempty"`
	Username string      `json:"username,omitempty"`
	Role     string      `json:"role,omitempty"`
	App      string      `json:"app,omitempty"`
	jwt.RegisteredClaims
}

// ExpiresAtMillis returns exp*1000, or 0 when exp is absent.
func (c *Claims) ExpiresAtMillis() int64 {
	if c == nil || c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.UnixMilli()
}

var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// Decode parses the payload segment of token. The header and signature are
// not inspected. Wrong segment count, bad base64, bad JSON or a non-numeric
// exp yield nil.
func Decode(token string) *Claims {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[1] == "" {
		return nil
	}
	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil
	}
	claims := &Claims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil
	}
	return claims
}

// IsExpired reports whether token is expired at nowMillis (UTC epoch
// milliseconds). Undecodable tokens and tokens without a positive exp are
// expired.
func IsExpired(token string, nowMillis int64) bool {
	exp := Decode(token).ExpiresAtMillis()
	if exp <= 0 {
		return true
	}
	return nowMillis > exp
}
