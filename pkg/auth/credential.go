// Package auth carries the bearer credential explicitly through the
// messaging client and issues/validates tokens for the dev relay server.
package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the opaque bearer token supplied by the auth token
// provider. It is passed by value into every component that talks to
// the server; nothing reads it from ambient state.
type Credential struct {
	Token string
}

// NewCredential wraps a raw token.
func NewCredential(token string) Credential {
	return Credential{Token: token}
}

// Empty reports whether no token is present.
func (c Credential) Empty() bool {
	return c.Token == ""
}

// Bearer renders the Authorization header value.
func (c Credential) Bearer() string {
	return "Bearer " + c.Token
}

// peek parses the token claims without verifying the signature. The
// client never holds the signing key; the server remains the authority.
func (c Credential) peek() (*jwt.RegisteredClaims, bool) {
	if c.Empty() {
		return nil, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// Subject returns the numeric user id in the "sub" claim, if the token is
// a JWT carrying one.
func (c Credential) Subject() (int64, bool) {
	claims, ok := c.peek()
	if !ok || claims.Subject == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ExpiresAt returns the "exp" claim, if any.
func (c Credential) ExpiresAt() (time.Time, bool) {
	claims, ok := c.peek()
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// String never reveals the token.
func (c Credential) String() string {
	if c.Empty() {
		return "Credential(empty)"
	}
	return "Credential(***)"
}
