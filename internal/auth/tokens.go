package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens is the credential pair issued by the API
type Tokens struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the tokens grant an authenticated session at now.
// Tokens without an expiry never expire on the client side.
func (t *Tokens) Valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt == nil || t.ExpiresAt.After(now)
}

// Clone returns a copy that shares no memory with t
func (t *Tokens) Clone() *Tokens {
	if t == nil {
		return nil
	}
	out := *t
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		out.ExpiresAt = &exp
	}
	return &out
}

// withDerivedExpiry fills ExpiresAt from the access token's exp claim when
// the caller did not supply one.
func (t Tokens) withDerivedExpiry() Tokens {
	if t.ExpiresAt != nil {
		return t
	}
	if exp, ok := ExpiryFromJWT(t.AccessToken); ok {
		t.ExpiresAt = &exp
	}
	return t
}

// ExpiryFromJWT reads the exp claim of a JWT without verifying its signature.
// Verification belongs to the server; the client only needs the deadline.
func ExpiryFromJWT(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
