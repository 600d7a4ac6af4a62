package session

import (
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// tokenExpiry derives an expiry hint from the token's exp claim. The
// signature is not checked: the server verifies tokens, the client only needs
// a storage TTL. Opaque tokens fall back to now+fallback.
func tokenExpiry(token string, fallback time.Duration, now time.Time) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time.UTC()
	}
	return now.Add(fallback).UTC()
}
