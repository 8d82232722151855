package sdk

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func isJWTLikeToken(token string) bool {
	t := strings.TrimSpace(token)
	if t == "" {
		return false
	}
	// JWTs have 3 base64url segments separated by '.'.
	return strings.Count(t, ".") == 2
}

// accessTokenExpiry reads the exp claim of a JWT access token without verifying it. The SDK never
// trusts the claim for authorization; it only uses it to refresh ahead of expiry. Opaque tokens
// report ok=false. Only the registered claims are decoded, so private claims of any shape do not
// get in the way.
func accessTokenExpiry(token string) (time.Time, bool) {
	if !isJWTLikeToken(token) {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// expiresWithin reports whether the token is a JWT that expires within skew of now.
func expiresWithin(token string, skew time.Duration, now time.Time) bool {
	if skew <= 0 {
		return false
	}
	exp, ok := accessTokenExpiry(token)
	if !ok {
		return false
	}
	return exp.Sub(now) <= skew
}
