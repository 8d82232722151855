package auth

import "github.com/golang-jwt/jwt/v5"

// Claims encodes the JWT claims the console API embeds into access tokens.
//
// The SDK only reads them unverified to schedule refreshes; the server remains the authority.
type Claims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role,omitempty"`

	jwt.RegisteredClaims
}
