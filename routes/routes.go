// Package routes provides the auth API paths shared by the SDK, the CLI and the fake API
// used in tests, so the three never drift apart.
package routes

const (
	// AuthLogin exchanges email/password for a credential pair and profile.
	AuthLogin = "/api/auth/login"

	// AuthRegister creates an account and logs it in.
	AuthRegister = "/api/auth/register"

	// AuthRefreshToken swaps a refresh token for a new pair.
	AuthRefreshToken = "/api/auth/refresh-token" // #nosec G101 -- route path, not a credential

	// AuthLogout invalidates a refresh token server-side.
	AuthLogout = "/api/auth/logout"

	// AuthMe returns the profile behind the bearer token.
	AuthMe = "/api/auth/me"

	// UsersProfile is the admin profile page API; used as the canonical authenticated resource.
	UsersProfile = "/api/users/profile"

	// LoginPage is the console's login entry point that clients are sent to when the session ends.
	LoginPage = "/auth/login"
)
