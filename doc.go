// Package sdk is the Go client for the matorder admin console API.
//
// The Client keeps the session's credential pair in a TokenStore and routes every request
// through a gateway that attaches the bearer token, refreshes an expired access token once,
// and replays the request so callers never see the intermediate 401. Session operations
// (login, register, refresh, whoami, logout) live on Client.Session; SignOut bounds logout with
// a failsafe deadline so a dead API can never leave the client logged in.
//
//	client, err := sdk.NewClient(sdk.Config{
//		BaseURL: "https://admin.matorder.example",
//		Store:   store,
//		LoginRequired: func(ctx context.Context, reason sdk.LogoutReason) {
//			// show the login screen
//		},
//	})
//	user, err := client.Session.Login(ctx, "a@b.com", "pw")
//	err = client.Do(ctx, http.MethodGet, "/api/users/profile", nil, &out)
//	err = client.Session.SignOut(ctx)
package sdk
