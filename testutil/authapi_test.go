package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matorder/matorder/sdk/go/routes"
)

func post(t *testing.T, url string, body any) (*http.Response, envelope) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp
}

func TestLoginRefreshRotation(t *testing.T) {
	api, srv := NewAuthServer(AuthAPIConfig{})
	defer srv.Close()

	resp, login := post(t, srv.URL+routes.AuthLogin, map[string]string{"email": "A@B.com", "password": "pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, login.Success)
	require.NotEmpty(t, login.AccessToken)
	require.Equal(t, int64(1), login.User.ID)

	require.Equal(t, http.StatusOK, get(t, srv.URL+routes.AuthMe, login.AccessToken).StatusCode)

	resp, refreshed := post(t, srv.URL+routes.AuthRefreshToken, map[string]string{"refreshToken": login.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	require.False(t, api.RefreshTokenValid(login.RefreshToken))
	require.True(t, api.RefreshTokenValid(refreshed.RefreshToken))

	resp, _ = post(t, srv.URL+routes.AuthRefreshToken, map[string]string{"refreshToken": login.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 2, api.Calls(routes.AuthRefreshToken))
}

func TestExpireAccessTokens(t *testing.T) {
	api, srv := NewAuthServer(AuthAPIConfig{})
	defer srv.Close()

	token, err := api.MintAccessToken(1, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, get(t, srv.URL+routes.UsersProfile, token).StatusCode)

	api.ExpireAccessTokens()
	require.Equal(t, http.StatusUnauthorized, get(t, srv.URL+routes.UsersProfile, token).StatusCode)
	require.Equal(t, http.StatusUnauthorized, get(t, srv.URL+routes.UsersProfile, "not-a-jwt").StatusCode)
}

func TestForeignSignatureRejected(t *testing.T) {
	other := NewAuthAPI(AuthAPIConfig{Secret: []byte("other")})
	token, err := other.MintAccessToken(1, time.Minute)
	require.NoError(t, err)

	_, srv := NewAuthServer(AuthAPIConfig{Secret: []byte("mine")})
	defer srv.Close()
	require.Equal(t, http.StatusUnauthorized, get(t, srv.URL+routes.AuthMe, token).StatusCode)
}

func TestRejectRefreshAndLogoutStatus(t *testing.T) {
	api, srv := NewAuthServer(AuthAPIConfig{})
	defer srv.Close()
	_, login := post(t, srv.URL+routes.AuthLogin, map[string]string{"email": "a@b.com", "password": "pw"})

	api.RejectRefresh(true)
	resp, _ := post(t, srv.URL+routes.AuthRefreshToken, map[string]string{"refreshToken": login.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	api.SetLogoutStatus(http.StatusBadGateway)
	resp, _ = post(t, srv.URL+routes.AuthLogout, map[string]string{"refreshToken": login.RefreshToken})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.True(t, api.RefreshTokenValid(login.RefreshToken))

	api.SetLogoutStatus(0)
	resp, _ = post(t, srv.URL+routes.AuthLogout, map[string]string{"refreshToken": login.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, api.RefreshTokenValid(login.RefreshToken))
}
