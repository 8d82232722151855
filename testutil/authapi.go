// Package testutil provides an in-process fake of the admin console auth API for SDK tests and
// local development.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/matorder/matorder/sdk/go/auth"
	"github.com/matorder/matorder/sdk/go/routes"
)

const defaultAccessTTL = 15 * time.Minute

// AuthUser is an account known to the fake API.
type AuthUser struct {
	ID        int64
	Email     string
	Password  string
	Name      string
	Role      string
	IsActive  bool
	CreatedAt time.Time
}

// AuthAPIConfig configures the fake API.
type AuthAPIConfig struct {
	// Secret signs access tokens; a random one is generated when empty.
	Secret []byte
	// AccessTTL is the exp of minted access tokens. Defaults to 15 minutes.
	AccessTTL time.Duration
	// KeepRefreshToken makes refresh answer without a new refresh token.
	KeepRefreshToken bool
	// Users seeds the account table; a single admin a@b.com/pw is used when empty.
	Users []AuthUser
}

// AuthAPI is the fake. All methods are safe for concurrent use.
type AuthAPI struct {
	mu      sync.Mutex
	cfg     AuthAPIConfig
	users   map[string]*AuthUser
	byID    map[int64]*AuthUser
	nextID  int64
	live    map[string]int64
	refresh map[string]int64

	rejectRefresh bool
	refreshDelay  time.Duration
	logoutDelay   time.Duration
	logoutStatus  int
	calls         map[string]int

	router chi.Router
}

// NewAuthAPI builds the fake and its router.
func NewAuthAPI(cfg AuthAPIConfig) *AuthAPI {
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(uuid.NewString())
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if len(cfg.Users) == 0 {
		cfg.Users = []AuthUser{{
			ID:        1,
			Email:     "a@b.com",
			Password:  "pw",
			Name:      "Ada Admin",
			Role:      "admin",
			IsActive:  true,
			CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		}}
	}
	a := &AuthAPI{
		cfg:     cfg,
		users:   make(map[string]*AuthUser),
		byID:    make(map[int64]*AuthUser),
		live:    make(map[string]int64),
		refresh: make(map[string]int64),
		calls:   make(map[string]int),
	}
	for i := range cfg.Users {
		u := cfg.Users[i]
		a.users[strings.ToLower(u.Email)] = &u
		a.byID[u.ID] = &u
		if u.ID > a.nextID {
			a.nextID = u.ID
		}
	}

	r := chi.NewRouter()
	a.Register(r)
	a.router = r
	return a
}

// Register adds the fake's routes to r, for servers that host it next to other handlers.
func (a *AuthAPI) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Use(a.countCalls)
		r.Post(routes.AuthLogin, a.handleLogin)
		r.Post(routes.AuthRegister, a.handleRegister)
		r.Post(routes.AuthRefreshToken, a.handleRefresh)
		r.Post(routes.AuthLogout, a.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(a.requireBearer)
			r.Get(routes.AuthMe, a.handleMe)
			r.Get(routes.UsersProfile, a.handleProfile)
			r.Put(routes.UsersProfile, a.handleUpdateProfile)
		})
	})
}

// NewAuthServer starts the fake behind an httptest server.
func NewAuthServer(cfg AuthAPIConfig) (*AuthAPI, *httptest.Server) {
	a := NewAuthAPI(cfg)
	return a, httptest.NewServer(a)
}

func (a *AuthAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// ExpireAccessTokens invalidates every access token issued so far; refresh tokens stay valid.
func (a *AuthAPI) ExpireAccessTokens() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live = make(map[string]int64)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (a *AuthAPI) RevokeRefreshTokens() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refresh = make(map[string]int64)
}

// RejectRefresh makes the refresh endpoint answer 401 while set.
func (a *AuthAPI) RejectRefresh(reject bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejectRefresh = reject
}

// SetRefreshDelay delays refresh answers, to widen races in tests.
func (a *AuthAPI) SetRefreshDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshDelay = d
}

// SetLogoutDelay delays logout answers; a negative value hangs until the client gives up.
func (a *AuthAPI) SetLogoutDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logoutDelay = d
}

// SetLogoutStatus forces the logout endpoint to answer with status (0 restores normal answers).
func (a *AuthAPI) SetLogoutStatus(status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logoutStatus = status
}

// Calls returns how many requests hit path.
func (a *AuthAPI) Calls(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[path]
}

// RefreshTokenValid reports whether token would currently be accepted by the refresh endpoint.
func (a *AuthAPI) RefreshTokenValid(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.refresh[token]
	return ok
}

// MintAccessToken issues a live access token for the user, with a custom TTL.
func (a *AuthAPI) MintAccessToken(userID int64, ttl time.Duration) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mintAccessLocked(userID, ttl)
}

type userJSON struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

func toJSON(u *AuthUser) userJSON {
	return userJSON{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

type envelope struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message,omitempty"`
	User         *userJSON `json:"user,omitempty"`
	Data         *userJSON `json:"data,omitempty"`
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func (a *AuthAPI) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.calls[r.URL.Path]++
		a.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (a *AuthAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		fail(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[strings.ToLower(req.Email)]
	if !ok || u.Password != req.Password {
		fail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if !u.IsActive {
		fail(w, http.StatusForbidden, "Account is disabled")
		return
	}
	a.issueLocked(w, http.StatusOK, u)
}

func (a *AuthAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		fail(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.users[strings.ToLower(req.Email)]; exists {
		fail(w, http.StatusConflict, "User already exists")
		return
	}
	role := req.Role
	if role == "" {
		role = "user"
	}
	a.nextID++
	u := &AuthUser{
		ID:        a.nextID,
		Email:     req.Email,
		Password:  req.Password,
		Name:      req.Name,
		Role:      role,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	a.users[strings.ToLower(u.Email)] = u
	a.byID[u.ID] = u
	a.issueLocked(w, http.StatusCreated, u)
}

func (a *AuthAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.mu.Lock()
	delay := a.refreshDelay
	a.mu.Unlock()
	if !sleep(r.Context(), delay) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	userID, ok := a.refresh[req.RefreshToken]
	if a.rejectRefresh || !ok {
		fail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	access, err := a.mintAccessLocked(userID, a.cfg.AccessTTL)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := envelope{Success: true, AccessToken: access}
	if !a.cfg.KeepRefreshToken {
		delete(a.refresh, req.RefreshToken)
		out.RefreshToken = uuid.NewString()
		a.refresh[out.RefreshToken] = userID
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *AuthAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.mu.Lock()
	delay, status := a.logoutDelay, a.logoutStatus
	a.mu.Unlock()
	if delay < 0 {
		<-r.Context().Done()
		return
	}
	if !sleep(r.Context(), delay) {
		return
	}
	if status != 0 {
		fail(w, status, "logout failed")
		return
	}

	a.mu.Lock()
	delete(a.refresh, req.RefreshToken)
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

type userIDKey struct{}

func (a *AuthAPI) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			fail(w, http.StatusUnauthorized, "No token provided")
			return
		}
		userID, err := a.verifyAccess(raw)
		if err != nil {
			fail(w, http.StatusUnauthorized, "Token expired or invalid")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	})
}

func (a *AuthAPI) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := a.userFrom(r)
	if !ok {
		fail(w, http.StatusNotFound, "User not found")
		return
	}
	out := toJSON(u)
	writeJSON(w, http.StatusOK, envelope{Success: true, User: &out})
}

func (a *AuthAPI) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := a.userFrom(r)
	if !ok {
		fail(w, http.StatusNotFound, "User not found")
		return
	}
	out := toJSON(u)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: &out})
}

func (a *AuthAPI) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		fail(w, http.StatusBadRequest, "name is required")
		return
	}
	u, ok := a.userFrom(r)
	if !ok {
		fail(w, http.StatusNotFound, "User not found")
		return
	}
	a.mu.Lock()
	u.Name = req.Name
	out := toJSON(u)
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: &out})
}

func (a *AuthAPI) userFrom(r *http.Request) (*AuthUser, bool) {
	id, _ := r.Context().Value(userIDKey{}).(int64)
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.byID[id]
	return u, ok
}

func (a *AuthAPI) issueLocked(w http.ResponseWriter, status int, u *AuthUser) {
	access, err := a.mintAccessLocked(u.ID, a.cfg.AccessTTL)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh := uuid.NewString()
	a.refresh[refresh] = u.ID
	out := toJSON(u)
	writeJSON(w, status, envelope{
		Success:      true,
		User:         &out,
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

func (a *AuthAPI) mintAccessLocked(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	role := ""
	if u, ok := a.byID[userID]; ok {
		role = u.Role
	}
	claims := auth.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
	if err != nil {
		return "", err
	}
	a.live[signed] = userID
	return signed, nil
}

func (a *AuthAPI) verifyAccess(raw string) (int64, error) {
	var claims auth.Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.live[raw]; !ok {
		return 0, jwt.ErrTokenExpired
	}
	return claims.UserID, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
