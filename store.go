package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// CredentialPair is the access/refresh token pair issued by login, register and refresh.
// Both values are opaque to the SDK.
type CredentialPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Complete reports whether both tokens are present.
func (p CredentialPair) Complete() bool {
	return strings.TrimSpace(p.AccessToken) != "" && strings.TrimSpace(p.RefreshToken) != ""
}

// UserID is the server-assigned user identifier. The API emits numeric ids, but string ids are
// accepted as well so the profile cache survives a backend switch.
type UserID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = UserID(n.String())
	return nil
}

// UserProfile is a cached snapshot of the authenticated identity. The server stays authoritative.
type UserProfile struct {
	ID        UserID    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// TokenStore persists the current credential pair and cached user profile.
//
// Implementations must never persist a partial pair: Set writes both tokens (and the profile,
// when given) as one logical operation, and Clear removes everything. Clear on an empty store
// is not an error.
type TokenStore interface {
	// Get returns the stored pair, or nil when the store is empty.
	Get(ctx context.Context) (*CredentialPair, error)
	// Profile returns the cached profile, or nil when none is cached.
	Profile(ctx context.Context) (*UserProfile, error)
	// Set replaces the pair. A nil profile keeps the cached one.
	Set(ctx context.Context, pair CredentialPair, profile *UserProfile) error
	// SetProfile replaces the cached profile without touching the tokens.
	SetProfile(ctx context.Context, profile UserProfile) error
	// Clear removes tokens and profile.
	Clear(ctx context.Context) error
}

// MemoryStore is an in-process TokenStore. The zero value is ready to use.
type MemoryStore struct {
	mu      sync.RWMutex
	pair    *CredentialPair
	profile *UserProfile
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context) (*CredentialPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair == nil {
		return nil, nil
	}
	p := *s.pair
	return &p, nil
}

func (s *MemoryStore) Profile(_ context.Context) (*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil, nil
	}
	p := *s.profile
	return &p, nil
}

func (s *MemoryStore) Set(_ context.Context, pair CredentialPair, profile *UserProfile) error {
	if !pair.Complete() {
		return StoreError{Operation: "set", Cause: ErrIncompletePair}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = &pair
	if profile != nil {
		p := *profile
		s.profile = &p
	}
	return nil
}

func (s *MemoryStore) SetProfile(_ context.Context, profile UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = &profile
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	s.profile = nil
	return nil
}

// SessionState is the projection of the TokenStore onto logged-in / logged-out.
type SessionState string

const (
	SessionAnonymous     SessionState = "anonymous"
	SessionAuthenticated SessionState = "authenticated"
)

func stateOf(pair *CredentialPair) SessionState {
	if pair == nil || strings.TrimSpace(pair.AccessToken) == "" {
		return SessionAnonymous
	}
	return SessionAuthenticated
}
