// Package redisstore persists the session in Redis, for clients that run as several processes
// behind one identity (kiosks, workers sharing a service account).
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	sdk "github.com/matorder/matorder/sdk/go"
)

const defaultPrefix = "matorder:session"

// Options tunes key naming and expiry.
type Options struct {
	// Prefix namespaces the keys; defaults to "matorder:session".
	Prefix string
	// TTL, when positive, expires the whole session after that long without a write.
	TTL time.Duration
}

// Store is a sdk.TokenStore over Redis. Writes touching both tokens go through MULTI/EXEC.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ sdk.TokenStore = (*Store)(nil)

// New wraps an existing client. The caller owns the client's lifecycle.
func New(rdb redis.UniversalClient, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: opts.TTL}
}

func (s *Store) accessKey() string  { return s.prefix + ":accessToken" }
func (s *Store) refreshKey() string { return s.prefix + ":refreshToken" }
func (s *Store) userKey() string    { return s.prefix + ":user" }

func (s *Store) Get(ctx context.Context) (*sdk.CredentialPair, error) {
	vals, err := s.rdb.MGet(ctx, s.accessKey(), s.refreshKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: get pair: %w", err)
	}
	access, _ := vals[0].(string)
	refresh, _ := vals[1].(string)
	if access == "" || refresh == "" {
		return nil, nil
	}
	return &sdk.CredentialPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Store) Profile(ctx context.Context) (*sdk.UserProfile, error) {
	raw, err := s.rdb.Get(ctx, s.userKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get profile: %w", err)
	}
	var p sdk.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("redisstore: decode profile: %w", err)
	}
	return &p, nil
}

func (s *Store) Set(ctx context.Context, pair sdk.CredentialPair, profile *sdk.UserProfile) error {
	if !pair.Complete() {
		return sdk.ErrIncompletePair
	}
	var user []byte
	if profile != nil {
		var err error
		if user, err = json.Marshal(profile); err != nil {
			return fmt.Errorf("redisstore: encode profile: %w", err)
		}
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.accessKey(), pair.AccessToken, s.ttl)
		pipe.Set(ctx, s.refreshKey(), pair.RefreshToken, s.ttl)
		switch {
		case user != nil:
			pipe.Set(ctx, s.userKey(), user, s.ttl)
		case s.ttl > 0:
			pipe.Expire(ctx, s.userKey(), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: set pair: %w", err)
	}
	return nil
}

func (s *Store) SetProfile(ctx context.Context, profile sdk.UserProfile) error {
	user, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("redisstore: encode profile: %w", err)
	}
	if err := s.rdb.Set(ctx, s.userKey(), user, s.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set profile: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.accessKey(), s.refreshKey(), s.userKey()).Err(); err != nil {
		return fmt.Errorf("redisstore: clear: %w", err)
	}
	return nil
}
