package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	sdk "github.com/matorder/matorder/sdk/go"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := OpenTemp(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	pair, err := s.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, pair)

	profile := &sdk.UserProfile{ID: "1", Email: "a@b.com", Role: "admin"}
	require.NoError(t, s.Set(ctx, sdk.CredentialPair{AccessToken: "A1", RefreshToken: "R1"}, profile))
	require.NoError(t, s.Set(ctx, sdk.CredentialPair{AccessToken: "A2", RefreshToken: "R2"}, nil))

	pair, err = s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, &sdk.CredentialPair{AccessToken: "A2", RefreshToken: "R2"}, pair)

	cached, err := s.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "a@b.com", cached.Email)

	require.NoError(t, s.SetProfile(ctx, sdk.UserProfile{ID: "1", Email: "a@b.com", Name: "Ada"}))
	cached, err = s.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "Ada", cached.Name)
}

func TestStoreRejectsPartialPair(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})
	require.NoError(t, s.Set(ctx, sdk.CredentialPair{AccessToken: "A1", RefreshToken: "R1"}, nil))

	err := s.Set(ctx, sdk.CredentialPair{AccessToken: "A2"}, nil)
	require.ErrorIs(t, err, sdk.ErrIncompletePair)

	pair, err := s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "A1", pair.AccessToken)
	require.Equal(t, "R1", pair.RefreshToken)
}

func TestStoreClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})
	require.NoError(t, s.Set(ctx, sdk.CredentialPair{AccessToken: "A1", RefreshToken: "R1"}, &sdk.UserProfile{ID: "1"}))

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))

	pair, err := s.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, pair)
	profile, err := s.Profile(ctx)
	require.NoError(t, err)
	require.Nil(t, profile)
}

func TestStoreEncryptsTokensAtRest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{EncryptionKey: "correct horse"})
	require.NoError(t, s.Set(ctx, sdk.CredentialPair{AccessToken: "A1", RefreshToken: "R1"}, nil))

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bktSession).Get(accessTokenKey)
		require.NotEmpty(t, raw)
		require.NotEqual(t, "A1", string(raw))
		return nil
	})
	require.NoError(t, err)

	pair, err := s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "A1", pair.AccessToken)
}

func TestStoreWrongKeyFailsToDecrypt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	s, err := Open(path, Options{EncryptionKey: "first"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, sdk.CredentialPair{AccessToken: "A1", RefreshToken: "R1"}, nil))
	require.NoError(t, s.Close())

	s, err = Open(path, Options{EncryptionKey: "second"})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx)
	require.Error(t, err)
	require.Equal(t, ErrDecrypt, errors.Cause(err))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.db")

	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, sdk.CredentialPair{AccessToken: "A1", RefreshToken: "R1"}, nil))
	require.NoError(t, s.Close())

	s, err = Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()
	pair, err := s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "R1", pair.RefreshToken)
}
