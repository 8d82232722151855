// Package boltstore persists the session in a local bbolt file.
package boltstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gtank/cryptopasta"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	sdk "github.com/matorder/matorder/sdk/go"
)

var bktSession = []byte("session")

var (
	accessTokenKey  = []byte("accessToken")
	refreshTokenKey = []byte("refreshToken")
	userKey         = []byte("user")
)

const defaultLockTimeout = time.Second

// ErrDecrypt is returned when stored tokens cannot be opened with the configured key.
var ErrDecrypt = errors.New("stored token cannot be decrypted")

// Options tunes the store.
type Options struct {
	// EncryptionKey, when set, seals token values with AES-256-GCM before they hit the disk.
	EncryptionKey string
	// LockTimeout bounds the wait for the file lock held by another process.
	LockTimeout time.Duration
}

// Store is a sdk.TokenStore over bolt.DB. Every write is one bolt transaction, so a pair is
// either fully replaced or left alone.
type Store struct {
	db        *bolt.DB
	secret    *[32]byte
	closeFunc func() error
}

var _ sdk.TokenStore = (*Store)(nil)

// Open opens (or creates) the store file at path.
func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "creating store directory")
	}
	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrapf(err, "opening bolt store %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bktSession)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating session bucket")
	}
	s := &Store{db: db, closeFunc: db.Close}
	if opts.EncryptionKey != "" {
		s.secret = deriveKey(opts.EncryptionKey)
	}
	return s, nil
}

// OpenTemp opens a store in a throwaway file that is removed on Close.
func OpenTemp(opts Options) (*Store, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("matorder-session-%s.db", uuid.New().String()))
	s, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	originalCloseFunc := s.closeFunc
	s.closeFunc = func() error {
		if err := originalCloseFunc(); err != nil {
			return err
		}
		return os.Remove(path)
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.closeFunc()
}

func (s *Store) Get(_ context.Context) (*sdk.CredentialPair, error) {
	var pair *sdk.CredentialPair
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSession)
		access := b.Get(accessTokenKey)
		refresh := b.Get(refreshTokenKey)
		if len(access) == 0 || len(refresh) == 0 {
			return nil
		}
		a, err := s.open(access)
		if err != nil {
			return err
		}
		r, err := s.open(refresh)
		if err != nil {
			return err
		}
		pair = &sdk.CredentialPair{AccessToken: a, RefreshToken: r}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading credential pair")
	}
	return pair, nil
}

func (s *Store) Profile(_ context.Context) (*sdk.UserProfile, error) {
	var profile *sdk.UserProfile
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bktSession).Get(userKey)
		if len(raw) == 0 {
			return nil
		}
		var p sdk.UserProfile
		if err := json.Unmarshal(raw, &p); err != nil {
			return errors.Wrap(err, "decoding cached profile")
		}
		profile = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *Store) Set(_ context.Context, pair sdk.CredentialPair, profile *sdk.UserProfile) error {
	if !pair.Complete() {
		return sdk.ErrIncompletePair
	}
	access, err := s.seal(pair.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.seal(pair.RefreshToken)
	if err != nil {
		return err
	}
	var user []byte
	if profile != nil {
		if user, err = json.Marshal(profile); err != nil {
			return errors.Wrap(err, "encoding profile")
		}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSession)
		if err := b.Put(accessTokenKey, access); err != nil {
			return err
		}
		if err := b.Put(refreshTokenKey, refresh); err != nil {
			return err
		}
		if user != nil {
			return b.Put(userKey, user)
		}
		return nil
	})
}

func (s *Store) SetProfile(_ context.Context, profile sdk.UserProfile) error {
	user, err := json.Marshal(profile)
	if err != nil {
		return errors.Wrap(err, "encoding profile")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bktSession).Put(userKey, user)
	})
}

func (s *Store) Clear(_ context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSession)
		for _, k := range [][]byte{accessTokenKey, refreshTokenKey, userKey} {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "clearing session")
}

func (s *Store) seal(value string) ([]byte, error) {
	if s.secret == nil {
		return []byte(value), nil
	}
	encrypted, err := cryptopasta.Encrypt([]byte(value), s.secret)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt token")
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(encrypted)))
	base64.StdEncoding.Encode(out, encrypted)
	return out, nil
}

func (s *Store) open(stored []byte) (string, error) {
	if s.secret == nil {
		return string(stored), nil
	}
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(stored)))
	n, err := base64.StdEncoding.Decode(decoded, stored)
	if err != nil {
		return "", errors.Wrap(ErrDecrypt, err.Error())
	}
	plain, err := cryptopasta.Decrypt(decoded[:n], s.secret)
	if err != nil {
		return "", errors.Wrap(ErrDecrypt, err.Error())
	}
	return string(plain), nil
}

func deriveKey(passphrase string) *[32]byte {
	key := &[32]byte{}
	copy(key[:], cryptopasta.Hash("matorder session store", []byte(passphrase)))
	return key
}
