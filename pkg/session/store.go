package session

import (
	"context"
	"fmt"

	"github.com/siraat/companion/pkg/storage"
)

// Persisted key names.
const (
	AccessTokenKey  = "accessToken"
	RefreshTokenKey = "refreshToken"
)

// Tokens is the credential pair held for one session.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Empty reports whether neither token is present.
func (t Tokens) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// TokenStore keeps the session tokens in a storage.Store. Token contents are
// never inspected.
type TokenStore struct {
	kv     storage.Store
	prefix string
}

// NewTokenStore creates a TokenStore. prefix is prepended to both key names so
// several sessions can share one KV area.
func NewTokenStore(kv storage.Store, prefix string) *TokenStore {
	return &TokenStore{kv: kv, prefix: prefix}
}

func (s *TokenStore) accessKey() string  { return s.prefix + AccessTokenKey }
func (s *TokenStore) refreshKey() string { return s.prefix + RefreshTokenKey }

// Get returns the stored tokens. Absent tokens are empty strings.
func (s *TokenStore) Get(ctx context.Context) (Tokens, error) {
	access, _, err := s.kv.Get(ctx, s.accessKey())
	if err != nil {
		return Tokens{}, fmt.Errorf("get access token: %w", err)
	}
	refresh, _, err := s.kv.Get(ctx, s.refreshKey())
	if err != nil {
		return Tokens{}, fmt.Errorf("get refresh token: %w", err)
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// Set stores new tokens in one write. An empty argument leaves that token
// untouched, which is how a refresh response without a rotated refresh token
// is handled.
func (s *TokenStore) Set(ctx context.Context, accessToken, refreshToken string) error {
	entries := make(map[string]string, 2)
	if accessToken != "" {
		entries[s.accessKey()] = accessToken
	}
	if refreshToken != "" {
		entries[s.refreshKey()] = refreshToken
	}
	if len(entries) == 0 {
		return nil
	}
	if err := s.kv.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("store tokens: %w", err)
	}
	return nil
}

// Clear removes both tokens.
func (s *TokenStore) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.accessKey(), s.refreshKey()); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}
