// Package auth implements the OIDC side of the portal: a JSON token
// store on disk, a refreshing token provider, and the PKCE login flow
// used to obtain the first refresh token.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// StoredToken is the persisted token material. ExpiresAt is absolute so
// a restart does not have to re-derive it from expires_in.
type StoredToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the access token still has at least minTTL left.
func (t *StoredToken) Valid(now time.Time, minTTL time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return t.ExpiresAt.Sub(now) >= minTTL
}

// expirySkew is subtracted from server-reported expiries so a token is
// never presented in its final moments.
const expirySkew = 30 * time.Second

// fromOAuth converts an exchange/refresh result into stored form. When
// the server sent no expiry, the access token's own JWT exp claim is
// the fallback.
func fromOAuth(tok *oauth2.Token) *StoredToken {
	expires := tok.Expiry
	if expires.IsZero() {
		if exp, ok := jwtExpiry(tok.AccessToken); ok {
			expires = exp
		}
	}
	if !expires.IsZero() {
		expires = expires.Add(-expirySkew)
	}
	return &StoredToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    expires,
	}
}

// Store persists tokens as a mode-0600 JSON file.
type Store struct {
	path string
}

// NewStore creates a token store at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the token file location.
func (s *Store) Path() string { return s.path }

// Load reads the stored token. A missing file returns (nil, nil).
func (s *Store) Load() (*StoredToken, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token store: %w", err)
	}
	var tok StoredToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token store %s: %w", s.path, err)
	}
	return &tok, nil
}

// Save writes the token atomically with owner-only permissions.
func (s *Store) Save(tok *StoredToken) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token store: %w", err)
	}
	return nil
}
