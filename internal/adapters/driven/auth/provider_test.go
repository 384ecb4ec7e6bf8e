package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
)

func tokenEndpoint(t *testing.T, handler http.HandlerFunc) *oauth2.Config {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &oauth2.Config{
		ClientID: "efatura-client",
		Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
	}
}

func newStore(t *testing.T, tok *StoredToken) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "tokens", "efatura.json"))
	if tok != nil {
		require.NoError(t, s.Save(tok))
	}
	return s
}

func TestProvider_GetToken_UsesCachedWhileFresh(t *testing.T) {
	cfg := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no refresh expected")
	})
	store := newStore(t, &StoredToken{
		AccessToken:  "fresh-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	p := NewProvider(store, cfg)
	got, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", got)
}

func TestProvider_GetToken_RefreshesNearExpiry(t *testing.T) {
	cfg := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-token","refresh_token":"refresh-2","token_type":"Bearer","expires_in":300}`)
	})
	store := newStore(t, &StoredToken{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(10 * time.Second),
	})

	p := NewProvider(store, cfg)
	got, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-token", got)

	// The refreshed token is persisted with an absolute expiry.
	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new-token", persisted.AccessToken)
	assert.Equal(t, "refresh-2", persisted.RefreshToken)
	assert.True(t, persisted.ExpiresAt.After(time.Now()))
}

func TestProvider_GetToken_KeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	cfg := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-token","token_type":"Bearer","expires_in":300}`)
	})
	store := newStore(t, &StoredToken{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	p := NewProvider(store, cfg)
	_, err := p.GetToken(context.Background())
	require.NoError(t, err)

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", persisted.RefreshToken)
}

func TestProvider_GetToken_InvalidGrantMeansReauth(t *testing.T) {
	cfg := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Session not active"}`)
	})
	store := newStore(t, &StoredToken{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-dead",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	p := NewProvider(store, cfg)
	_, err := p.GetToken(context.Background())
	require.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestProvider_GetToken_NoStoredToken(t *testing.T) {
	cfg := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	p := NewProvider(newStore(t, nil), cfg)
	_, err := p.GetToken(context.Background())
	require.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestProvider_Invalidate_ForcesRefresh(t *testing.T) {
	refreshes := 0
	cfg := tokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed","refresh_token":"refresh-2","token_type":"Bearer","expires_in":300}`)
	})
	store := newStore(t, &StoredToken{
		AccessToken:  "looks-fresh-but-rejected",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	p := NewProvider(store, cfg)
	got, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "looks-fresh-but-rejected", got)

	p.Invalidate()
	got, err = p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed", got)
	assert.Equal(t, 1, refreshes)
}

func TestJWTExpiry_DecodesExpClaim(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	payload, err := json.Marshal(map[string]any{"exp": exp, "sub": "abc"})
	require.NoError(t, err)
	token := "eyJhbGciOiJSUzI1NiJ9." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"

	got, ok := jwtExpiry(token)
	require.True(t, ok)
	assert.Equal(t, exp, got.Unix())
}

func TestJWTExpiry_RejectsNonJWT(t *testing.T) {
	_, ok := jwtExpiry("opaque-token")
	assert.False(t, ok)
}

func TestStore_LoadMissingFile(t *testing.T) {
	tok, err := newStore(t, nil).Load()
	require.NoError(t, err)
	assert.Nil(t, tok)
}
