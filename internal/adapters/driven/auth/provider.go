package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
	"github.com/storesace-cv/bwb-efatura-docs/internal/core/ports/driven"
	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

// minTTL is the remaining lifetime below which a cached access token is
// refreshed instead of handed out.
const minTTL = 120 * time.Second

// Provider hands out valid bearer tokens, refreshing through the OIDC
// refresh grant when the cached one is close to expiry.
type Provider struct {
	mu     sync.Mutex
	store  *Store
	oauth  *oauth2.Config
	cached *StoredToken
	now    func() time.Time
}

var _ driven.TokenProvider = (*Provider)(nil)

// NewProvider creates a token provider backed by the given store and
// OAuth2 client configuration.
func NewProvider(store *Store, cfg *oauth2.Config) *Provider {
	return &Provider{store: store, oauth: cfg, now: time.Now}
}

// GetToken returns a bearer token with at least two minutes of life
// left, refreshing if needed. A refresh rejected with invalid_grant
// means the refresh token itself is dead and an interactive login is
// required.
func (p *Provider) GetToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached == nil {
		tok, err := p.store.Load()
		if err != nil {
			return "", err
		}
		if tok == nil {
			return "", fmt.Errorf("%w: no stored token, run login first", domain.ErrAuthRequired)
		}
		p.cached = tok
	}

	if p.cached.Valid(p.now(), minTTL) {
		return p.cached.AccessToken, nil
	}
	if p.cached.RefreshToken == "" {
		return "", fmt.Errorf("%w: stored token expired and has no refresh token", domain.ErrAuthRequired)
	}

	logger.Debug("access token expiring, refreshing")
	fresh, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: p.cached.RefreshToken}).Token()
	if err != nil {
		if invalidGrant(err) {
			return "", fmt.Errorf("%w: refresh token rejected, run login again", domain.ErrAuthRequired)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrTokenRefreshFailed, err)
	}

	tok := fromOAuth(fresh)
	if tok.RefreshToken == "" {
		// Some IdPs omit the refresh token on refresh; keep the old one.
		tok.RefreshToken = p.cached.RefreshToken
	}
	p.cached = tok
	if err := p.store.Save(tok); err != nil {
		logger.Warn("persisting refreshed token: %v", err)
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached access token so the next GetToken call
// performs a refresh. The refresh token is kept.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil {
		p.cached.AccessToken = ""
		p.cached.ExpiresAt = time.Time{}
	}
}

// SetLoginResult installs a freshly exchanged token, persisting it.
func (p *Provider) SetLoginResult(tok *oauth2.Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored := fromOAuth(tok)
	p.cached = stored
	return p.store.Save(stored)
}

// invalidGrant reports whether an OAuth2 error means the refresh token
// is no longer usable.
func invalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(strings.ToLower(string(re.Body)), "invalid_grant")
	}
	return false
}
