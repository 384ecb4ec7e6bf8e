package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultIssuer is the portal's taxpayer realm.
const DefaultIssuer = "https://iam.efatura.cv/auth/realms/taxpayers"

// DefaultRedirectURL is the out-of-band redirect used by the pasted-code
// login flow.
const DefaultRedirectURL = "urn:ietf:wg:oauth:2.0:oob"

// Discovery is the subset of the OIDC discovery document we use.
type Discovery struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// Discover fetches the issuer's well-known configuration.
func Discover(ctx context.Context, issuer string) (*Discovery, error) {
	url := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build discovery request: %w", err)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch OIDC discovery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery: HTTP %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read OIDC discovery: %w", err)
	}
	var d Discovery
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("decode OIDC discovery: %w", err)
	}
	if d.AuthorizationEndpoint == "" || d.TokenEndpoint == "" {
		return nil, fmt.Errorf("OIDC discovery from %s missing endpoints", url)
	}
	return &d, nil
}

// OAuthConfig builds the oauth2 client configuration from a discovery
// document.
func OAuthConfig(d *Discovery, clientID, clientSecret, redirectURL string, scopes []string) *oauth2.Config {
	if redirectURL == "" {
		redirectURL = DefaultRedirectURL
	}
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile"}
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  d.AuthorizationEndpoint,
			TokenURL: d.TokenEndpoint,
		},
	}
}

// Login is one interactive PKCE login attempt: build the URL, have the
// user authorize, exchange the pasted code.
type Login struct {
	cfg      *oauth2.Config
	verifier string
	state    string
}

// NewLogin prepares a PKCE (S256) authorization request.
func NewLogin(cfg *oauth2.Config) *Login {
	return &Login{
		cfg:      cfg,
		verifier: oauth2.GenerateVerifier(),
		state:    oauth2.GenerateVerifier(),
	}
}

// AuthURL is the browser URL the user must visit.
func (l *Login) AuthURL() string {
	return l.cfg.AuthCodeURL(l.state, oauth2.S256ChallengeOption(l.verifier))
}

// State returns the request's CSRF state value.
func (l *Login) State() string { return l.state }

// Exchange trades the authorization code for tokens using the PKCE
// verifier bound to this login attempt.
func (l *Login) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := l.cfg.Exchange(ctx, strings.TrimSpace(code), oauth2.VerifierOption(l.verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}
