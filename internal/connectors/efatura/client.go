// Package efatura is the HTTP client for the eFatura portal: listing
// pagination, single-document fetch, and the userinfo preflight. It
// defends against the portal's observed misbehaviour (pagination loops,
// HTML error pages served as 200, technically invalid XML) and maps
// failures onto the domain error taxonomy.
package efatura

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
	"github.com/storesace-cv/bwb-efatura-docs/internal/core/ports/driven"
	"github.com/storesace-cv/bwb-efatura-docs/internal/diag"
	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

const (
	// DefaultServicesBase is the portal's document services host.
	DefaultServicesBase = "https://services.efatura.cv"

	// DefaultIAMBase is the portal's identity host.
	DefaultIAMBase = "https://iam.efatura.cv"

	// userinfoPath is the OIDC userinfo endpoint on the IAM host.
	userinfoPath = "/auth/realms/taxpayers/protocol/openid-connect/userinfo"

	// repositoryHeader carries the tenant/repository code.
	repositoryHeader = "cv-ef-repository-code"

	userAgent = "bwb-export/1.0"

	// maxPages is the absolute listing circuit breaker.
	maxPages = 10000

	// requestRate throttles portal calls. The portal's pagination is
	// already fragile under normal load; one orderly request stream.
	requestRate = 4.0
)

// Config configures a portal client.
type Config struct {
	// ServicesBase overrides the services host (tests).
	ServicesBase string

	// IAMBase overrides the identity host (tests).
	IAMBase string

	// RepoCode is the tenant/repository code sent on every call.
	RepoCode string

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// Retries is the attempt count for transient failures.
	Retries int

	// Backoff is the base retry delay; attempt n sleeps n*Backoff.
	Backoff time.Duration
}

// Client calls the eFatura portal endpoints.
type Client struct {
	http     *http.Client
	tokens   driven.TokenProvider
	limiter  *rate.Limiter
	diag     *diag.Context
	services string
	iam      string
	repoCode string
	retries  int
	backoff  time.Duration
}

var (
	_ driven.DocumentLister  = (*Client)(nil)
	_ driven.DocumentFetcher = (*Client)(nil)
)

// NewClient creates a portal client using the given token provider.
func NewClient(tokens driven.TokenProvider, cfg Config, dc *diag.Context) *Client {
	if cfg.ServicesBase == "" {
		cfg.ServicesBase = DefaultServicesBase
	}
	if cfg.IAMBase == "" {
		cfg.IAMBase = DefaultIAMBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1500 * time.Millisecond
	}
	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		tokens:   tokens,
		limiter:  rate.NewLimiter(rate.Limit(requestRate), 1),
		diag:     dc,
		services: strings.TrimRight(cfg.ServicesBase, "/"),
		iam:      strings.TrimRight(cfg.IAMBase, "/"),
		repoCode: cfg.RepoCode,
		retries:  cfg.Retries,
		backoff:  cfg.Backoff,
	}
}

// get performs one authenticated GET with the bounded retry loop:
// transient transport failures retry with linear backoff, and a
// token-related 401/403 earns exactly one refresh-and-retry before
// escalating to domain.ErrAuthExpired.
func (c *Client) get(ctx context.Context, rawURL, accept string, params url.Values) (*http.Response, []byte, error) {
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	retriedAuth := false
	var lastErr error

	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}

		token, err := c.tokens.GetToken(ctx)
		if err != nil {
			return nil, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", accept)
		if c.repoCode != "" {
			req.Header.Set(repositoryHeader, c.repoCode)
		}

		logger.Debug("GET %s (attempt %d/%d)", rawURL, attempt, c.retries)
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			// Timeouts, connection resets, DNS and TLS failures all
			// surface here; every one of them is worth a retry.
			lastErr = err
			logger.Warn("transport error calling %s (attempt %d/%d): %v", rawURL, attempt, c.retries, err)
			if !sleep(ctx, time.Duration(attempt)*c.backoff) {
				return nil, nil, ctx.Err()
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			logger.Warn("read error from %s (attempt %d/%d): %v", rawURL, attempt, c.retries, readErr)
			if !sleep(ctx, time.Duration(attempt)*c.backoff) {
				return nil, nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			if tokenBody(body) {
				if !retriedAuth {
					retriedAuth = true
					c.tokens.Invalidate()
					logger.Warn("HTTP %d with token complaint from %s; refreshing token and retrying once", resp.StatusCode, rawURL)
					continue
				}
				return nil, nil, fmt.Errorf("%w: HTTP %d after token refresh", domain.ErrAuthExpired, resp.StatusCode)
			}
		}

		return resp, body, nil
	}

	return nil, nil, fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrTransient, rawURL, c.retries, lastErr)
}

// tokenBody reports whether a 401/403 body blames the bearer token.
func tokenBody(body []byte) bool {
	b := strings.ToLower(string(body))
	return strings.Contains(b, "expired") || strings.Contains(b, "invalid_token") || strings.Contains(b, "token")
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
