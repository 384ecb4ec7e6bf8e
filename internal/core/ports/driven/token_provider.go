package driven

import "context"

// TokenProvider provides access tokens for authenticated portal calls.
// Implementations handle refresh transparently; when no valid token or
// refresh path exists they return domain.ErrAuthRequired.
type TokenProvider interface {
	// GetToken returns a currently valid access token.
	GetToken(ctx context.Context) (string, error)

	// Invalidate discards any cached token so the next GetToken forces a
	// refresh. The portal client calls this once after a 401/403 before
	// its single permitted auth retry.
	Invalidate()
}
