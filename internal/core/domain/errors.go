package domain

import "errors"

// Domain errors represent the failure taxonomy of a sync run.
// The sync driver dispatches on these with errors.Is; everything not
// matched degrades to a per-document error row.
var (
	// ErrAuthRequired indicates no usable token or refresh path exists.
	// The run must abort and ask the operator to log in again.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthExpired indicates the portal rejected the bearer token.
	// One refresh-and-retry is permitted before escalating.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrTokenRefreshFailed indicates the token refresh grant failed.
	ErrTokenRefreshFailed = errors.New("token refresh failed")

	// ErrTransient indicates a retryable transport failure (timeout,
	// connection reset, TLS handshake).
	ErrTransient = errors.New("transient transport failure")

	// ErrUnexpectedResponse indicates the portal answered with a shape
	// that cannot be the requested resource (HTML/JSON instead of XML,
	// non-200 status).
	ErrUnexpectedResponse = errors.New("unexpected portal response")

	// ErrNoPayload indicates the XML envelope carried no Payload element.
	ErrNoPayload = errors.New("no payload in response envelope")

	// ErrMalformedXML indicates a document failed to parse even after
	// sanitization.
	ErrMalformedXML = errors.New("malformed document XML")

	// ErrNoLines indicates extraction yielded zero line items after
	// exhausting every referenced document.
	ErrNoLines = errors.New("no line items found")

	// ErrPaginationOverflow indicates the listing exceeded the absolute
	// page cap. Unlike loop detection this is fatal, not an early stop.
	ErrPaginationOverflow = errors.New("listing exceeded page cap")

	// ErrSchemaMismatch indicates an existing table header matches
	// neither the current nor any known prior schema.
	ErrSchemaMismatch = errors.New("table schema mismatch")
)
