package driven

import (
	"context"
	"time"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
)

// ListingResult is what one full listing pass returns.
type ListingResult struct {
	// Items are the deduplicated listing entries in discovery order.
	Items []domain.ListingItem

	// DateFields are listing field names that look like authorised/
	// registered dates, in discovery order. Used for schema exploration
	// and for the "Data eFatura" backfill.
	DateFields []string
}

// DocumentLister pages through the portal's DFE listing endpoint.
type DocumentLister interface {
	// List returns every document in the date range. It must terminate
	// on pagination loops and stagnation; only exceeding the absolute
	// page cap is an error (domain.ErrPaginationOverflow).
	List(ctx context.Context, start, end time.Time, pageSize int) (*ListingResult, error)
}

// DocumentFetcher retrieves one document's XML body.
type DocumentFetcher interface {
	// FetchXML returns the inner document XML for a UID, unwrapping the
	// portal's envelope and unescaping its payload. Auth failures map to
	// domain.ErrAuthExpired / domain.ErrAuthRequired; response-shape
	// anomalies to domain.ErrUnexpectedResponse or domain.ErrNoPayload.
	FetchXML(ctx context.Context, uid string) (string, error)
}
