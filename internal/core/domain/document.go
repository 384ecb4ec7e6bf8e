package domain

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// uidPattern matches portal document identifiers: two uppercase letters
// followed by at least ten digits (e.g. "CV1234567890123").
var uidPattern = regexp.MustCompile(`^[A-Z]{2}\d{10,}$`)

// IsUID reports whether s is a well-formed portal document identifier.
func IsUID(s string) bool {
	return uidPattern.MatchString(s)
}

// HeaderRecord holds the document-level fields shared by every row a
// document produces. It is built once per document by the extractor and
// denormalised into each line row.
type HeaderRecord struct {
	// SupplierName is the emitter/seller party name.
	SupplierName string

	// SupplierTaxID is the emitter tax identifier (NIF).
	SupplierTaxID string

	// SupplierAddress is the assembled one-line address.
	SupplierAddress string

	// IssueDate is the document issue date as found in the XML.
	IssueDate string

	// DocumentNumber is the document number, or "series/number" when the
	// payload splits the two.
	DocumentNumber string

	// DocumentTypeCode is the raw DocumentTypeCode attribute of the root.
	DocumentTypeCode string

	// DocKind is the document kind prefix (FTE, RCE, NCE, ...) resolved
	// from the type code or the primary element name.
	DocKind string

	// DocKindLabel is the human-readable kind label.
	DocKindLabel string

	// DocNodeName is the local name of the primary content element that
	// was actually selected.
	DocNodeName string

	// RefUIDs are referenced document identifiers in document order,
	// deduplicated. Receipts use these to point at the fiscal document
	// carrying the lines.
	RefUIDs []string
}

// RefUID returns the primary referenced UID, or "" when there is none.
func (h *HeaderRecord) RefUID() string {
	if len(h.RefUIDs) == 0 {
		return ""
	}
	return h.RefUIDs[0]
}

// LineItem is one purchased/sold item line within a document.
// All numeric fields are nullable: absence in the payload is legitimate.
type LineItem struct {
	// ItemCode is the supplier's article code.
	ItemCode string

	// ItemName is the article description.
	ItemName string

	// Quantity is the invoiced/credited/debited quantity.
	Quantity decimal.NullDecimal

	// Unit is the unit-of-measure code attached to the quantity.
	Unit string

	// UnitPrice is the per-unit price.
	UnitPrice decimal.NullDecimal

	// Discount is the explicit discount, or the derived
	// quantity*unit_price minus line-total difference when absent.
	Discount decimal.NullDecimal

	// LineTotal is the line total chosen by the documented priority:
	// net total, extension amount, generic total, quantity*unit_price.
	LineTotal decimal.NullDecimal
}

// ListingItem is one entry of the portal's document listing.
type ListingItem struct {
	// UID is the document identifier extracted from the raw item.
	UID string

	// AuthorizedDate is the portal-authorised ("Data eFatura") date,
	// best effort; empty when the listing carried none.
	AuthorizedDate string

	// Raw is the original JSON object for the item.
	Raw map[string]any
}
