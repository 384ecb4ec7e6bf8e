// Package extract turns one DFE document's XML into a header record and
// its line items. It is pure: no I/O, no state, deterministic for a
// given input. Everything here is deliberately tolerant; the portal's
// payloads vary in namespaces, element names and completeness.
package extract

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
)

// signatureElements are direct children of the root that must never be
// mistaken for the document body.
var signatureElements = map[string]struct{}{
	"Signature":  {},
	"SignedInfo": {},
	"KeyInfo":    {},
}

// Extract parses a DFE root element into (header, lines). An empty line
// slice is a valid outcome: receipts often carry no lines and only a
// reference to the fiscal document that does.
func Extract(root *etree.Element) (domain.HeaderRecord, []domain.LineItem) {
	header := domain.HeaderRecord{
		DocumentTypeCode: strings.TrimSpace(root.SelectAttrValue("DocumentTypeCode", "")),
	}

	if dt, ok := domain.DocumentTypeByCode(header.DocumentTypeCode); ok {
		header.DocKind = dt.Prefix
		header.DocKindLabel = dt.Label
	}

	docNode := pickDocumentNode(root)
	header.DocNodeName = docNode.Tag

	// No kind from the code attribute: infer it from the element name.
	if header.DocKind == "" {
		if dt, ok := domain.DocumentTypeByElement(docNode.Tag); ok {
			header.DocKind = dt.Prefix
			header.DocKindLabel = dt.Label
		} else if docNode.Tag != "" {
			header.DocKind = docNode.Tag
		} else {
			header.DocKind = "Unknown"
		}
	}

	extractSupplier(&header, root, docNode)

	header.IssueDate = coalesce(
		textAnywhere(docNode, "IssueDate", "IssueDateTime", "AuthorizedDateTime"),
		textAnywhere(root, "IssueDate", "IssueDateTime", "AuthorizedDateTime"),
	)

	header.DocumentNumber = documentNumber(docNode)
	header.RefUIDs = referenceUIDs(docNode)

	lines := scanLines(docNode)
	if len(lines) == 0 && docNode != root {
		lines = scanLines(root)
	}

	return header, lines
}

// pickDocumentNode selects the primary fiscal document node. Many DFEs
// embed FiscalDocument *reference* nodes inside the body; a naive deep
// search picks one of those first and then finds no lines. The schema
// puts the real document as a direct child of the root, so direct
// children are tried first, the deep search is a last resort.
func pickDocumentNode(root *etree.Element) *etree.Element {
	var expected string
	if dt, ok := domain.DocumentTypeByCode(strings.TrimSpace(root.SelectAttrValue("DocumentTypeCode", ""))); ok {
		expected = dt.Element
	}

	// First pass: direct child matching the DocumentTypeCode expectation.
	if expected != "" {
		for _, ch := range root.ChildElements() {
			if _, skip := signatureElements[ch.Tag]; skip {
				continue
			}
			if ch.Tag == expected {
				return ch
			}
		}
	}

	// Second pass: any direct child that is a known document element.
	for _, ch := range root.ChildElements() {
		if _, ok := domain.DocumentTypeByElement(ch.Tag); ok {
			return ch
		}
	}

	// Last resort: deep search for any known document element.
	if found := findFirstByLocal(root, domain.DocumentElements()...); found != nil {
		return found
	}
	return root
}

// extractSupplier fills the emitter name, tax id and address. The party
// node hides under several alternate names, under the document node
// first and the root as fallback.
func extractSupplier(header *domain.HeaderRecord, root, docNode *etree.Element) {
	var emitter *etree.Element
	for _, cand := range []string{"EmitterParty", "SellerParty", "SupplierParty", "AccountingSupplierParty"} {
		if emitter = findFirstByLocal(docNode, cand); emitter != nil {
			break
		}
	}
	if emitter == nil {
		emitter = findFirstByLocal(root, "EmitterParty")
	}
	if emitter == nil {
		return
	}

	header.SupplierName = coalesce(
		textAnywhere(emitter, "Name", "PartyName"),
		textAnywhere(docNode, "EmitterName", "SupplierName"),
	)
	header.SupplierTaxID = coalesce(
		textAnywhere(emitter, "TaxId", "TaxID", "CompanyID", "VatID"),
		textAnywhere(docNode, "TaxId", "TaxID"),
	)
	header.SupplierAddress = supplierAddress(emitter)
}

// supplierAddress assembles the one-line address from the fixed part
// order, keeping only non-empty parts.
func supplierAddress(party *etree.Element) string {
	addr := findFirstByLocal(party, "Address")
	if addr == nil {
		return ""
	}
	var parts []string
	for _, tag := range []string{"Street", "BuildingFloor", "AddressDetail", "City", "PostalCode"} {
		if t := childText(addr, tag); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, ", ")
}

// documentNumber composes "series/number" when both parts exist,
// otherwise falls back through the number-like alternates.
func documentNumber(docNode *etree.Element) string {
	serie := textAnywhere(docNode, "Serie")
	number := textAnywhere(docNode, "DocumentNumber")
	if serie != "" && number != "" {
		return serie + "/" + number
	}
	return coalesce(
		number,
		serie,
		textAnywhere(docNode, "Number", "DocumentId", "DocumentID", "ID"),
	)
}

// referenceUIDs collects UID-shaped text from elements whose local name
// suggests a cross-document reference, in document order, deduplicated.
func referenceUIDs(docNode *etree.Element) []string {
	var refs []string
	seen := make(map[string]struct{})
	walk(docNode, func(el *etree.Element) bool {
		ln := strings.ToLower(el.Tag)
		if strings.Contains(ln, "fiscaldocument") ||
			strings.Contains(ln, "reference") ||
			strings.Contains(ln, "documentreference") ||
			strings.HasSuffix(ln, "document") {
			txt := strings.TrimSpace(el.Text())
			if domain.IsUID(txt) {
				if _, dup := seen[txt]; !dup {
					seen[txt] = struct{}{}
					refs = append(refs, txt)
				}
			}
		}
		return true
	})
	return refs
}

// scanLines walks every Lines container under root and returns the first
// that yields actual line items. Payloads may contain several Lines
// nodes (embedded references included), and the first non-empty one wins.
func scanLines(root *etree.Element) []domain.LineItem {
	var lines []domain.LineItem
	walk(root, func(el *etree.Element) bool {
		if el.Tag != "Lines" {
			return true
		}
		if parsed := parseLines(el); len(parsed) > 0 {
			lines = parsed
			return false
		}
		return true
	})
	return lines
}

// parseLines extracts the line items of one Lines container. Candidate
// selection is tiered: exact Line children, then any direct child whose
// name ends in "Line", then any descendant ending in "Line". The first
// tier producing candidates wins.
func parseLines(linesEl *etree.Element) []domain.LineItem {
	var candidates []*etree.Element

	for _, ch := range linesEl.ChildElements() {
		if ch.Tag == "Line" {
			candidates = append(candidates, ch)
		}
	}
	if len(candidates) == 0 {
		for _, ch := range linesEl.ChildElements() {
			if strings.HasSuffix(strings.ToLower(ch.Tag), "line") {
				candidates = append(candidates, ch)
			}
		}
	}
	if len(candidates) == 0 {
		walk(linesEl, func(el *etree.Element) bool {
			if el != linesEl && strings.HasSuffix(strings.ToLower(el.Tag), "line") {
				candidates = append(candidates, el)
			}
			return true
		})
	}

	out := make([]domain.LineItem, 0, len(candidates))
	for _, line := range candidates {
		out = append(out, parseLine(line))
	}
	return out
}

func parseLine(line *etree.Element) domain.LineItem {
	item := domain.LineItem{}

	qtyEl := findFirstByLocal(line, "Quantity", "InvoicedQuantity", "CreditedQuantity", "DebitedQuantity")
	item.Quantity = parseDecimal(text(qtyEl))
	item.Unit = attrAny(qtyEl, "UnitCode", "unitCode")

	unitPrice := parseDecimal(textAnywhere(line, "Price", "UnitPrice", "PriceAmount"))
	ext := parseDecimal(textAnywhere(line, "PriceExtension", "LineExtensionAmount"))
	net := parseDecimal(textAnywhere(line, "NetTotal", "LineTotal"))
	total := parseDecimal(textAnywhere(line, "Total", "Amount"))
	item.UnitPrice = unitPrice

	itemEl := findFirstByLocal(line, "Item", "Product", "GoodsItem")
	if itemEl != nil {
		item.ItemName = coalesce(
			textAnywhere(itemEl, "Description", "Name", "ItemName"),
			textAnywhere(line, "Description", "Name"),
		)
		item.ItemCode = coalesce(
			textAnywhere(itemEl, "EmitterIdentification", "SellerItemIdentification", "ID", "Code"),
			textAnywhere(line, "EmitterIdentification", "SellerItemIdentification", "ID", "Code"),
		)
	} else {
		item.ItemName = textAnywhere(line, "Description", "Name")
		item.ItemCode = textAnywhere(line, "EmitterIdentification", "SellerItemIdentification", "ID", "Code")
	}

	item.Discount = parseDecimal(textAnywhere(line, "Discount", "DiscountAmount"))
	if !item.Discount.Valid {
		// Derive discount as qty*unit_price minus the extension (or
		// net) total, clamped at zero.
		if ref := firstValid(ext, net); ref.Valid && item.Quantity.Valid && unitPrice.Valid {
			diff := unitPrice.Decimal.Mul(item.Quantity.Decimal).Sub(ref.Decimal)
			if diff.IsNegative() {
				diff = decimal.Zero
			}
			item.Discount = decimal.NullDecimal{Decimal: diff.Round(2), Valid: true}
		}
	}

	item.LineTotal = firstValid(net, ext, total)
	if !item.LineTotal.Valid && item.Quantity.Valid && unitPrice.Valid {
		item.LineTotal = decimal.NullDecimal{
			Decimal: item.Quantity.Decimal.Mul(unitPrice.Decimal).Round(2),
			Valid:   true,
		}
	}

	return item
}

func firstValid(vals ...decimal.NullDecimal) decimal.NullDecimal {
	for _, v := range vals {
		if v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}
