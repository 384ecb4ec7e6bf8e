package domain

import (
	"regexp"
	"strings"
)

// DocumentType describes one entry of the portal's DocumentTypeCode table.
// The DFE root carries the code; the primary content element is a direct
// child whose name matches Element.
type DocumentType struct {
	// Code is the DocumentTypeCode root attribute value ("1".."9").
	Code string

	// Element is the expected primary content element local name.
	Element string

	// Prefix is the document kind prefix used in document numbers.
	Prefix string

	// Label is the human-readable Portuguese kind label.
	Label string
}

// DocumentTypes is the fixed DocumentTypeCode table for the Cabo Verde
// portal. Order matches the code values.
var DocumentTypes = []DocumentType{
	{Code: "1", Element: "Invoice", Prefix: "FTE", Label: "Fatura Eletrónica"},
	{Code: "2", Element: "InvoiceReceipt", Prefix: "FRE", Label: "Fatura Recibo Eletrónica"},
	{Code: "3", Element: "SalesReceipt", Prefix: "TVE", Label: "Talão de Venda Eletrónico"},
	{Code: "4", Element: "Receipt", Prefix: "RCE", Label: "Recibo Eletrónico"},
	{Code: "5", Element: "CreditNote", Prefix: "NCE", Label: "Nota de Crédito Eletrónica"},
	{Code: "6", Element: "DebitNote", Prefix: "NDE", Label: "Nota de Débito Eletrónica"},
	{Code: "7", Element: "Transport", Prefix: "DTE", Label: "Documento de Transporte Eletrónico"},
	{Code: "8", Element: "ReturnNote", Prefix: "DVE", Label: "Nota de Devolução Eletrónica"},
	{Code: "9", Element: "RegistrationNote", Prefix: "NLE", Label: "Nota de Lançamento Eletrónica"},
}

// prefixLabels maps document-number prefixes to kind labels. Electronic
// prefixes come from DocumentTypes; the rest cover legacy Portuguese
// document numbers seen in older payloads.
var prefixLabels = map[string]string{
	"FT": "Factura",
	"FS": "Ticket",
	"FR": "Factura-Recibo",
	"RC": "Recibo",
	"NC": "Nota de Crédito",
	"ND": "Nota de Débito",
	"GR": "Guia de Remessa",
	"OR": "Orçamento",
}

func init() {
	for _, dt := range DocumentTypes {
		prefixLabels[dt.Prefix] = dt.Label
	}
}

// DocumentTypeByCode resolves a DocumentTypeCode attribute value.
func DocumentTypeByCode(code string) (DocumentType, bool) {
	for _, dt := range DocumentTypes {
		if dt.Code == code {
			return dt, true
		}
	}
	return DocumentType{}, false
}

// DocumentTypeByElement resolves a primary content element local name.
func DocumentTypeByElement(element string) (DocumentType, bool) {
	for _, dt := range DocumentTypes {
		if dt.Element == element {
			return dt, true
		}
	}
	return DocumentType{}, false
}

// DocumentElements returns the known primary content element names.
func DocumentElements() []string {
	out := make([]string, 0, len(DocumentTypes))
	for _, dt := range DocumentTypes {
		out = append(out, dt.Element)
	}
	return out
}

var docNumberPrefixRe = regexp.MustCompile(`^\s*([A-Za-z]{1,4})\b`)

// InferDocumentLabel infers the "Tipo de Documento" value from a document
// number prefix, falling back to the document kind. Best effort: returns
// "" when nothing matches.
func InferDocumentLabel(documentNumber, docKind string) string {
	if m := docNumberPrefixRe.FindStringSubmatch(documentNumber); m != nil {
		if label, ok := prefixLabels[strings.ToUpper(m[1])]; ok {
			return label
		}
	}
	switch strings.ToLower(strings.TrimSpace(docKind)) {
	case "":
		return ""
	case "invoice":
		return "Factura"
	case "receipt":
		return "Recibo"
	}
	return docKind
}
