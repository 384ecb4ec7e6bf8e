package driven

import "github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"

// RowStore is the persistent spreadsheet-like table. One line item maps
// to one row; a document that could not be extracted maps to exactly one
// error row. Rows are never merged: reprocessing a UID means delete all
// of its rows, then reinsert.
type RowStore interface {
	// UIDs returns every UID currently present in the table.
	UIDs() map[string]struct{}

	// HasUID reports whether any row exists for the UID.
	HasUID(uid string) bool

	// DeleteRows removes every row for a UID and returns the count.
	DeleteRows(uid string) int

	// AppendErrorRow appends the single error row for a UID.
	AppendErrorRow(uid, message string)

	// AppendLineRows appends one row per line item, denormalising the
	// header into each. Returns the number of rows appended.
	AppendLineRows(uid, efaturaDate string, header *domain.HeaderRecord, lines []domain.LineItem) int

	// BackfillAuthorizedDates fills the "Data eFatura" column where
	// blank, from listed authorised dates. Returns rows updated.
	BackfillAuthorizedDates(dates map[string]string) int

	// Save persists the table atomically (temp file + rename).
	Save() error
}
