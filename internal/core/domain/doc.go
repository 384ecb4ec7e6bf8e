// Package domain defines the core entities of the eFatura export:
//
//   - HeaderRecord / LineItem: what the extractor produces per document
//   - DocumentType: the portal's fixed DocumentTypeCode table
//   - ResumeState: the crash-recovery checkpoint
//   - the sentinel errors the sync driver dispatches on
//
// Domain sits at the centre: it performs no I/O and imports nothing from
// the rest of internal/. Other packages depend on domain, never the
// reverse.
package domain
