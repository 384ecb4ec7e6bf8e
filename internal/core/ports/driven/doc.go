// Package driven defines the interfaces the sync service calls out to.
//
// Core services depend on these interfaces; the adapters under
// internal/adapters/driven and internal/connectors implement them.
//
//   - TokenProvider: valid bearer tokens for portal calls
//   - DocumentLister / DocumentFetcher: the portal REST endpoints
//   - RowStore: the persistent spreadsheet table
//   - ResumeLedger: the crash-recovery checkpoint file
//
// Import rules: this package may import domain only.
package driven
