// Package services holds the core orchestration: the sync driver that
// turns a listed date range into table rows, one document at a time.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
	"github.com/storesace-cv/bwb-efatura-docs/internal/core/ports/driven"
	"github.com/storesace-cv/bwb-efatura-docs/internal/diag"
	"github.com/storesace-cv/bwb-efatura-docs/internal/extract"
	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

// errorMessageLimit truncates error-row messages to keep cells readable.
const errorMessageLimit = 500

// defaultProgressEvery is the processed-document cadence of progress
// logging when the run config leaves it unset.
const defaultProgressEvery = 10

// SyncConfig is one run's parameters.
type SyncConfig struct {
	// Start and End bound the listing date range, inclusive.
	Start time.Time
	End   time.Time

	// PageSize is the listing page size.
	PageSize int

	// MaxDocs caps how many documents are processed this run; 0 is
	// unlimited. The cap is checked before starting a document, never
	// mid-document.
	MaxDocs int

	// RewriteExisting reprocesses documents already in the table,
	// replacing their rows.
	RewriteExisting bool

	// SaveEveryDocs and SaveEvery control checkpoint cadence;
	// whichever trips first saves the table.
	SaveEveryDocs int
	SaveEvery     time.Duration

	// ProgressEvery is the processed-document cadence of progress
	// logging; 0 or less picks the default.
	ProgressEvery int
}

// SyncSummary reports what a run did.
type SyncSummary struct {
	Listed          int
	Skipped         int
	DocsAdded       int
	RowsAdded       int
	ErrorRows       int
	DatesBackfilled int
}

// SyncOrchestrator drives one export run: list, resume, fetch, extract,
// append, checkpoint. Processing is strictly sequential; the resume
// ledger's crash-safety contract depends on at most one document being
// in flight.
type SyncOrchestrator struct {
	lister  driven.DocumentLister
	fetcher driven.DocumentFetcher
	store   driven.RowStore
	ledger  driven.ResumeLedger
	diag    *diag.Context
	now     func() time.Time
}

// NewSyncOrchestrator wires the sync driver.
func NewSyncOrchestrator(
	lister driven.DocumentLister,
	fetcher driven.DocumentFetcher,
	store driven.RowStore,
	ledger driven.ResumeLedger,
	dc *diag.Context,
) *SyncOrchestrator {
	return &SyncOrchestrator{
		lister:  lister,
		fetcher: fetcher,
		store:   store,
		ledger:  ledger,
		diag:    dc,
		now:     time.Now,
	}
}

// Run executes one export. The returned summary is valid even when err
// is non-nil: work completed before the failure has been saved.
func (s *SyncOrchestrator) Run(ctx context.Context, cfg SyncConfig) (*SyncSummary, error) {
	summary := &SyncSummary{}

	// 1. List the date range. A listing failure is fatal: without the
	// UID set there is nothing to process.
	listing, err := s.lister.List(ctx, cfg.Start, cfg.End, cfg.PageSize)
	if err != nil {
		return summary, fmt.Errorf("list documents: %w", err)
	}
	summary.Listed = len(listing.Items)
	logger.Info("listed %d documents between %s and %s",
		len(listing.Items), cfg.Start.Format("2006-01-02"), cfg.End.Format("2006-01-02"))
	if len(listing.DateFields) > 0 {
		logger.Debug("date-like listing fields: %v", listing.DateFields)
	}

	// 2. Backfill authorised dates on rows stored before the portal
	// published them.
	dates := make(map[string]string, len(listing.Items))
	for _, item := range listing.Items {
		if item.UID != "" && item.AuthorizedDate != "" {
			dates[item.UID] = item.AuthorizedDate
		}
	}
	summary.DatesBackfilled = s.store.BackfillAuthorizedDates(dates)
	if summary.DatesBackfilled > 0 {
		logger.Info("backfilled authorised date on %d rows", summary.DatesBackfilled)
	}

	// 3. A crash may have left one maybe-partial document behind; its
	// rows are replaced wholesale.
	state := s.ledger.Load()
	resumeUID := state.ResumeUID()
	if resumeUID != "" {
		logger.Warn("previous run interrupted while processing %s, reprocessing it", resumeUID)
	}

	progressEvery := cfg.ProgressEvery
	if progressEvery <= 0 {
		progressEvery = defaultProgressEvery
	}

	processed := 0
	sinceSave := 0
	lastSave := s.now()

	for _, item := range listing.Items {
		if item.UID == "" {
			logger.Warn("listing item without recognisable UID, skipping: %v", item.Raw)
			summary.Skipped++
			continue
		}
		uid := item.UID

		rewrite := cfg.RewriteExisting || uid == resumeUID
		if s.store.HasUID(uid) && !rewrite {
			summary.Skipped++
			continue
		}
		if cfg.MaxDocs > 0 && processed >= cfg.MaxDocs {
			logger.Info("document cap %d reached, stopping", cfg.MaxDocs)
			break
		}
		if ctx.Err() != nil {
			break
		}

		// Ledger ordering is the crash-safety contract: started before
		// any work, completed only after rows exist in the table.
		state.StartedUID = uid
		if err := s.ledger.Save(state); err != nil {
			return summary, fmt.Errorf("record started document: %w", err)
		}

		if rewrite {
			if removed := s.store.DeleteRows(uid); removed > 0 {
				logger.Info("replaced %d existing rows for %s", removed, uid)
			}
		}

		rows, err := s.processDocument(ctx, uid, item.AuthorizedDate)
		if err != nil {
			if isAuthFailure(err) {
				// No completed mark: the document is reprocessed next run.
				return summary, fmt.Errorf("authentication lost at %s: %w", uid, err)
			}
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			s.store.AppendErrorRow(uid, truncate(err.Error(), errorMessageLimit))
			summary.ErrorRows++
			logger.Error("document %s recorded as error row: %v", uid, err)
		} else {
			summary.DocsAdded++
			summary.RowsAdded += rows
		}

		state.CompletedUID = uid
		if err := s.ledger.Save(state); err != nil {
			return summary, fmt.Errorf("record completed document: %w", err)
		}

		processed++
		sinceSave++
		if processed%progressEvery == 0 {
			logger.Info("progress: %d processed, %d rows added, %d errors",
				processed, summary.RowsAdded, summary.ErrorRows)
		}

		if (cfg.SaveEveryDocs > 0 && sinceSave >= cfg.SaveEveryDocs) ||
			(cfg.SaveEvery > 0 && s.now().Sub(lastSave) >= cfg.SaveEvery) {
			if err := s.store.Save(); err != nil {
				return summary, fmt.Errorf("checkpoint save: %w", err)
			}
			logger.Debug("checkpoint saved after %d documents", sinceSave)
			sinceSave = 0
			lastSave = s.now()
		}
	}

	// Unconditional final save; the ledger may trail the table by at
	// most the last checkpoint window.
	if err := s.store.Save(); err != nil {
		return summary, fmt.Errorf("final save: %w", err)
	}

	// A cleanly finished run needs no checkpoint; an interrupted one
	// keeps it for the next run's resume.
	if ctx.Err() == nil {
		if err := s.ledger.Clear(); err != nil {
			logger.Warn("clearing resume checkpoint: %v", err)
		}
	}

	logger.Info("run finished: %d listed, %d skipped, %d documents added, %d rows, %d error rows",
		summary.Listed, summary.Skipped, summary.DocsAdded, summary.RowsAdded, summary.ErrorRows)
	return summary, ctx.Err()
}

// processDocument fetches and extracts one document, following
// references when the body itself has no lines, and appends its rows.
// Returns the number of line rows appended.
func (s *SyncOrchestrator) processDocument(ctx context.Context, uid, efaturaDate string) (int, error) {
	xmlText, err := s.fetcher.FetchXML(ctx, uid)
	if err != nil {
		return 0, err
	}

	root, parsedText, err := extract.Parse(xmlText)
	if err != nil {
		s.diag.DumpBadXML(uid, "unparseable", xmlText)
		return 0, err
	}

	header, lines := extract.Extract(root)

	if len(lines) == 0 {
		lines = s.linesFromReferences(ctx, uid, &header)
	}
	if len(lines) == 0 {
		s.diag.DumpNoLines(uid, parsedText)
		return 0, fmt.Errorf("%w: kind=%s number=%q refs=%v",
			domain.ErrNoLines, header.DocKind, header.DocumentNumber, header.RefUIDs)
	}

	return s.store.AppendLineRows(uid, efaturaDate, &header, lines), nil
}

// linesFromReferences tries each referenced document in order and
// adopts the first one that has line items. The original document keeps
// its own identity; only blank supplier fields are filled in from the
// reference.
func (s *SyncOrchestrator) linesFromReferences(ctx context.Context, uid string, header *domain.HeaderRecord) []domain.LineItem {
	for _, ref := range header.RefUIDs {
		if ref == uid {
			continue
		}
		logger.Info("document %s has no lines, trying referenced document %s", uid, ref)
		xmlText, err := s.fetcher.FetchXML(ctx, ref)
		if err != nil {
			if isAuthFailure(err) || ctx.Err() != nil {
				return nil
			}
			logger.Warn("referenced document %s: %v", ref, err)
			continue
		}
		root, _, err := extract.Parse(xmlText)
		if err != nil {
			logger.Warn("referenced document %s: %v", ref, err)
			continue
		}
		refHeader, refLines := extract.Extract(root)
		if len(refLines) == 0 {
			continue
		}
		if header.SupplierName == "" {
			header.SupplierName = refHeader.SupplierName
		}
		if header.SupplierTaxID == "" {
			header.SupplierTaxID = refHeader.SupplierTaxID
		}
		if header.SupplierAddress == "" {
			header.SupplierAddress = refHeader.SupplierAddress
		}
		logger.Info("adopted %d lines from referenced document %s", len(refLines), ref)
		return refLines
	}
	return nil
}

// isAuthFailure reports whether an error must abort the whole run
// rather than degrade to one error row.
func isAuthFailure(err error) bool {
	return errors.Is(err, domain.ErrAuthRequired) ||
		errors.Is(err, domain.ErrAuthExpired) ||
		errors.Is(err, domain.ErrTokenRefreshFailed)
}

// truncate cuts s to at most n bytes on a rune boundary, so error
// messages with accented text never leave invalid UTF-8 in a cell.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "…"
}
