// Package ledger persists the crash-safe resume state next to the
// output table. The ledger is written twice per document (before and
// after processing), so a crash leaves behind exactly which document was
// in flight.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
	"github.com/storesace-cv/bwb-efatura-docs/internal/core/ports/driven"
	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

// FileLedger stores the resume state as a small JSON file.
type FileLedger struct {
	path string
}

var _ driven.ResumeLedger = (*FileLedger)(nil)

// New creates a ledger persisted at path.
func New(path string) *FileLedger {
	return &FileLedger{path: path}
}

// ForTable derives the ledger path from the output table path, keeping
// the two files side by side.
func ForTable(tablePath string) *FileLedger {
	return New(tablePath + ".resume.json")
}

// Path returns the ledger file location.
func (l *FileLedger) Path() string { return l.path }

// Load reads the persisted state. A missing file means a fresh run; a
// corrupt file is logged and treated the same, never aborting the run.
func (l *FileLedger) Load() domain.ResumeState {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("resume ledger %s unreadable, starting fresh: %v", l.path, err)
		}
		return domain.ResumeState{}
	}
	var state domain.ResumeState
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("resume ledger %s corrupt, starting fresh: %v", l.path, err)
		return domain.ResumeState{}
	}
	return state
}

// Save writes the state atomically via a temp file and rename, stamping
// the write time.
func (l *FileLedger) Save(state domain.ResumeState) error {
	state.TS = time.Now().Format(time.RFC3339)
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode resume state: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write resume state: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace resume state: %w", err)
	}
	return nil
}

// Clear removes the ledger file after a fully completed run.
func (l *FileLedger) Clear() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove resume state: %w", err)
	}
	return nil
}
