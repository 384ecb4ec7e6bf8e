package driven

import "github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"

// ResumeLedger is the durable started/completed checkpoint. Load is
// forgiving (a corrupt file reads as a clean state); Save must be atomic
// so a crash during the write never loses the previous checkpoint.
type ResumeLedger interface {
	Load() domain.ResumeState
	Save(state domain.ResumeState) error

	// Clear removes the checkpoint after a cleanly finished run.
	// Clearing an already-absent checkpoint is not an error.
	Clear() error
}
