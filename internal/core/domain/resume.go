package domain

// ResumeState is the durable started/completed checkpoint written beside
// the table file. The driver sets StartedUID before any work on a
// document and CompletedUID only after its rows are in the table, so a
// crash leaves at most one suspect UID.
type ResumeState struct {
	StartedUID   string `json:"started_uid,omitempty"`
	CompletedUID string `json:"completed_uid,omitempty"`
	TS           string `json:"ts,omitempty"`
}

// ResumeUID returns the UID whose rows must be rewritten after a crash:
// the started document that was never marked completed. Returns "" when
// the previous run shut down cleanly.
func (s ResumeState) ResumeUID() string {
	if s.StartedUID != "" && s.StartedUID != s.CompletedUID {
		return s.StartedUID
	}
	return ""
}
