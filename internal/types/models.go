package types

import (
	"strings"
	"time"
)

// Outcome is the result of one processing attempt as recorded in the ledger.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

const (
	// Unidentified marks metadata that could not be recovered from a filename.
	Unidentified = "unidentified"

	// ErrorMarker prefixes the text of a transcript whose transcription failed.
	ErrorMarker = "ERROR: "

	// TimeLayout is how timestamps are persisted in every store.
	TimeLayout = "2006-01-02 15:04:05"
)

// ParseOutcome maps a persisted outcome string back to an Outcome.
func ParseOutcome(s string) (Outcome, bool) {
	switch Outcome(s) {
	case OutcomeSuccess:
		return OutcomeSuccess, true
	case OutcomeError:
		return OutcomeError, true
	}
	return "", false
}

// InputItem is one source recording discovered by the catalog scanner.
type InputItem struct {
	Identifier   string    `json:"identifier"`
	Path         string    `json:"path"`
	CapturedAt   time.Time `json:"captured_at,omitempty"`
	OperatorCode string    `json:"operator_code"`
	OperatorName string    `json:"operator_name"`
}

// LedgerEntry is one row of the progress ledger.
type LedgerEntry struct {
	Identifier      string    `json:"identifier"`
	ProcessedAt     time.Time `json:"processed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Outcome         Outcome   `json:"outcome"`
}

// TranscriptRecord is the output produced for one InputItem.
type TranscriptRecord struct {
	Identifier      string    `json:"identifier"`
	Text            string    `json:"text"`
	DurationSeconds float64   `json:"duration_seconds"`
	OperatorCode    string    `json:"operator_code"`
	OperatorName    string    `json:"operator_name"`
	SourcePath      string    `json:"source_path"`
	AudioChecksum   string    `json:"audio_checksum,omitempty"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// Failed reports whether the record carries the transcription error marker.
func (r TranscriptRecord) Failed() bool {
	return strings.HasPrefix(r.Text, ErrorMarker)
}

// Outcome derives the ledger outcome of the record.
func (r TranscriptRecord) Outcome() Outcome {
	if r.Failed() {
		return OutcomeError
	}
	return OutcomeSuccess
}

// CategoryRule maps one category name to the keywords that select it.
type CategoryRule struct {
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// RuleTable is the ordered category table. Order is significant: it
// defines the order categories are evaluated and reported in.
type RuleTable []CategoryRule

// Names returns the category names in table order.
func (t RuleTable) Names() []string {
	out := make([]string, 0, len(t))
	for _, r := range t {
		out = append(out, r.Name)
	}
	return out
}

// ClassificationResult is the multi-label assignment for one transcript.
type ClassificationResult struct {
	Identifier string            `json:"identifier"`
	Categories []string          `json:"categories"`
	Snippets   map[string]string `json:"snippets"`
}

// ClassifiedRecord pairs a transcript with its classification.
type ClassifiedRecord struct {
	TranscriptRecord
	Classification ClassificationResult `json:"classification"`
}

// RunReport summarises one transcription run.
type RunReport struct {
	RunID            string `json:"run_id"`
	Scanned          int    `json:"scanned"`
	AlreadyProcessed int    `json:"already_processed"`
	NewlyProcessed   int    `json:"newly_processed"`
	NewlyErrored     int    `json:"newly_errored"`
	Recovered        int    `json:"recovered"`
	Consolidated     int    `json:"consolidated"`
}
