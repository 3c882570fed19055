package types

import "errors"

// Fatal conditions: the pending set or the stores can no longer be trusted.
var (
	ErrSourceUnavailable = errors.New("source location unavailable")
	ErrLedgerUnreadable  = errors.New("ledger unreadable")
	ErrStoreUnavailable  = errors.New("output store unavailable")
)

// Per-item conditions. These are captured as data and never abort a run.
var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrFilenameUnparseable = errors.New("filename unparseable")
)
