package dataset

import (
	"fmt"

	"github.com/spf13/afero"
	"voice-ledger-go/internal/types"
)

// ConsolidatedStore is the single table of every transcript across runs.
type ConsolidatedStore struct {
	fs   afero.Fs
	path string
}

func NewConsolidatedStore(fs afero.Fs, path string) *ConsolidatedStore {
	return &ConsolidatedStore{fs: fs, path: path}
}

func (s *ConsolidatedStore) Path() string { return s.path }

// Load returns the stored records in order. exists is false when no
// consolidated table has been written yet.
func (s *ConsolidatedStore) Load() (records []types.TranscriptRecord, exists bool, err error) {
	records, err = readRecords(s.fs, s.path)
	if notExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return records, true, nil
}

// Save overwrites the table with records.
func (s *ConsolidatedStore) Save(records []types.TranscriptRecord) error {
	f, err := newRecordWorkbook(records)
	if err != nil {
		return fmt.Errorf("%w: build consolidated: %v", types.ErrStoreUnavailable, err)
	}
	defer f.Close()
	if err := saveWorkbook(s.fs, s.path, f); err != nil {
		return fmt.Errorf("%w: save consolidated: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}
