package dataset

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"voice-ledger-go/internal/types"
)

// IndividualStore keeps one workbook per recording, named after its
// identifier, so a crash never loses work that already completed.
type IndividualStore struct {
	fs  afero.Fs
	dir string
}

func NewIndividualStore(fs afero.Fs, dir string) *IndividualStore {
	return &IndividualStore{fs: fs, dir: dir}
}

func (s *IndividualStore) path(identifier string) string {
	return filepath.Join(s.dir, filepath.Base(identifier)+".xlsx")
}

// Put writes rec, replacing any earlier workbook for the same identifier.
func (s *IndividualStore) Put(rec types.TranscriptRecord) error {
	f, err := newRecordWorkbook([]types.TranscriptRecord{rec})
	if err != nil {
		return fmt.Errorf("%w: build %s: %v", types.ErrStoreUnavailable, rec.Identifier, err)
	}
	defer f.Close()
	if err := saveWorkbook(s.fs, s.path(rec.Identifier), f); err != nil {
		return fmt.Errorf("%w: save %s: %v", types.ErrStoreUnavailable, rec.Identifier, err)
	}
	return nil
}

// Get loads the record for identifier. ok is false when none was written.
func (s *IndividualStore) Get(identifier string) (rec types.TranscriptRecord, ok bool, err error) {
	records, err := readRecords(s.fs, s.path(identifier))
	if notExist(err) {
		return types.TranscriptRecord{}, false, nil
	}
	if err != nil {
		return types.TranscriptRecord{}, false, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	for _, r := range records {
		if r.Identifier == identifier {
			return r, true, nil
		}
	}
	return types.TranscriptRecord{}, false, nil
}

// Identifiers lists the identifiers that have a stored workbook, skipping
// leftover temp files and office lock files.
func (s *IndividualStore) Identifiers() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if notExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	var out []string
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || !strings.HasSuffix(name, ".xlsx") || strings.HasPrefix(name, "~$") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".xlsx"))
	}
	return out, nil
}
