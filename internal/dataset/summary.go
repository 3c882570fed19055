package dataset

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
	"voice-ledger-go/internal/aggregator"
	"voice-ledger-go/internal/types"
)

const summarySheet = "Summary"

var classifiedHeader = append(append([]string{}, recordHeader...), "categories", "snippets")

// ClassifiedStore is the classification output. Every run replaces it.
type ClassifiedStore struct {
	fs   afero.Fs
	path string
}

func NewClassifiedStore(fs afero.Fs, path string) *ClassifiedStore {
	return &ClassifiedStore{fs: fs, path: path}
}

func (s *ClassifiedStore) Path() string { return s.path }

// Save writes every classified record plus a per-category summary sheet.
func (s *ClassifiedStore) Save(records []types.ClassifiedRecord, ins aggregator.Insight) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := s.fill(f, records, ins); err != nil {
		return fmt.Errorf("%w: build classified: %v", types.ErrStoreUnavailable, err)
	}
	if err := saveWorkbook(s.fs, s.path, f); err != nil {
		return fmt.Errorf("%w: save classified: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ClassifiedStore) fill(f *excelize.File, records []types.ClassifiedRecord, ins aggregator.Insight) error {
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return err
	}
	rows := make([][]any, len(records))
	for i, r := range records {
		snippets, err := json.Marshal(r.Classification.Snippets)
		if err != nil {
			return fmt.Errorf("encode snippets %s: %w", r.Identifier, err)
		}
		rows[i] = append(recordRow(r.TranscriptRecord), strings.Join(r.Classification.Categories, ", "), string(snippets))
	}
	if err := writeRows(f, sheetName, classifiedHeader, len(rows), func(i int) []any { return rows[i] }); err != nil {
		return err
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	return writeRows(f, summarySheet, []string{"category", "calls", "share"}, len(ins.Order), func(i int) []any {
		c := ins.Order[i]
		return []any{c, ins.CategoryCounts[c], ins.CategoryShare[c]}
	})
}

// Load reads back the classification table.
func (s *ClassifiedStore) Load() ([]types.ClassifiedRecord, error) {
	sh, err := loadSheet(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	records, raw, err := sh.records()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	out := make([]types.ClassifiedRecord, 0, len(records))
	for i, rec := range records {
		cr := types.ClassifiedRecord{TranscriptRecord: rec}
		cr.Classification.Identifier = rec.Identifier
		if v := sh.cell(raw[i], "categories"); v != "" {
			cr.Classification.Categories = strings.Split(v, ", ")
		}
		if v := sh.cell(raw[i], "snippets"); v != "" {
			if err := json.Unmarshal([]byte(v), &cr.Classification.Snippets); err != nil {
				return nil, fmt.Errorf("%w: snippets of %s: %v", types.ErrStoreUnavailable, rec.Identifier, err)
			}
		}
		out = append(out, cr)
	}
	return out, nil
}
