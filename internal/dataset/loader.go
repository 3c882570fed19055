// Package dataset persists transcript records as xlsx workbooks: one file per
// recording, one consolidated table, and the classified table.
package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
	"voice-ledger-go/internal/types"
)

const sheetName = "Transcripts"

// Columns of a transcript row, in workbook order.
var recordHeader = []string{
	"identifier",
	"text",
	"duration_seconds",
	"operator_code",
	"operator_name",
	"source_path",
	"audio_checksum",
	"processed_at",
}

func recordRow(r types.TranscriptRecord) []any {
	return []any{
		r.Identifier,
		cellText(r.Text),
		r.DurationSeconds,
		r.OperatorCode,
		r.OperatorName,
		r.SourcePath,
		r.AudioChecksum,
		r.ProcessedAt.Format(types.TimeLayout),
	}
}

// cellText clips s to the per-cell character limit of the xlsx format.
func cellText(s string) string {
	if utf8.RuneCountInString(s) <= excelize.TotalCellChars {
		return s
	}
	return string([]rune(s)[:excelize.TotalCellChars])
}

// sheet is the first worksheet of a workbook with its columns indexed by
// lower-cased header name.
type sheet struct {
	path string
	idx  map[string]int
	rows [][]string
}

func loadSheet(fs afero.Fs, path string) (sheet, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return sheet{}, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return sheet{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return sheet{}, fmt.Errorf("%s: no sheets", path)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return sheet{}, fmt.Errorf("read rows %s: %w", path, err)
	}
	if len(rows) == 0 {
		return sheet{}, fmt.Errorf("%s: missing header row", path)
	}
	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return sheet{path: path, idx: idx, rows: rows[1:]}, nil
}

func (s sheet) cell(row []string, name string) string {
	i, ok := s.idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// records parses every data row with an identifier and returns them with
// the raw cells they came from. Columns are located by header name so extra
// or reordered columns are tolerated; identifier and text are required.
func (s sheet) records() ([]types.TranscriptRecord, [][]string, error) {
	for _, required := range []string{"identifier", "text"} {
		if _, ok := s.idx[required]; !ok {
			return nil, nil, fmt.Errorf("%s: missing column %q", s.path, required)
		}
	}
	var out []types.TranscriptRecord
	var raw [][]string
	for _, row := range s.rows {
		id := strings.TrimSpace(s.cell(row, "identifier"))
		if id == "" {
			continue
		}
		rec := types.TranscriptRecord{
			Identifier:    id,
			Text:          s.cell(row, "text"),
			OperatorCode:  s.cell(row, "operator_code"),
			OperatorName:  s.cell(row, "operator_name"),
			SourcePath:    s.cell(row, "source_path"),
			AudioChecksum: s.cell(row, "audio_checksum"),
		}
		var err error
		if v := s.cell(row, "duration_seconds"); v != "" {
			if rec.DurationSeconds, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, nil, fmt.Errorf("%s: %s: duration_seconds %q: %w", s.path, id, v, err)
			}
		}
		if v := s.cell(row, "processed_at"); v != "" {
			if rec.ProcessedAt, err = time.ParseInLocation(types.TimeLayout, v, time.Local); err != nil {
				return nil, nil, fmt.Errorf("%s: %s: processed_at %q: %w", s.path, id, v, err)
			}
		}
		out = append(out, rec)
		raw = append(raw, row)
	}
	return out, raw, nil
}

func readRecords(fs afero.Fs, path string) ([]types.TranscriptRecord, error) {
	sh, err := loadSheet(fs, path)
	if err != nil {
		return nil, err
	}
	records, _, err := sh.records()
	return records, err
}

// newRecordWorkbook builds a workbook holding records under the standard header.
func newRecordWorkbook(records []types.TranscriptRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeRows(f, sheetName, recordHeader, len(records), func(i int) []any {
		return recordRow(records[i])
	}); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeRows(f *excelize.File, name string, header []string, n int, row func(int) []any) error {
	hdr := make([]any, len(header))
	for i, h := range header {
		hdr[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := 0; i < n; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row(i)
		if err := f.SetSheetRow(name, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return nil
}

// saveWorkbook writes f to path through a temp file and a rename, so readers
// never observe a half-written workbook.
func saveWorkbook(fs afero.Fs, path string, f *excelize.File) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	out, err := fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.WriteTo(out); err != nil {
		out.Close()
		_ = fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return fs.Rename(tmp, path)
}

func notExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
