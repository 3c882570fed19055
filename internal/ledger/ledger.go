// Package ledger is the append-only record of which recordings have been
// attempted. It is the single source of truth for resuming a run.
//
// Rows are never rewritten. A crash can leave duplicate rows for one
// identifier (reprocessed after a crash between the individual record write
// and the ledger append) or a torn final row; both are tolerated on read.
package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"voice-ledger-go/internal/logger"
	"voice-ledger-go/internal/types"
)

var header = []string{"identifier", "processed_at", "duration_seconds", "outcome"}

type Ledger struct {
	fs   afero.Fs
	path string
	log  *logger.Logger
}

func New(fs afero.Fs, path string, log *logger.Logger) *Ledger {
	return &Ledger{fs: fs, path: path, log: log.Component("ledger")}
}

func (l *Ledger) Path() string { return l.path }

// LoadProcessed returns every identifier with at least one recorded outcome.
// Success and error both count. A missing ledger is an empty set; a
// malformed one is ErrLedgerUnreadable.
func (l *Ledger) LoadProcessed() (map[string]struct{}, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		set[e.Identifier] = struct{}{}
	}
	l.log.WithField("rows", len(entries)).WithField("processed", len(set)).Info("ledger loaded")
	return set, nil
}

// Entries returns all well-formed rows in file order.
func (l *Ledger) Entries() ([]types.LedgerEntry, error) {
	data, err := afero.ReadFile(l.fs, l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrLedgerUnreadable, l.path, err)
	}
	keep, unterminated, err := inspectTail(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrLedgerUnreadable, l.path, err)
	}
	if keep < len(data) {
		// The last append never completed; that item gets retried.
		l.log.WithField("bytes", len(data)-keep).Warn("ignoring torn trailing ledger row")
	}
	data = data[:keep]
	if unterminated {
		data = append(data, '\n')
	}
	if len(data) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(header)
	first, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: header: %v", types.ErrLedgerUnreadable, l.path, err)
	}
	for i := range header {
		if first[i] != header[i] {
			return nil, fmt.Errorf("%w: %s: unexpected header %v", types.ErrLedgerUnreadable, l.path, first)
		}
	}

	var out []types.LedgerEntry
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrLedgerUnreadable, l.path, err)
		}
		e, err := parseRow(row)
		if err != nil {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("%w: %s line %d: %v", types.ErrLedgerUnreadable, l.path, line, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func parseRow(row []string) (types.LedgerEntry, error) {
	if row[0] == "" {
		return types.LedgerEntry{}, errors.New("empty identifier")
	}
	at, err := time.ParseInLocation(types.TimeLayout, row[1], time.Local)
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("processed_at: %w", err)
	}
	dur, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("duration_seconds: %w", err)
	}
	outcome, ok := types.ParseOutcome(row[3])
	if !ok {
		return types.LedgerEntry{}, fmt.Errorf("unknown outcome %q", row[3])
	}
	return types.LedgerEntry{Identifier: row[0], ProcessedAt: at, DurationSeconds: dur, Outcome: outcome}, nil
}

var headerLine = strings.Join(header, ",")

// inspectTail decides what to do with a ledger whose last line may lack its
// newline. keep is the length of the trustworthy prefix; unterminated means
// that prefix ends in a complete line missing only its newline. A torn row is
// dropped only when it follows the header; anything else that cannot be
// explained by an interrupted append is an error.
func inspectTail(data []byte) (keep int, unterminated bool, err error) {
	n := len(data)
	if n == 0 || data[n-1] == '\n' {
		return n, false, nil
	}
	cut := bytes.LastIndexByte(data, '\n')
	tail := string(data[cut+1:])
	if cut < 0 {
		switch {
		case tail == headerLine:
			return n, true, nil
		case strings.HasPrefix(headerLine, tail):
			return 0, false, nil
		}
		return 0, false, errors.New("no complete line and not a ledger header")
	}
	if first := string(data[:bytes.IndexByte(data, '\n')]); strings.TrimSuffix(first, "\r") != headerLine {
		return 0, false, fmt.Errorf("unexpected header %q", first)
	}
	if completeRow(tail) {
		return n, true, nil
	}
	return cut + 1, false, nil
}

// completeRow reports whether line is a whole, valid ledger row.
func completeRow(line string) bool {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = len(header)
	row, err := r.Read()
	if err != nil {
		return false
	}
	_, err = parseRow(row)
	return err == nil
}

// Record durably appends one entry, writing the header on first use. A torn
// row left by an interrupted append is cut off first.
func (l *Ledger) Record(e types.LedgerEntry) error {
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: ledger dir: %v", types.ErrStoreUnavailable, err)
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open ledger: %v", types.ErrStoreUnavailable, err)
	}
	defer f.Close()

	size, unterminated, err := l.repairTail(f)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if unterminated {
		buf.WriteByte('\n')
	}
	w := csv.NewWriter(&buf)
	if size == 0 {
		_ = w.Write(header)
	}
	_ = w.Write([]string{
		e.Identifier,
		e.ProcessedAt.Format(types.TimeLayout),
		strconv.FormatFloat(e.DurationSeconds, 'f', -1, 64),
		string(e.Outcome),
	})
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: encode ledger row: %v", types.ErrStoreUnavailable, err)
	}

	// One write call per row keeps a crash from interleaving partial rows.
	if _, err := f.WriteAt(buf.Bytes(), size); err != nil {
		return fmt.Errorf("%w: append ledger: %v", types.ErrStoreUnavailable, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync ledger: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

// repairTail truncates f to its trustworthy prefix and returns its size. A
// ledger that is not a ledger is left untouched and reported unreadable.
func (l *Ledger) repairTail(f afero.File) (size int64, unterminated bool, err error) {
	st, err := f.Stat()
	if err != nil {
		return 0, false, fmt.Errorf("%w: stat ledger: %v", types.ErrStoreUnavailable, err)
	}
	if st.Size() == 0 {
		return 0, false, nil
	}
	data := make([]byte, st.Size())
	if _, err := f.ReadAt(data, 0); err != nil && err != io.EOF {
		return 0, false, fmt.Errorf("%w: read ledger: %v", types.ErrStoreUnavailable, err)
	}
	keep, unterminated, err := inspectTail(data)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", types.ErrLedgerUnreadable, l.path, err)
	}
	if keep < len(data) {
		if err := f.Truncate(int64(keep)); err != nil {
			return 0, false, fmt.Errorf("%w: truncate torn ledger row: %v", types.ErrStoreUnavailable, err)
		}
		l.log.WithField("dropped_bytes", len(data)-keep).Warn("truncated torn trailing ledger row")
	}
	if unterminated {
		l.log.Info("terminating last ledger row")
	}
	return int64(keep), unterminated, nil
}
