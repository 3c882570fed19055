// Package catalog discovers recordings in the source directory.
package catalog

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"voice-ledger-go/internal/logger"
	"voice-ledger-go/internal/types"
)

// Scanner lists recognised audio files and derives an InputItem per file.
type Scanner struct {
	fs         afero.Fs
	schema     *FilenameSchema
	extensions map[string]bool
	operators  map[string]string
	log        *logger.Logger
}

func NewScanner(fs afero.Fs, schema *FilenameSchema, extensions []string, operators map[string]string, log *logger.Logger) *Scanner {
	ext := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		ext[e] = true
	}
	return &Scanner{
		fs:         fs,
		schema:     schema,
		extensions: ext,
		operators:  operators,
		log:        log.Component("catalog"),
	}
}

// Scan returns one item per recognised file in dir, sorted by name. Only an
// unreadable dir is an error; bad file names degrade the item's metadata.
func (s *Scanner) Scan(dir string) ([]types.InputItem, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrSourceUnavailable, dir, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	var out []types.InputItem
	for _, fi := range infos {
		if fi.IsDir() || !s.extensions[strings.ToLower(filepath.Ext(fi.Name()))] {
			continue
		}
		out = append(out, s.item(dir, fi.Name()))
	}
	s.log.WithField("source_dir", dir).WithField("found", len(out)).Info("catalog scanned")
	return out, nil
}

func (s *Scanner) item(dir, name string) types.InputItem {
	md, err := s.schema.Parse(name)
	if err != nil {
		s.log.WithError(err).WithField("identifier", name).Debug("filename metadata degraded")
	}
	opName := types.Unidentified
	if n, ok := s.operators[md.OperatorCode]; ok {
		opName = n
	}
	return types.InputItem{
		Identifier:   name,
		Path:         filepath.Join(dir, name),
		CapturedAt:   md.CapturedAt,
		OperatorCode: md.OperatorCode,
		OperatorName: opName,
	}
}
