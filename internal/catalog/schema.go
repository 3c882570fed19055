package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"voice-ledger-go/internal/types"
)

// DefaultFilenamePattern matches names like
// 2025_05_14_09_31_07_bioc5318_out_5511999990000.mp3.
const DefaultFilenamePattern = `^(?P<year>\d{4})_(?P<month>\d{2})_(?P<day>\d{2})_(?P<hour>\d{2})_(?P<minute>\d{2})_(?P<second>\d{2})_(?P<operator>[A-Za-z]+\d+)`

// fallbackOperator finds an operator code anywhere in the name when the
// positional layout does not match.
var fallbackOperator = regexp.MustCompile(`bioc\d{4}`)

var timeGroups = []string{"year", "month", "day", "hour", "minute", "second"}

// FilenameSchema extracts capture time and operator code from a file name.
type FilenameSchema struct {
	re       *regexp.Regexp
	groups   map[string]int
	location *time.Location
}

// NewFilenameSchema compiles pattern and checks that it carries the named
// groups the scanner reads. The operator group is required; the time groups
// are optional but must be either all present or all absent.
func NewFilenameSchema(pattern string) (*FilenameSchema, error) {
	if pattern == "" {
		pattern = DefaultFilenamePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("filename pattern: %w", err)
	}
	groups := map[string]int{}
	for i, name := range re.SubexpNames() {
		if name != "" {
			groups[name] = i
		}
	}
	if _, ok := groups["operator"]; !ok {
		return nil, fmt.Errorf("filename pattern: missing named group %q", "operator")
	}
	present := 0
	for _, g := range timeGroups {
		if _, ok := groups[g]; ok {
			present++
		}
	}
	if present != 0 && present != len(timeGroups) {
		return nil, fmt.Errorf("filename pattern: time groups must be all of %v or none", timeGroups)
	}
	return &FilenameSchema{re: re, groups: groups, location: time.Local}, nil
}

// Metadata is what a file name yields.
type Metadata struct {
	CapturedAt   time.Time
	OperatorCode string
}

// Parse returns the metadata of name. A name that does not fully match still
// yields whatever can be recovered, plus ErrFilenameUnparseable.
func (s *FilenameSchema) Parse(name string) (Metadata, error) {
	md := Metadata{OperatorCode: types.Unidentified}
	m := s.re.FindStringSubmatch(name)
	if m == nil {
		if code := fallbackOperator.FindString(name); code != "" {
			md.OperatorCode = code
		}
		return md, fmt.Errorf("%w: %s", types.ErrFilenameUnparseable, name)
	}
	if code := m[s.groups["operator"]]; code != "" {
		md.OperatorCode = code
	}
	if _, ok := s.groups["year"]; !ok {
		return md, nil
	}
	var parts [6]int
	for i, g := range timeGroups {
		n, err := strconv.Atoi(m[s.groups[g]])
		if err != nil {
			return md, fmt.Errorf("%w: %s: %s", types.ErrFilenameUnparseable, name, g)
		}
		parts[i] = n
	}
	t := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], 0, s.location)
	// time.Date normalises out-of-range values; reject them instead.
	if t.Month() != time.Month(parts[1]) || t.Day() != parts[2] || t.Hour() != parts[3] ||
		t.Minute() != parts[4] || t.Second() != parts[5] {
		return md, fmt.Errorf("%w: %s: invalid timestamp", types.ErrFilenameUnparseable, name)
	}
	md.CapturedAt = t
	return md, nil
}
