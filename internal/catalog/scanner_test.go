package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"voice-ledger-go/internal/logger"
	"voice-ledger-go/internal/types"
)

func newScanner(t *testing.T, fs afero.Fs) *Scanner {
	t.Helper()
	schema, err := NewFilenameSchema("")
	require.NoError(t, err)
	return NewScanner(fs, schema, []string{".mp3", "wav"}, map[string]string{"bioc5318": "Joelma"}, logger.Discard())
}

func TestScan_FiltersAndSorts(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{
		"2025_05_14_10_00_00_bioc5316_in.mp3",
		"2025_05_14_09_31_07_bioc5318_out.MP3",
		"notes.txt",
		"garbled-name.wav",
	} {
		require.NoError(t, afero.WriteFile(fs, "/audio/"+name, []byte("x"), 0o644))
	}
	require.NoError(t, fs.MkdirAll("/audio/sub.mp3", 0o755))

	items, err := newScanner(t, fs).Scan("/audio")
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "2025_05_14_09_31_07_bioc5318_out.MP3", items[0].Identifier)
	assert.Equal(t, "bioc5318", items[0].OperatorCode)
	assert.Equal(t, "Joelma", items[0].OperatorName)
	assert.Equal(t, time.Date(2025, 5, 14, 9, 31, 7, 0, time.Local), items[0].CapturedAt)
	assert.Equal(t, "/audio/2025_05_14_09_31_07_bioc5318_out.MP3", items[0].Path)

	assert.Equal(t, "bioc5316", items[1].OperatorCode)
	assert.Equal(t, types.Unidentified, items[1].OperatorName)

	assert.Equal(t, "garbled-name.wav", items[2].Identifier)
	assert.True(t, items[2].CapturedAt.IsZero())
	assert.Equal(t, types.Unidentified, items[2].OperatorCode)
}

func TestScan_MissingDir(t *testing.T) {
	_, err := newScanner(t, afero.NewMemMapFs()).Scan("/nope")
	assert.True(t, errors.Is(err, types.ErrSourceUnavailable))
}

func TestFilenameSchema_Parse(t *testing.T) {
	schema, err := NewFilenameSchema("")
	require.NoError(t, err)

	md, err := schema.Parse("2025_13_40_09_31_07_bioc5318.mp3")
	assert.ErrorIs(t, err, types.ErrFilenameUnparseable)
	assert.Equal(t, "bioc5318", md.OperatorCode)
	assert.True(t, md.CapturedAt.IsZero())

	md, err = schema.Parse("recording_bioc5311_2025.mp3")
	assert.ErrorIs(t, err, types.ErrFilenameUnparseable)
	assert.Equal(t, "bioc5311", md.OperatorCode)
}

func TestNewFilenameSchema_Validation(t *testing.T) {
	_, err := NewFilenameSchema(`(`)
	assert.Error(t, err)

	_, err = NewFilenameSchema(`^(?P<year>\d{4})`)
	assert.ErrorContains(t, err, "operator")

	_, err = NewFilenameSchema(`^(?P<year>\d{4})_(?P<operator>\w+)`)
	assert.ErrorContains(t, err, "time groups")

	s, err := NewFilenameSchema(`^call-(?P<operator>\w+)\.`)
	require.NoError(t, err)
	md, err := s.Parse("call-desk7.wav")
	require.NoError(t, err)
	assert.Equal(t, "desk7", md.OperatorCode)
	assert.True(t, md.CapturedAt.IsZero())
}
