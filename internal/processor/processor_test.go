package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"voice-ledger-go/internal/dataset"
	"voice-ledger-go/internal/ledger"
	"voice-ledger-go/internal/logger"
	"voice-ledger-go/internal/transcription"
	"voice-ledger-go/internal/types"
)

type mockTranscriber struct{ mock.Mock }

func (m *mockTranscriber) Transcribe(ctx context.Context, a transcription.Audio) (transcription.Result, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(transcription.Result), args.Error(1)
}

type blockingTranscriber struct{}

func (blockingTranscriber) Transcribe(ctx context.Context, _ transcription.Audio) (transcription.Result, error) {
	<-ctx.Done()
	return transcription.Result{}, ctx.Err()
}

var fixedNow = time.Date(2025, 5, 20, 14, 3, 9, 0, time.Local)

// mp3 returns a payload that sniffs as audio/mpeg.
func mp3(body string) []byte { return []byte("ID3\x04\x00\x00\x00\x00\x00\x00" + body) }

var item = types.InputItem{
	Identifier:   "2025_05_14_09_31_07_bioc5318_out.mp3",
	Path:         "/src/2025_05_14_09_31_07_bioc5318_out.mp3",
	OperatorCode: "bioc5318",
	OperatorName: "Joelma",
}

type fixture struct {
	fs         afero.Fs
	individual *dataset.IndividualStore
	ledger     *ledger.Ledger
}

func newFixture(t *testing.T, fs afero.Fs) fixture {
	t.Helper()
	return fixture{
		fs:         fs,
		individual: dataset.NewIndividualStore(fs, "/out/individual"),
		ledger:     ledger.New(fs, "/out/checkpoint.csv", logger.Discard()),
	}
}

func (f fixture) worker(tr transcription.Transcriber, opts ...Option) *Worker {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewWorker(f.fs, tr, f.individual, f.ledger, logger.Discard(), opts...)
}

func TestProcess_Success(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, item.Path, mp3("audio"), 0o644))
	f := newFixture(t, fs)

	tr := &mockTranscriber{}
	tr.On("Transcribe", mock.Anything, mock.MatchedBy(func(a transcription.Audio) bool {
		return a.Filename == "2025_05_14_09_31_07_bioc5318_out.mp3" && a.ContentType == "audio/mpeg" && a.Language == "pt"
	})).Return(transcription.Result{Text: "quero marcar consulta", DurationSeconds: 12.5}, nil).Once()

	rec, outcome, err := f.worker(tr).Process(context.Background(), item)
	require.NoError(t, err)
	tr.AssertExpectations(t)

	assert.Equal(t, types.OutcomeSuccess, outcome)
	assert.Equal(t, "quero marcar consulta", rec.Text)
	assert.Equal(t, 12.5, rec.DurationSeconds)
	assert.Equal(t, "Joelma", rec.OperatorName)
	assert.Equal(t, item.Path, rec.SourcePath)
	assert.Len(t, rec.AudioChecksum, 16)
	assert.Equal(t, fixedNow, rec.ProcessedAt)

	stored, ok, err := f.individual.Get(item.Identifier)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, stored)

	entries, err := f.ledger.Entries()
	require.NoError(t, err)
	assert.Equal(t, []types.LedgerEntry{{
		Identifier:      item.Identifier,
		ProcessedAt:     fixedNow,
		DurationSeconds: 12.5,
		Outcome:         types.OutcomeSuccess,
	}}, entries)
}

func TestProcess_TranscriptionFailureIsRecorded(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, item.Path, mp3("audio"), 0o644))
	f := newFixture(t, fs)

	tr := &mockTranscriber{}
	tr.On("Transcribe", mock.Anything, mock.Anything).
		Return(transcription.Result{}, errors.New("engine status 400")).Once()

	rec, outcome, err := f.worker(tr).Process(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeError, outcome)
	assert.True(t, rec.Failed())
	assert.Contains(t, rec.Text, "engine status 400")
	assert.Zero(t, rec.DurationSeconds)

	entries, err := f.ledger.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.OutcomeError, entries[0].Outcome)

	_, ok, err := f.individual.Get(item.Identifier)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcess_NonAudioPayloadSkipsEngine(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, item.Path, []byte("this is a text file, not a recording"), 0o644))
	f := newFixture(t, fs)

	tr := &mockTranscriber{}
	rec, outcome, err := f.worker(tr).Process(context.Background(), item)
	require.NoError(t, err)

	tr.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything)
	assert.Equal(t, types.OutcomeError, outcome)
	assert.True(t, strings.HasPrefix(rec.Text, types.ErrorMarker))
	assert.NotEmpty(t, rec.AudioChecksum)
}

func TestProcess_MissingAudio(t *testing.T) {
	f := newFixture(t, afero.NewMemMapFs())

	rec, outcome, err := f.worker(&mockTranscriber{}).Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeError, outcome)
	assert.True(t, rec.Failed())
	assert.Empty(t, rec.AudioChecksum)
}

func TestProcess_Timeout(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, item.Path, mp3("audio"), 0o644))
	f := newFixture(t, fs)

	rec, outcome, err := f.worker(blockingTranscriber{}, WithTimeout(20*time.Millisecond)).Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeError, outcome)
	assert.Contains(t, rec.Text, context.DeadlineExceeded.Error())
}

func TestProcess_StorageFailureIsFatal(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, item.Path, mp3("audio"), 0o644))
	f := newFixture(t, afero.NewReadOnlyFs(base))

	tr := &mockTranscriber{}
	tr.On("Transcribe", mock.Anything, mock.Anything).Return(transcription.Result{Text: "ok"}, nil)

	_, _, err := f.worker(tr).Process(context.Background(), item)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)

	exists, err := afero.Exists(base, "/out/checkpoint.csv")
	require.NoError(t, err)
	assert.False(t, exists, "no ledger row without an individual record")
}
