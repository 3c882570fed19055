// internal/processor/processor.go
package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"voice-ledger-go/internal/dataset"
	"voice-ledger-go/internal/ledger"
	"voice-ledger-go/internal/logger"
	"voice-ledger-go/internal/transcription"
	"voice-ledger-go/internal/types"
)

// Worker turns one recording into one persisted transcript record and one
// ledger row. A failed transcription is data, not an error.
type Worker struct {
	fs         afero.Fs
	tr         transcription.Transcriber
	individual *dataset.IndividualStore
	ledger     *ledger.Ledger
	log        *logger.Logger

	language string
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Worker)

// WithLanguage sets the language hint passed to the engine.
func WithLanguage(lang string) Option { return func(w *Worker) { w.language = lang } }

// WithTimeout bounds a single transcription call.
func WithTimeout(d time.Duration) Option { return func(w *Worker) { w.timeout = d } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(w *Worker) { w.now = now } }

func NewWorker(fs afero.Fs, tr transcription.Transcriber, individual *dataset.IndividualStore, l *ledger.Ledger, log *logger.Logger, opts ...Option) *Worker {
	w := &Worker{
		fs:         fs,
		tr:         tr,
		individual: individual,
		ledger:     l,
		log:        log.Component("worker"),
		language:   "pt",
		timeout:    10 * time.Minute,
		now:        time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Process transcribes item, writes its individual record, then appends its
// ledger row. The returned error is non-nil only when one of those writes
// fails, in which case the stores can no longer be trusted.
func (w *Worker) Process(ctx context.Context, item types.InputItem) (types.TranscriptRecord, types.Outcome, error) {
	log := w.log.WithItem(item)
	start := time.Now()

	rec := types.TranscriptRecord{
		Identifier:   item.Identifier,
		OperatorCode: item.OperatorCode,
		OperatorName: item.OperatorName,
		SourcePath:   item.Path,
	}
	outcome := types.OutcomeSuccess

	res, checksum, err := w.transcribe(ctx, item)
	rec.AudioChecksum = checksum
	if err != nil {
		outcome = types.OutcomeError
		rec.Text = types.ErrorMarker + err.Error()
		log.WithField("error", err.Error()).Warn("transcription failed")
	} else {
		rec.Text = res.Text
		rec.DurationSeconds = res.DurationSeconds
	}
	// Stores keep second precision.
	rec.ProcessedAt = w.now().Truncate(time.Second)

	if err := w.individual.Put(rec); err != nil {
		return rec, outcome, err
	}
	if err := w.ledger.Record(types.LedgerEntry{
		Identifier:      rec.Identifier,
		ProcessedAt:     rec.ProcessedAt,
		DurationSeconds: rec.DurationSeconds,
		Outcome:         outcome,
	}); err != nil {
		return rec, outcome, err
	}

	log.WithFields(logrus.Fields{
		"outcome":          outcome,
		"duration_seconds": rec.DurationSeconds,
		"elapsed_ms":       time.Since(start).Milliseconds(),
	}).Info("item processed")
	return rec, outcome, nil
}

func (w *Worker) transcribe(ctx context.Context, item types.InputItem) (transcription.Result, string, error) {
	data, err := afero.ReadFile(w.fs, item.Path)
	if err != nil {
		return transcription.Result{}, "", fmt.Errorf("%w: read audio: %v", types.ErrTranscriptionFailed, err)
	}
	checksum := fmt.Sprintf("%016x", xxhash.Sum64(data))

	mt := mimetype.Detect(data)
	if !isAudio(mt) {
		return transcription.Result{}, checksum, fmt.Errorf("%w: payload is %s, not audio", types.ErrTranscriptionFailed, mt.String())
	}

	tctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	res, err := w.tr.Transcribe(tctx, transcription.Audio{
		Filename:    filepath.Base(item.Path),
		ContentType: mt.String(),
		Data:        data,
		Language:    w.language,
	})
	if err != nil {
		return transcription.Result{}, checksum, fmt.Errorf("%w: %v", types.ErrTranscriptionFailed, err)
	}
	return res, checksum, nil
}

// isAudio accepts audio types and unrecognised binary, which the engine may
// still decode.
func isAudio(mt *mimetype.MIME) bool {
	s := mt.String()
	return strings.HasPrefix(s, "audio/") || s == "application/octet-stream" || s == "application/ogg"
}
