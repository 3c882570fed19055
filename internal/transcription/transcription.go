// Package transcription talks to the speech-to-text engine. The pipeline only
// depends on the Transcriber interface; WhisperClient drives a whisper.cpp
// server over HTTP and Mock returns canned text for offline runs.
package transcription

import (
	"context"
	"errors"
	"os"

	"voice-ledger-go/internal/logger"
)

// Audio is one payload handed to the engine.
type Audio struct {
	Filename    string
	ContentType string
	Data        []byte
	Language    string
}

// Result is what the engine returns for one payload.
type Result struct {
	Text            string
	DurationSeconds float64
}

// Transcriber turns audio into text. Implementations must honour ctx.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (Result, error)
}

// Options configure New.
type Options struct {
	URL     string
	Model   string
	UseMock bool
	Log     *logger.Logger
}

// New picks the engine: the mock when requested (or USE_MOCK_TRANSCRIBE=true),
// the whisper server otherwise.
func New(opts Options) (Transcriber, error) {
	if opts.UseMock || os.Getenv("USE_MOCK_TRANSCRIBE") == "true" {
		return Mock{}, nil
	}
	if opts.URL == "" {
		return nil, errors.New("TRANSCRIBE_URL not set")
	}
	wopts := []WhisperOption{WithModel(opts.Model)}
	if opts.Log != nil {
		wopts = append(wopts, WithLogger(opts.Log))
	}
	return NewWhisperClient(opts.URL, wopts...), nil
}

// Mock is a deterministic stand-in for the engine.
type Mock struct{}

func (Mock) Transcribe(ctx context.Context, audio Audio) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{
		Text:            "MOCK TRANSCRIPT: paciente quer agendar consulta e saber o valor da parcela.",
		DurationSeconds: float64(len(audio.Data)) / 16000,
	}, nil
}
