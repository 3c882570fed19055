package transcription_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"voice-ledger-go/internal/logger"
	"voice-ledger-go/internal/transcription"
)

func newClient(url string) *transcription.WhisperClient {
	return transcription.NewWhisperClient(url,
		transcription.WithModel("small"),
		transcription.WithMaxRetryTime(5*time.Second),
		transcription.WithLogger(logger.Discard()),
	)
}

func sample() transcription.Audio {
	return transcription.Audio{Filename: "call.mp3", ContentType: "audio/mpeg", Data: []byte("ID3-audio"), Language: "pt"}
}

func TestWhisperClient_SendsFormAndParsesVerboseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "pt", r.FormValue("language"))
		assert.Equal(t, "small", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "ID3-audio", string(data))
		assert.Equal(t, "call.mp3", hdr.Filename)
		assert.Equal(t, "audio/mpeg", hdr.Header.Get("Content-Type"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":     "  Bom dia, quero marcar consulta. ",
			"segments": []map[string]any{{"end": 3.5}, {"end": 12.25}},
		})
	}))
	defer srv.Close()

	res, err := newClient(srv.URL+"/").Transcribe(context.Background(), sample())
	require.NoError(t, err)
	assert.Equal(t, "Bom dia, quero marcar consulta.", res.Text)
	assert.Equal(t, 12.25, res.DurationSeconds)
}

func TestWhisperClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "ok", "duration": 7.0})
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Transcribe(context.Background(), sample())
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 7.0, res.DurationSeconds)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWhisperClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Transcribe(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWhisperClient_EngineErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "failed to read audio"})
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Transcribe(context.Background(), sample())
	assert.ErrorContains(t, err, "failed to read audio")
}

func TestWhisperClient_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := newClient(srv.URL).Transcribe(ctx, sample())
	assert.Error(t, err)
}

func TestNew_SelectsEngine(t *testing.T) {
	t.Setenv("USE_MOCK_TRANSCRIBE", "")

	_, err := transcription.New(transcription.Options{})
	assert.Error(t, err)

	tr, err := transcription.New(transcription.Options{UseMock: true})
	require.NoError(t, err)
	res, err := tr.Transcribe(context.Background(), transcription.Audio{Data: make([]byte, 32000)})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.DurationSeconds)
	assert.Contains(t, res.Text, "MOCK TRANSCRIPT")

	tr, err = transcription.New(transcription.Options{URL: "http://localhost:9"})
	require.NoError(t, err)
	assert.IsType(t, &transcription.WhisperClient{}, tr)
}

func TestNew_WhisperClientLogsThroughInjectedLogger(t *testing.T) {
	t.Setenv("USE_MOCK_TRANSCRIBE", "")
	t.Setenv("ENVIRONMENT", "local")
	t.Setenv("LOG_LEVEL", "")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "ok", "duration": 1.0})
	}))
	defer srv.Close()

	var buf bytes.Buffer
	tr, err := transcription.New(transcription.Options{URL: srv.URL, Log: logger.NewWithOutput(&buf)})
	require.NoError(t, err)

	_, err = tr.Transcribe(context.Background(), sample())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "whisper server error, retrying")
	assert.Contains(t, buf.String(), "component=transcription")
}
