package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"voice-ledger-go/internal/logger"
)

// WhisperClient posts audio to a whisper.cpp server's /inference endpoint.
type WhisperClient struct {
	baseURL      string
	model        string
	httpClient   *http.Client
	maxRetryTime time.Duration
	log          *logger.Logger
}

type WhisperOption func(*WhisperClient)

// WithModel forwards a model name to the server. Empty uses the server's
// loaded model.
func WithModel(model string) WhisperOption {
	return func(c *WhisperClient) { c.model = model }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) WhisperOption {
	return func(c *WhisperClient) { c.httpClient = hc }
}

// WithLogger replaces the default logger.
func WithLogger(l *logger.Logger) WhisperOption {
	return func(c *WhisperClient) { c.log = l.Component("transcription") }
}

// WithMaxRetryTime bounds the total time spent retrying one payload.
func WithMaxRetryTime(d time.Duration) WhisperOption {
	return func(c *WhisperClient) { c.maxRetryTime = d }
}

func NewWhisperClient(baseURL string, opts ...WhisperOption) *WhisperClient {
	c := &WhisperClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{},
		maxRetryTime: 45 * time.Second,
		log:          logger.New().Component("transcription"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// inferenceResponse is the verbose_json shape; plain json only has text.
type inferenceResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		End float64 `json:"end"`
	} `json:"segments"`
	Error string `json:"error"`
}

// Transcribe uploads the payload and returns the text and audio duration.
// Transport errors and 5xx are retried with exponential backoff; 4xx and
// engine-reported errors are permanent.
func (c *WhisperClient) Transcribe(ctx context.Context, audio Audio) (Result, error) {
	body, contentType, err := encodeForm(audio, c.model)
	if err != nil {
		return Result{}, err
	}
	endpoint := c.baseURL + "/inference"

	var out inferenceResponse
	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.log.WithError(err).Warn("whisper request failed")
			return err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("whisper server error: %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
			c.log.WithField("status", resp.StatusCode).Warn("whisper server error, retrying")
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("whisper rejected audio: %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
			return backoff.Permanent(lastErr)
		}
		out = inferenceResponse{}
		if err := json.Unmarshal(raw, &out); err != nil {
			lastErr = fmt.Errorf("json decode error: %v body=%s", err, string(raw))
			return backoff.Permanent(lastErr)
		}
		if out.Error != "" {
			lastErr = fmt.Errorf("whisper: %s", out.Error)
			return backoff.Permanent(lastErr)
		}
		lastErr = nil
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxRetryTime
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return Result{}, lastErr
	}

	dur := out.Duration
	if dur == 0 && len(out.Segments) > 0 {
		dur = out.Segments[len(out.Segments)-1].End
	}
	c.log.WithField("file", audio.Filename).WithField("duration_seconds", dur).Debug("whisper inference done")
	return Result{Text: strings.TrimSpace(out.Text), DurationSeconds: dur}, nil
}

func encodeForm(audio Audio, model string) ([]byte, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, audio.Filename))
	ct := audio.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return nil, "", fmt.Errorf("whisper: write audio: %w", err)
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        audio.Language,
		"model":           model,
	}
	for _, k := range []string{"response_format", "language", "model"} {
		if fields[k] == "" {
			continue
		}
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return b.Bytes(), w.FormDataContentType(), nil
}
