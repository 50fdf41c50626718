package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotConfigured is returned when a provider is missing credentials.
var ErrNotConfigured = errors.New("provider not configured")

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error)
	Name() string  // "openai", "deepgram", ...
	Model() string // model identifier for results/logs
}

// Audio is an uploaded audio file held in memory.
type Audio struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Ext returns the file extension without the dot, inferred from the filename
// and then the content type. Defaults to "mp3".
func (a Audio) Ext() string {
	if ext := strings.TrimPrefix(filepath.Ext(a.Filename), "."); ext != "" {
		return strings.ToLower(ext)
	}
	ct := strings.ToLower(a.ContentType)
	switch {
	case strings.Contains(ct, "wav"):
		return "wav"
	case strings.Contains(ct, "mp4"), strings.Contains(ct, "m4a"):
		return "m4a"
	case strings.Contains(ct, "flac"):
		return "flac"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	case strings.Contains(ct, "webm"):
		return "webm"
	}
	return "mp3"
}

// MIMEType returns the content type, inferring it from the extension when
// unset. Unknown extensions are sent as audio/mpeg.
func (a Audio) MIMEType() string {
	if a.ContentType != "" {
		return a.ContentType
	}
	switch a.Ext() {
	case "wav":
		return "audio/wav"
	case "m4a":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	case "ogg":
		return "audio/ogg"
	case "webm":
		return "audio/webm"
	}
	return "audio/mpeg"
}

// name returns a filename suitable for multipart uploads.
func (a Audio) name() string {
	if a.Filename != "" {
		return filepath.Base(a.Filename)
	}
	return "audio." + a.Ext()
}

// Options are per-request options. Zero values are omitted from requests.
type Options struct {
	Language    string // base language code, e.g. "en"
	Temperature float64
	Prompt      string // domain vocabulary hint
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds, 0 if unknown
	Words    []Word  // nil if provider doesn't return word timestamps
}

// Word is a timestamped word from any STT provider.
type Word struct {
	Word  string
	Start float64 // seconds
	End   float64 // seconds
}

// multipartBody builds a form with the audio under fileField plus the given
// string fields. Empty field values are skipped.
func multipartBody(audio Audio, fileField string, fields [][2]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(fileField, audio.name())
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, "", fmt.Errorf("copy audio data: %w", err)
	}

	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// doRequest sends req and returns the body of a 2xx response. Any other
// status becomes an error carrying the provider name and response body.
func doRequest(client *http.Client, req *http.Request, provider string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s API error (status %d): %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// errPollExhausted is returned when an async job is still running after the
// maximum number of status checks.
var errPollExhausted = errors.New("transcription job did not finish in time")

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxPolls     = 60
)

// poll calls check every interval until it reports done or fails, ctx ends,
// or maxPolls checks have run.
func poll(ctx context.Context, interval time.Duration, maxPolls int, check func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < maxPolls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return errPollExhausted
}

// getJSON fetches url with a bearer token and decodes the body into v.
func getJSON(ctx context.Context, client *http.Client, url, token, provider string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	raw, err := doRequest(client, req, provider)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
