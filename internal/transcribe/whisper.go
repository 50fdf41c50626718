package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// WhisperClient calls a self-hosted OpenAI-compatible /v1/audio/transcriptions
// endpoint (speaches, faster-whisper-server, whisper.cpp server).
// Implements the Provider interface.
type WhisperClient struct {
	url    string
	model  string
	client *http.Client
}

// whisperResponse is the verbose_json response body.
type whisperResponse struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration float64       `json:"duration"`
	Words    []whisperWord `json:"words"`
}

type whisperWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe sends audio to the Whisper endpoint. Only non-default
// parameters are sent so servers that reject unknown fields keep working.
func (wc *WhisperClient) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}

	fields := [][2]string{
		{"model", wc.model},
		{"language", lang},
		{"temperature", strconv.FormatFloat(opts.Temperature, 'f', 2, 64)},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "word"},
		{"prompt", opts.Prompt},
	}
	body, contentType, err := multipartBody(audio, "file", fields)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	raw, err := doRequest(wc.client, req, "whisper")
	if err != nil {
		return nil, err
	}

	var result whisperResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var words []Word
	if len(result.Words) > 0 {
		words = make([]Word, len(result.Words))
		for i, w := range result.Words {
			words[i] = Word{Word: w.Word, Start: w.Start, End: w.End}
		}
	}

	return &Response{
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
		Words:    words,
	}, nil
}
