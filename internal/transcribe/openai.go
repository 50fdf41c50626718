package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient transcribes through the hosted OpenAI audio API.
// Implements the Provider interface.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI transcription client. baseURL may be
// empty to use the public API.
func NewOpenAIClient(apiKey, model, baseURL string, timeout time.Duration) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name returns the provider name.
func (oc *OpenAIClient) Name() string { return "openai" }

// Model returns the configured model identifier.
func (oc *OpenAIClient) Model() string { return oc.model }

// Transcribe uploads the audio to /v1/audio/transcriptions.
func (oc *OpenAIClient) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	req := openai.AudioRequest{
		Model: oc.model,
		// FilePath only names the multipart part when Reader is set.
		FilePath:    audio.name(),
		Reader:      bytes.NewReader(audio.Data),
		Prompt:      opts.Prompt,
		Temperature: float32(opts.Temperature),
		Language:    opts.Language,
		Format:      openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	}

	resp, err := oc.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	var words []Word
	for _, w := range resp.Words {
		words = append(words, Word{Word: w.Word, Start: w.Start, End: w.End})
	}

	return &Response{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
		Words:    words,
	}, nil
}
