package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const deepgramListenURL = "https://api.deepgram.com/v1/listen"

// DeepgramClient calls Deepgram's pre-recorded /v1/listen API with the raw
// audio as the request body.
// Implements the Provider interface.
type DeepgramClient struct {
	apiKey   string
	model    string // e.g. "nova-2"
	endpoint string
	client   *http.Client
}

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string         `json:"transcript"`
				Words      []deepgramWord `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type deepgramWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepgramClient creates a new Deepgram client.
func NewDeepgramClient(apiKey, model string, timeout time.Duration) *DeepgramClient {
	return &DeepgramClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: deepgramListenURL,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (dg *DeepgramClient) Name() string { return "deepgram" }

// Model returns the configured model identifier.
func (dg *DeepgramClient) Model() string { return dg.model }

// Transcribe posts the audio bytes to Deepgram. smart_format stays off so the
// transcript is not rewritten (numerals, punctuation) before scoring.
func (dg *DeepgramClient) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	q := url.Values{}
	q.Set("model", dg.model)
	q.Set("smart_format", "false")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dg.endpoint+"?"+q.Encode(), bytes.NewReader(audio.Data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+dg.apiKey)
	req.Header.Set("Content-Type", audio.MIMEType())

	raw, err := doRequest(dg.client, req, "deepgram")
	if err != nil {
		return nil, err
	}

	var result deepgramResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	resp := &Response{Duration: result.Metadata.Duration, Language: opts.Language}
	if len(result.Results.Channels) == 0 {
		return resp, nil
	}
	ch := result.Results.Channels[0]
	if ch.DetectedLanguage != "" {
		resp.Language = ch.DetectedLanguage
	}
	if len(ch.Alternatives) == 0 {
		return resp, nil
	}

	alt := ch.Alternatives[0]
	resp.Text = alt.Transcript
	for _, w := range alt.Words {
		resp.Words = append(resp.Words, Word{Word: w.Word, Start: w.Start, End: w.End})
	}
	return resp, nil
}
