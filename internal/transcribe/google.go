package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const googleRecognizeURL = "https://speech.googleapis.com/v1/speech:recognize"

// GoogleClient calls Google Cloud Speech-to-Text v1 synchronous recognize
// with an API key. Audio is sent inline as base64.
// Implements the Provider interface.
type GoogleClient struct {
	apiKey   string
	model    string // e.g. "latest_long"
	endpoint string
	client   *http.Client
}

type googleRequest struct {
	Config googleConfig `json:"config"`
	Audio  struct {
		Content []byte `json:"content"` // encoding/json writes base64
	} `json:"audio"`
}

type googleConfig struct {
	Encoding                   string `json:"encoding"`
	LanguageCode               string `json:"languageCode"`
	Model                      string `json:"model"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
}

type googleResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
		LanguageCode string `json:"languageCode"`
	} `json:"results"`
	TotalBilledTime string `json:"totalBilledTime"`
}

func NewGoogleClient(apiKey, model string, timeout time.Duration) *GoogleClient {
	return &GoogleClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: googleRecognizeURL,
		client:   &http.Client{Timeout: timeout},
	}
}

func (gc *GoogleClient) Name() string  { return "google" }
func (gc *GoogleClient) Model() string { return gc.model }

// Transcribe recognizes the audio with punctuation disabled. MP3 is declared
// as such; everything else is sent as LINEAR16.
func (gc *GoogleClient) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	lang := opts.Language
	if lang == "" {
		lang = "en-US"
	}
	body := googleRequest{Config: googleConfig{
		Encoding:     "LINEAR16",
		LanguageCode: lang,
		Model:        gc.model,
	}}
	if strings.Contains(audio.MIMEType(), "mpeg") {
		body.Config.Encoding = "MP3"
	}
	body.Audio.Content = audio.Data

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gc.endpoint+"?key="+url.QueryEscape(gc.apiKey), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := doRequest(gc.client, req, "google")
	if err != nil {
		return nil, err
	}

	var result googleResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	parts := make([]string, 0, len(result.Results))
	resp := &Response{Language: lang}
	for _, r := range result.Results {
		if len(r.Alternatives) > 0 {
			parts = append(parts, r.Alternatives[0].Transcript)
		}
		if r.LanguageCode != "" {
			resp.Language = r.LanguageCode
		}
	}
	resp.Text = strings.TrimSpace(strings.Join(parts, " "))
	if d, err := time.ParseDuration(result.TotalBilledTime); err == nil {
		resp.Duration = d.Seconds()
	}
	return resp, nil
}
