package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sarvamSTTEndpoint = "https://api.sarvam.ai/speech-to-text"

// SarvamClient calls Sarvam AI's speech-to-text API, which covers Indian
// languages and Indian-accented English.
// Implements the Provider interface.
type SarvamClient struct {
	apiKey   string
	model    string // e.g. "saaras:v3"
	endpoint string
	client   *http.Client
}

type sarvamResponse struct {
	Transcript   string `json:"transcript"`
	LanguageCode string `json:"language_code"`
}

func NewSarvamClient(apiKey, model string, timeout time.Duration) *SarvamClient {
	return &SarvamClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: sarvamSTTEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (sc *SarvamClient) Name() string  { return "sarvam" }
func (sc *SarvamClient) Model() string { return sc.model }

func (sc *SarvamClient) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	lang := opts.Language
	if lang == "" {
		lang = "en-IN"
	}
	body, contentType, err := multipartBody(audio, "file", [][2]string{
		{"model", sc.model},
		{"language_code", lang},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("api-subscription-key", sc.apiKey)

	raw, err := doRequest(sc.client, req, "sarvam")
	if err != nil {
		return nil, err
	}

	var result sarvamResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	resp := &Response{Text: result.Transcript, Language: lang}
	if result.LanguageCode != "" {
		resp.Language = result.LanguageCode
	}
	return resp, nil
}
