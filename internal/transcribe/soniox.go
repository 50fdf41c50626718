package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sonioxBaseURL = "https://api.soniox.com/v1"

// SonioxClient uses Soniox's async API: upload the file, create a
// transcription, then poll until it completes.
// Implements the Provider interface.
type SonioxClient struct {
	apiKey       string
	model        string // e.g. "stt-async-v4"
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	maxPolls     int
}

type sonioxCreated struct {
	ID string `json:"id"`
}

type sonioxTranscription struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // queued, processing, completed, error
	ErrorMessage string `json:"error_message"`
	Text         string `json:"text"`
	AudioMs      int64  `json:"audio_duration_ms"`
}

type sonioxTranscript struct {
	Text string `json:"text"`
}

func NewSonioxClient(apiKey, model string, timeout time.Duration) *SonioxClient {
	return &SonioxClient{
		apiKey:       apiKey,
		model:        model,
		baseURL:      sonioxBaseURL,
		client:       &http.Client{Timeout: timeout},
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
	}
}

func (sc *SonioxClient) Name() string  { return "soniox" }
func (sc *SonioxClient) Model() string { return sc.model }

func (sc *SonioxClient) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	fileID, err := sc.upload(ctx, audio)
	if err != nil {
		return nil, err
	}
	jobID, err := sc.create(ctx, fileID, opts.Language)
	if err != nil {
		return nil, err
	}

	var job sonioxTranscription
	err = poll(ctx, sc.pollInterval, sc.maxPolls, func() (bool, error) {
		if err := getJSON(ctx, sc.client, sc.baseURL+"/transcriptions/"+jobID, sc.apiKey, "soniox", &job); err != nil {
			return false, nil // status endpoint hiccup, try again
		}
		switch job.Status {
		case "completed":
			return true, nil
		case "error", "failed":
			return false, fmt.Errorf("soniox transcription failed: %s", job.ErrorMessage)
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("soniox job %s: %w", jobID, err)
	}

	resp := &Response{Text: job.Text, Language: opts.Language, Duration: float64(job.AudioMs) / 1000}
	if resp.Text == "" {
		var tr sonioxTranscript
		if err := getJSON(ctx, sc.client, sc.baseURL+"/transcriptions/"+jobID+"/transcript", sc.apiKey, "soniox", &tr); err != nil {
			return nil, err
		}
		resp.Text = tr.Text
	}
	return resp, nil
}

func (sc *SonioxClient) upload(ctx context.Context, audio Audio) (string, error) {
	body, contentType, err := multipartBody(audio, "file", nil)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.baseURL+"/files", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return sc.created(req, "upload")
}

func (sc *SonioxClient) create(ctx context.Context, fileID, language string) (string, error) {
	payload := map[string]any{"file_id": fileID, "model": sc.model}
	if language != "" {
		payload["language_hints"] = []string{language}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.baseURL+"/transcriptions", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return sc.created(req, "create transcription")
}

// created sends an authenticated request and returns the id of the
// resource it created.
func (sc *SonioxClient) created(req *http.Request, step string) (string, error) {
	req.Header.Set("Authorization", "Bearer "+sc.apiKey)
	raw, err := doRequest(sc.client, req, "soniox")
	if err != nil {
		return "", fmt.Errorf("%s: %w", step, err)
	}
	var c sonioxCreated
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" {
		return "", fmt.Errorf("soniox %s: missing id in response", step)
	}
	return c.ID, nil
}
