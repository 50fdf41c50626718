package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const speechmaticsBaseURL = "https://asr.api.speechmatics.com/v2"

// SpeechmaticsClient submits a batch job to Speechmatics, polls it and
// fetches the plain-text transcript.
// Implements the Provider interface.
type SpeechmaticsClient struct {
	apiKey         string
	operatingPoint string // "standard" or "enhanced"
	baseURL        string
	client         *http.Client
	pollInterval   time.Duration
	maxPolls       int
}

type speechmaticsJobConfig struct {
	Type                string `json:"type"`
	TranscriptionConfig struct {
		Language       string `json:"language"`
		OperatingPoint string `json:"operating_point"`
	} `json:"transcription_config"`
}

type speechmaticsJob struct {
	Job struct {
		ID       string  `json:"id"`
		Status   string  `json:"status"` // running, done, rejected, deleted
		Duration float64 `json:"duration"`
	} `json:"job"`
}

func NewSpeechmaticsClient(apiKey, operatingPoint string, timeout time.Duration) *SpeechmaticsClient {
	return &SpeechmaticsClient{
		apiKey:         apiKey,
		operatingPoint: operatingPoint,
		baseURL:        speechmaticsBaseURL,
		client:         &http.Client{Timeout: timeout},
		pollInterval:   defaultPollInterval,
		maxPolls:       defaultMaxPolls,
	}
}

func (sm *SpeechmaticsClient) Name() string  { return "speechmatics" }
func (sm *SpeechmaticsClient) Model() string { return sm.operatingPoint }

func (sm *SpeechmaticsClient) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	jobID, err := sm.submit(ctx, audio, lang)
	if err != nil {
		return nil, err
	}

	var status speechmaticsJob
	err = poll(ctx, sm.pollInterval, sm.maxPolls, func() (bool, error) {
		if err := getJSON(ctx, sm.client, sm.baseURL+"/jobs/"+jobID, sm.apiKey, "speechmatics", &status); err != nil {
			return false, nil
		}
		switch status.Job.Status {
		case "done":
			return true, nil
		case "rejected", "deleted":
			return false, fmt.Errorf("speechmatics job %s", status.Job.Status)
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("speechmatics job %s: %w", jobID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sm.baseURL+"/jobs/"+jobID+"/transcript?format=txt", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sm.apiKey)
	raw, err := doRequest(sm.client, req, "speechmatics")
	if err != nil {
		return nil, err
	}
	return &Response{
		Text:     strings.TrimSpace(string(raw)),
		Language: lang,
		Duration: status.Job.Duration,
	}, nil
}

func (sm *SpeechmaticsClient) submit(ctx context.Context, audio Audio, lang string) (string, error) {
	var cfg speechmaticsJobConfig
	cfg.Type = "transcription"
	cfg.TranscriptionConfig.Language = lang
	cfg.TranscriptionConfig.OperatingPoint = sm.operatingPoint
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}

	body, contentType, err := multipartBody(audio, "data_file", [][2]string{{"config", string(cfgJSON)}})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sm.baseURL+"/jobs", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+sm.apiKey)

	raw, err := doRequest(sm.client, req, "speechmatics")
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &created); err != nil || created.ID == "" {
		return "", fmt.Errorf("speechmatics submit: missing job id in response")
	}
	return created.ID, nil
}
