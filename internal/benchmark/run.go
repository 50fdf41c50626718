package benchmark

import (
	"time"

	"github.com/google/uuid"

	"github.com/snarg/stt-bench/internal/wer"
)

// Run status values.
const (
	RunPending = "pending"
	RunRunning = "running"
	RunDone    = "done"
)

// Result status values.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Run is one audio file transcribed by a set of providers and scored
// against a single reference.
type Run struct {
	ID              string     `json:"id"`
	CreatedAt       time.Time  `json:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Language        string     `json:"language"`
	Reference       string     `json:"reference"`
	ReferenceSource string     `json:"reference_source"` // "user" or the ground-truth model
	AudioKey        string     `json:"audio_key,omitempty"`
	AudioName       string     `json:"audio_name,omitempty"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	Results         []Result   `json:"results"`
}

// Result is one provider's transcript and its score against the run's
// reference.
type Result struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Status     string        `json:"status"`
	Transcript string        `json:"transcript,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
	Stats      *wer.Stats    `json:"stats,omitempty"`
	WER        float64       `json:"wer"`
	CER        float64       `json:"cer"`
	Alignment  wer.Alignment `json:"alignment,omitempty"`
}

// ProviderRef names a provider and the model it will run with.
type ProviderRef struct {
	Name  string
	Model string
}

// NewRun creates a pending run with one pending result per provider.
// An empty reference means the runner will ask the ground-truth source.
func NewRun(language, reference string, providers []ProviderRef) *Run {
	if language == "" {
		language = "en"
	}
	run := &Run{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		Language:        language,
		Reference:       reference,
		ReferenceSource: "user",
		Status:          RunPending,
		Results:         make([]Result, len(providers)),
	}
	if reference == "" {
		run.ReferenceSource = ""
	}
	for i, p := range providers {
		run.Results[i] = Result{Provider: p.Name, Model: p.Model, Status: StatusPending}
	}
	return run
}

// Clone returns a deep copy that shares no mutable state with r.
func (r *Run) Clone() *Run {
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	c.Results = make([]Result, len(r.Results))
	for i, res := range r.Results {
		if res.Stats != nil {
			s := *res.Stats
			res.Stats = &s
		}
		if res.Alignment != nil {
			res.Alignment = append(wer.Alignment(nil), res.Alignment...)
		}
		c.Results[i] = res
	}
	return &c
}

// Result returns the result for provider, or nil.
func (r *Run) Result(provider string) *Result {
	for i := range r.Results {
		if r.Results[i].Provider == provider {
			return &r.Results[i]
		}
	}
	return nil
}
