package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GroundTruth produces a reference transcript for an audio file.
type GroundTruth interface {
	Reference(ctx context.Context, audio Audio, language string) (string, error)
	Model() string
}

const groundTruthPrompt = `Transcribe this audio exactly as spoken in %s with speaker diarization. Format the output with speaker labels like:

Speaker 1: [what speaker 1 said]
Speaker 2: [what speaker 2 said]

If there is only one speaker, still label them as "Speaker 1:". Output ONLY the diarized transcript, nothing else. No explanations, no headers, no extra formatting.`

// GeminiClient asks a Gemini model for a diarized transcript.
// Implements the GroundTruth interface.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client for the Gemini Developer API.
func NewGeminiClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Model returns the configured model identifier.
func (g *GeminiClient) Model() string { return g.model }

// Reference returns the diarized transcript exactly as the model produced it.
// language is a display name such as "English".
func (g *GeminiClient) Reference(ctx context.Context, audio Audio, language string) (string, error) {
	if language == "" {
		language = "English"
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(audio.Data, audio.MIMEType()),
		genai.NewPartFromText(fmt.Sprintf(groundTruthPrompt, language)),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

var speakerLabel = regexp.MustCompile(`(?mi)^[ \t]*speaker[ \t]+\d+[ \t]*:[ \t]*`)

// StripSpeakerLabels removes "Speaker N:" line prefixes so a diarized
// transcript can be scored as plain text.
func StripSpeakerLabels(text string) string {
	return strings.TrimSpace(speakerLabel.ReplaceAllString(text, ""))
}
