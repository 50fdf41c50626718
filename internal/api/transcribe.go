package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-bench/internal/transcribe"
)

// TranscribeHandler exposes single-provider transcription, ground-truth
// generation and the provider and language catalogs.
type TranscribeHandler struct {
	registry    *transcribe.Registry
	groundTruth transcribe.GroundTruth
	preprocess  bool
	log         zerolog.Logger
}

func NewTranscribeHandler(registry *transcribe.Registry, gt transcribe.GroundTruth, preprocess bool, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		registry:    registry,
		groundTruth: gt,
		preprocess:  preprocess,
		log:         log.With().Str("handler", "transcribe").Logger(),
	}
}

func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Post("/transcribe", h.Transcribe)
	r.Post("/ground-truth", h.GroundTruth)
	r.Get("/providers", h.ListProviders)
	r.Get("/languages", h.ListLanguages)
}

// TranscribeResponse is the body of POST /transcribe.
type TranscribeResponse struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Language   string `json:"language"`
	Transcript string `json:"transcript"`
	DurationMs int64  `json:"duration_ms"`
}

// Transcribe handles POST /api/v1/transcribe.
// Multipart fields: file, provider, language.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	audio, ok := readAudio(w, r)
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()

	name := strings.TrimSpace(r.FormValue("provider"))
	if name == "" {
		WriteError(w, http.StatusBadRequest, "provider is required")
		return
	}
	p, err := h.registry.Get(name)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "unknown provider", name)
		return
	}
	language := formLanguage(r)

	audio = h.prepare(r, audio)
	start := time.Now()
	resp, err := p.Transcribe(r.Context(), audio, transcribe.Options{
		Language: transcribe.ProviderLanguage(language, p.Name()),
	})
	elapsed := time.Since(start)
	if err != nil {
		h.log.Warn().Err(err).Str("provider", name).Msg("transcription failed")
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, TranscribeResponse{
		Provider:   p.Name(),
		Model:      p.Model(),
		Language:   language,
		Transcript: resp.Text,
		DurationMs: elapsed.Milliseconds(),
	})
}

// GroundTruth handles POST /api/v1/ground-truth.
// Multipart fields: file, language. The transcript has speaker labels
// removed so it can be used directly as a reference.
func (h *TranscribeHandler) GroundTruth(w http.ResponseWriter, r *http.Request) {
	if h.groundTruth == nil {
		WriteError(w, http.StatusServiceUnavailable, "ground truth not configured")
		return
	}
	audio, ok := readAudio(w, r)
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()

	language := formLanguage(r)
	raw, err := h.groundTruth.Reference(r.Context(), h.prepare(r, audio), transcribe.LanguageLabel(language))
	if err != nil {
		h.log.Warn().Err(err).Msg("ground truth failed")
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"model":      h.groundTruth.Model(),
		"language":   language,
		"transcript": transcribe.StripSpeakerLabels(raw),
		"raw":        raw,
	})
}

type providerInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// ListProviders handles GET /api/v1/providers.
func (h *TranscribeHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	out := make([]providerInfo, 0, h.registry.Len())
	for _, name := range h.registry.Names() {
		p, _ := h.registry.Get(name)
		out = append(out, providerInfo{Name: p.Name(), Model: p.Model()})
	}
	resp := map[string]any{"providers": out}
	if h.groundTruth != nil {
		resp["ground_truth"] = h.groundTruth.Model()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ListLanguages handles GET /api/v1/languages.
func (h *TranscribeHandler) ListLanguages(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"languages": transcribe.Languages})
}

// prepare runs sox preprocessing when enabled. Failures fall back to the
// original audio.
func (h *TranscribeHandler) prepare(r *http.Request, audio transcribe.Audio) transcribe.Audio {
	if !h.preprocess {
		return audio
	}
	out, err := transcribe.Preprocess(r.Context(), audio)
	if err != nil {
		h.log.Debug().Err(err).Msg("preprocess skipped")
		return audio
	}
	return out
}

// readAudio parses the multipart form and reads the "file" part. On failure
// it writes the error response and returns false.
func readAudio(w http.ResponseWriter, r *http.Request) (transcribe.Audio, bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return transcribe.Audio{}, false
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return transcribe.Audio{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		r.MultipartForm.RemoveAll()
		WriteError(w, http.StatusBadRequest, "file is required")
		return transcribe.Audio{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		r.MultipartForm.RemoveAll()
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return transcribe.Audio{}, false
	}
	if len(data) == 0 {
		r.MultipartForm.RemoveAll()
		WriteError(w, http.StatusBadRequest, "audio file is empty")
		return transcribe.Audio{}, false
	}

	ct := header.Header.Get("Content-Type")
	if ct == "application/octet-stream" {
		ct = "" // let Audio infer it from the filename
	}
	return transcribe.Audio{Data: data, Filename: header.Filename, ContentType: ct}, true
}

func formLanguage(r *http.Request) string {
	if l := strings.TrimSpace(r.FormValue("language")); l != "" {
		return l
	}
	return "en"
}
