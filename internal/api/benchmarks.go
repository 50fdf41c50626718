package api

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-bench/internal/benchmark"
	"github.com/snarg/stt-bench/internal/storage"
	"github.com/snarg/stt-bench/internal/transcribe"
)

// BenchmarksHandler submits benchmark runs to the worker queue and serves
// their results.
type BenchmarksHandler struct {
	runner *benchmark.Runner
	queue  *benchmark.Queue
	audio  storage.AudioStore // optional
	log    zerolog.Logger
}

func NewBenchmarksHandler(runner *benchmark.Runner, queue *benchmark.Queue, audio storage.AudioStore, log zerolog.Logger) *BenchmarksHandler {
	return &BenchmarksHandler{
		runner: runner,
		queue:  queue,
		audio:  audio,
		log:    log.With().Str("handler", "benchmarks").Logger(),
	}
}

func (h *BenchmarksHandler) Routes(r chi.Router) {
	r.Post("/benchmarks", h.Create)
	r.Get("/benchmarks", h.List)
	r.Get("/benchmarks/queue", h.QueueStats)
	r.Get("/benchmarks/{id}", h.Get)
	r.Get("/benchmarks/{id}/ranking", h.Ranking)
	r.Get("/benchmarks/{id}/audio", h.Audio)
}

// Create handles POST /api/v1/benchmarks.
// Multipart fields: file, reference (optional when a ground-truth source is
// configured), language, providers (optional comma list).
func (h *BenchmarksHandler) Create(w http.ResponseWriter, r *http.Request) {
	audio, ok := readAudio(w, r)
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()

	reference := r.FormValue("reference")
	if strings.TrimSpace(reference) == "" && h.runner.GroundTruth() == nil {
		WriteError(w, http.StatusBadRequest, "reference is required when no ground-truth source is configured")
		return
	}

	run, err := h.runner.NewRun(formLanguage(r), reference, splitList(r.FormValue("providers")))
	switch {
	case errors.Is(err, transcribe.ErrUnknownProvider):
		WriteErrorDetail(w, http.StatusBadRequest, "unknown provider", err.Error())
		return
	case errors.Is(err, transcribe.ErrNotConfigured):
		WriteError(w, http.StatusServiceUnavailable, "no transcription providers configured")
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	run.AudioName = audio.Filename

	if h.audio != nil {
		key := storage.Key(run.ID, run.CreatedAt, audio.Ext())
		if err := h.audio.Save(r.Context(), key, audio.Data, audio.MIMEType()); err != nil {
			h.log.Warn().Err(err).Str("key", key).Msg("failed to store benchmark audio")
		} else {
			run.AudioKey = key
		}
	}

	// Snapshot before submitting: a worker owns the run once it is queued.
	snapshot := run.Clone()
	if err := h.queue.Submit(r.Context(), benchmark.Job{Run: run, Audio: audio}); err != nil {
		switch {
		case errors.Is(err, benchmark.ErrQueueFull):
			WriteError(w, http.StatusServiceUnavailable, "benchmark queue is full, try again later")
		case errors.Is(err, benchmark.ErrQueueStopped):
			WriteError(w, http.StatusServiceUnavailable, "server is shutting down")
		default:
			h.log.Error().Err(err).Str("run_id", run.ID).Msg("failed to submit benchmark")
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Location", "/api/v1/benchmarks/"+run.ID)
	WriteJSON(w, http.StatusAccepted, snapshot)
}

// List handles GET /api/v1/benchmarks. Alignments are omitted; fetch a
// single run for them.
func (h *BenchmarksHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.runner.Store().List(r.Context(), p.Limit, p.Offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list benchmarks")
		WriteError(w, http.StatusInternalServerError, "failed to list benchmarks")
		return
	}
	for _, run := range runs {
		for i := range run.Results {
			run.Results[i].Alignment = nil
		}
	}
	if runs == nil {
		runs = []*benchmark.Run{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

// Get handles GET /api/v1/benchmarks/{id}.
func (h *BenchmarksHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// RankingEntry is one row of a run's leaderboard.
type RankingEntry struct {
	Rank       int     `json:"rank"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	WER        float64 `json:"wer"`
	CER        float64 `json:"cer"`
	DurationMs int64   `json:"duration_ms"`
}

// Ranking handles GET /api/v1/benchmarks/{id}/ranking.
func (h *BenchmarksHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ranked := benchmark.Ranking(run.Results)
	entries := make([]RankingEntry, len(ranked))
	for i, res := range ranked {
		entries[i] = RankingEntry{
			Rank:       i + 1,
			Provider:   res.Provider,
			Model:      res.Model,
			WER:        res.WER,
			CER:        res.CER,
			DurationMs: res.DurationMs,
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"run_id":  run.ID,
		"status":  run.Status,
		"ranking": entries,
	})
}

// Audio handles GET /api/v1/benchmarks/{id}/audio.
func (h *BenchmarksHandler) Audio(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if h.audio == nil || run.AudioKey == "" {
		WriteError(w, http.StatusNotFound, "audio not stored for this run")
		return
	}

	rc, err := h.audio.Open(r.Context(), run.AudioKey)
	if err != nil {
		h.log.Warn().Err(err).Str("key", run.AudioKey).Msg("failed to open benchmark audio")
		WriteError(w, http.StatusNotFound, "audio not available")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.ContentTypeFromExt(path.Ext(run.AudioKey)))
	if run.AudioName != "" {
		w.Header().Set("Content-Disposition", `inline; filename="`+strings.ReplaceAll(run.AudioName, `"`, "")+`"`)
	}
	io.Copy(w, rc)
}

// QueueStats handles GET /api/v1/benchmarks/queue.
func (h *BenchmarksHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.queue.Stats())
}

func (h *BenchmarksHandler) lookup(w http.ResponseWriter, r *http.Request) (*benchmark.Run, bool) {
	id := chi.URLParam(r, "id")
	run, err := h.runner.Store().Get(r.Context(), id)
	if errors.Is(err, benchmark.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "benchmark not found")
		return nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("failed to load benchmark")
		WriteError(w, http.StatusInternalServerError, "failed to load benchmark")
		return nil, false
	}
	return run, true
}
