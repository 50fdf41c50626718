package benchmark

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/stt-bench/internal/metrics"
	"github.com/snarg/stt-bench/internal/transcribe"
	"github.com/snarg/stt-bench/internal/wer"
)

// ErrNoReference is recorded on a run that has no reference transcript and
// no ground-truth source to produce one.
var ErrNoReference = errors.New("no reference transcript and no ground-truth source configured")

// Event types published while a run executes.
const (
	EventRunStarted     = "run_started"
	EventGroundTruth    = "ground_truth"
	EventProviderStatus = "provider_status"
	EventRunFinished    = "run_finished"
)

// EventPublishFunc is a callback for publishing SSE events.
type EventPublishFunc func(eventType, runID string, payload map[string]any)

// Publisher receives every finished run, e.g. to forward it over MQTT.
type Publisher interface {
	PublishRun(ctx context.Context, run *Run) error
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Registry     *transcribe.Registry
	GroundTruth  transcribe.GroundTruth // nil disables automatic references
	Store        Store
	Timeout      time.Duration // per provider call
	Preprocess   bool
	PublishEvent EventPublishFunc
	Publisher    Publisher
	Log          zerolog.Logger
}

// Runner transcribes one audio file with several providers concurrently and
// scores each transcript against the run's reference.
type Runner struct {
	opts RunnerOptions
	log  zerolog.Logger
}

// NewRunner creates a runner. A nil Store defaults to an unbounded
// MemoryStore.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Store == nil {
		opts.Store = NewMemoryStore(0)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Runner{opts: opts, log: opts.Log}
}

// Store returns the store runs are saved to.
func (r *Runner) Store() Store { return r.opts.Store }

// Registry returns the provider registry.
func (r *Runner) Registry() *transcribe.Registry { return r.opts.Registry }

// GroundTruth returns the configured ground-truth source, or nil.
func (r *Runner) GroundTruth() transcribe.GroundTruth { return r.opts.GroundTruth }

// NewRun creates a pending run for the named providers (all registered
// providers when names is empty).
func (r *Runner) NewRun(language, reference string, names []string) (*Run, error) {
	providers, err := r.opts.Registry.Select(names)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured: %w", transcribe.ErrNotConfigured)
	}
	refs := make([]ProviderRef, len(providers))
	for i, p := range providers {
		refs[i] = ProviderRef{Name: p.Name(), Model: p.Model()}
	}
	return NewRun(language, strings.TrimSpace(reference), refs), nil
}

// Execute runs every provider in run against audio and records the results.
// Provider failures are recorded on their result and never abort the run.
// The returned error is non-nil only when the run as a whole could not be
// scored.
func (r *Runner) Execute(ctx context.Context, run *Run, audio transcribe.Audio) error {
	x := &execution{
		Runner: r,
		ctx:    ctx,
		run:    run,
		log:    r.log.With().Str("run_id", run.ID).Logger(),
	}
	start := time.Now()

	x.update(func() { run.Status = RunRunning })
	r.publish(EventRunStarted, run.ID, map[string]any{
		"run_id":    run.ID,
		"language":  run.Language,
		"providers": len(run.Results),
	})

	if r.opts.Preprocess {
		processed, err := transcribe.Preprocess(ctx, audio)
		if err != nil {
			x.log.Warn().Err(err).Msg("preprocessing failed, using original audio")
		} else {
			audio = processed
		}
	}

	if run.Reference == "" {
		ref, source, err := r.reference(ctx, audio, run.Language)
		if err != nil {
			x.update(func() {
				for i := range run.Results {
					run.Results[i].Status = StatusError
					run.Results[i].Error = "no reference transcript"
				}
			})
			x.finish(err)
			return err
		}
		x.update(func() {
			run.Reference = ref
			run.ReferenceSource = source
		})
		r.publish(EventGroundTruth, run.ID, map[string]any{
			"run_id": run.ID,
			"model":  source,
			"words":  len(wer.Normalize(ref)),
		})
	}

	var g errgroup.Group
	for i := range run.Results {
		g.Go(func() error {
			x.runProvider(i, audio)
			return nil
		})
	}
	_ = g.Wait()

	x.finish(nil)
	x.log.Info().
		Int("providers", len(run.Results)).
		Dur("elapsed", time.Since(start)).
		Msg("benchmark run complete")
	return nil
}

// reference asks the ground-truth source for a transcript with speaker
// labels removed.
func (r *Runner) reference(ctx context.Context, audio transcribe.Audio, language string) (string, string, error) {
	gt := r.opts.GroundTruth
	if gt == nil {
		return "", "", ErrNoReference
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	text, err := gt.Reference(ctx, audio, transcribe.LanguageLabel(language))
	if err != nil {
		return "", "", fmt.Errorf("ground truth: %w", err)
	}
	text = transcribe.StripSpeakerLabels(text)
	if text == "" {
		return "", "", fmt.Errorf("ground truth returned empty transcript: %w", ErrNoReference)
	}
	return text, gt.Model(), nil
}

// execution is the mutable state of one Execute call. Provider goroutines
// write only their own result slot, always under mu.
type execution struct {
	*Runner
	ctx context.Context
	run *Run
	log zerolog.Logger
	mu  sync.Mutex
}

// update applies fn under the lock and saves the run.
func (x *execution) update(fn func()) {
	x.mu.Lock()
	defer x.mu.Unlock()
	fn()
	if err := x.opts.Store.Save(x.ctx, x.run); err != nil {
		x.log.Warn().Err(err).Msg("failed to save run")
	}
}

// setResult applies fn to result i, saves, and publishes the new state.
func (x *execution) setResult(i int, fn func(res *Result)) Result {
	var snapshot Result
	x.update(func() {
		fn(&x.run.Results[i])
		snapshot = x.run.Results[i]
	})

	payload := map[string]any{
		"run_id":      x.run.ID,
		"provider":    snapshot.Provider,
		"model":       snapshot.Model,
		"status":      snapshot.Status,
		"duration_ms": snapshot.DurationMs,
	}
	switch snapshot.Status {
	case StatusDone:
		payload["wer"] = snapshot.WER
		payload["cer"] = snapshot.CER
	case StatusError:
		payload["error"] = snapshot.Error
	}
	x.publish(EventProviderStatus, x.run.ID, payload)
	return snapshot
}

func (x *execution) runProvider(i int, audio transcribe.Audio) {
	res := x.setResult(i, func(res *Result) { res.Status = StatusRunning })
	name := res.Provider

	p, err := x.opts.Registry.Get(name)
	if err != nil {
		x.fail(i, 0, err)
		return
	}

	ctx, cancel := context.WithTimeout(x.ctx, x.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Transcribe(ctx, audio, transcribe.Options{
		Language: transcribe.ProviderLanguage(x.run.Language, name),
	})
	elapsed := time.Since(start)
	metrics.ProviderLatency.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		x.log.Warn().Err(err).Str("provider", name).Msg("transcription failed")
		x.fail(i, elapsed, err)
		return
	}

	// Reference is fixed once providers start; reading it unlocked is safe.
	cmp := wer.Compare(x.run.Reference, resp.Text)
	cer := wer.CER(x.run.Reference, resp.Text)
	x.setResult(i, func(res *Result) {
		res.Status = StatusDone
		res.Transcript = resp.Text
		res.DurationMs = elapsed.Milliseconds()
		res.Stats = &cmp.Stats
		res.WER = cmp.WER
		res.CER = cer
		res.Alignment = cmp.Alignment
	})
	metrics.ProviderResultsTotal.WithLabelValues(name, StatusDone).Inc()
	metrics.ProviderWER.WithLabelValues(name).Observe(cmp.WER)

	x.log.Debug().
		Str("provider", name).
		Float64("wer", cmp.WER).
		Int64("duration_ms", elapsed.Milliseconds()).
		Msg("provider scored")
}

func (x *execution) fail(i int, elapsed time.Duration, err error) {
	res := x.setResult(i, func(res *Result) {
		res.Status = StatusError
		res.Error = err.Error()
		res.DurationMs = elapsed.Milliseconds()
	})
	metrics.ProviderResultsTotal.WithLabelValues(res.Provider, StatusError).Inc()
}

func (x *execution) finish(runErr error) {
	var snapshot *Run
	x.update(func() {
		now := time.Now().UTC()
		x.run.Status = RunDone
		x.run.FinishedAt = &now
		if runErr != nil {
			x.run.Error = runErr.Error()
		}
		snapshot = x.run.Clone()
	})

	outcome := "done"
	if runErr != nil {
		outcome = "failed"
	}
	metrics.BenchmarkRunsTotal.WithLabelValues(outcome).Inc()

	best := ""
	if ranked := Ranking(snapshot.Results); len(ranked) > 0 {
		best = ranked[0].Provider
	}
	x.publish(EventRunFinished, snapshot.ID, map[string]any{
		"run_id": snapshot.ID,
		"error":  snapshot.Error,
		"best":   best,
	})

	if x.opts.Publisher != nil {
		if err := x.opts.Publisher.PublishRun(x.ctx, snapshot); err != nil {
			x.log.Warn().Err(err).Msg("failed to publish finished run")
		}
	}
}

func (r *Runner) publish(eventType, runID string, payload map[string]any) {
	if r.opts.PublishEvent != nil {
		r.opts.PublishEvent(eventType, runID, payload)
	}
}
