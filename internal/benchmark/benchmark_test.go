package benchmark

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/stt-bench/internal/transcribe"
)

type fakeProvider struct {
	name  string
	text  string
	err   error
	delay time.Duration
	block chan struct{} // when set, Transcribe waits for it to close

	mu       sync.Mutex
	language string
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }

func (f *fakeProvider) Transcribe(ctx context.Context, _ transcribe.Audio, opts transcribe.Options) (*transcribe.Response, error) {
	f.mu.Lock()
	f.language = opts.Language
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &transcribe.Response{Text: f.text}, nil
}

type fakeGroundTruth struct {
	text string
	err  error
}

func (f fakeGroundTruth) Model() string { return "fake-gt" }

func (f fakeGroundTruth) Reference(context.Context, transcribe.Audio, string) (string, error) {
	return f.text, f.err
}

type recorder struct {
	mu     sync.Mutex
	events []string
	runs   []*Run
}

func (r *recorder) publish(eventType, _ string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if eventType == EventProviderStatus {
		eventType += ":" + payload["status"].(string)
	}
	r.events = append(r.events, eventType)
}

func (r *recorder) PublishRun(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestRunner(t *testing.T, gt transcribe.GroundTruth, providers ...transcribe.Provider) (*Runner, *recorder) {
	t.Helper()
	rec := &recorder{}
	r := NewRunner(RunnerOptions{
		Registry:     transcribe.NewRegistry(providers...),
		GroundTruth:  gt,
		Timeout:      time.Second,
		PublishEvent: rec.publish,
		Publisher:    rec,
		Log:          zerolog.Nop(),
	})
	return r, rec
}

var clip = transcribe.Audio{Data: []byte("audio"), Filename: "clip.mp3"}

func TestRunnerExecute(t *testing.T) {
	good := &fakeProvider{name: "good", text: "The cat sat on the mat."}
	meh := &fakeProvider{name: "meh", text: "the cat sat on a mat"}
	broken := &fakeProvider{name: "broken", err: errors.New("HTTP 500")}
	r, rec := newTestRunner(t, nil, good, meh, broken)

	run, err := r.NewRun("en", "the cat sat on the mat", nil)
	require.NoError(t, err)
	require.Len(t, run.Results, 3)
	assert.Equal(t, "broken", run.Results[0].Provider, "results are ordered by provider name")

	require.NoError(t, r.Execute(context.Background(), run, clip))

	assert.Equal(t, RunDone, run.Status)
	assert.NotNil(t, run.FinishedAt)
	assert.Empty(t, run.Error)

	b := run.Result("broken")
	require.NotNil(t, b)
	assert.Equal(t, StatusError, b.Status)
	assert.Contains(t, b.Error, "HTTP 500")
	assert.Nil(t, b.Stats)

	g := run.Result("good")
	assert.Equal(t, StatusDone, g.Status)
	assert.Equal(t, 0.0, g.WER)
	require.NotNil(t, g.Stats)
	assert.Equal(t, 6, g.Stats.RefWords)

	m := run.Result("meh")
	assert.Equal(t, StatusDone, m.Status)
	assert.InDelta(t, 1.0/6.0, m.WER, 1e-9)
	assert.Equal(t, 1, m.Stats.Substitutions)
	assert.Len(t, m.Alignment, 6)

	ranked := Ranking(run.Results)
	require.Len(t, ranked, 2)
	assert.Equal(t, "good", ranked[0].Provider)
	assert.Equal(t, "meh", ranked[1].Provider)

	stored, err := r.Store().Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunDone, stored.Status)
	assert.Equal(t, StatusDone, stored.Result("good").Status)

	assert.Equal(t, 1, rec.count(EventRunStarted))
	assert.Equal(t, 3, rec.count(EventProviderStatus+":running"))
	assert.Equal(t, 2, rec.count(EventProviderStatus+":done"))
	assert.Equal(t, 1, rec.count(EventProviderStatus+":error"))
	assert.Equal(t, 1, rec.count(EventRunFinished))
	require.Len(t, rec.runs, 1)
	assert.Equal(t, run.ID, rec.runs[0].ID)
}

func TestRunnerProviderLanguage(t *testing.T) {
	sm := &fakeProvider{name: "speechmatics", text: "ni hao"}
	oa := &fakeProvider{name: "openai", text: "ni hao"}
	r, _ := newTestRunner(t, nil, sm, oa)

	run, err := r.NewRun("zh", "ni hao", nil)
	require.NoError(t, err)
	require.NoError(t, r.Execute(context.Background(), run, clip))

	assert.Equal(t, "cmn", sm.language)
	assert.Equal(t, "zh", oa.language)
}

func TestRunnerTimeout(t *testing.T) {
	slow := &fakeProvider{name: "slow", text: "late", delay: 5 * time.Second}
	fast := &fakeProvider{name: "fast", text: "hello world"}
	r, _ := newTestRunner(t, nil, slow, fast)
	r.opts.Timeout = 50 * time.Millisecond

	run, err := r.NewRun("en", "hello world", nil)
	require.NoError(t, err)
	require.NoError(t, r.Execute(context.Background(), run, clip))

	assert.Equal(t, StatusError, run.Result("slow").Status)
	assert.Contains(t, run.Result("slow").Error, context.DeadlineExceeded.Error())
	assert.Equal(t, StatusDone, run.Result("fast").Status)
}

func TestRunnerGroundTruth(t *testing.T) {
	p := &fakeProvider{name: "p", text: "hello there general kenobi"}

	t.Run("reference_from_ground_truth", func(t *testing.T) {
		r, rec := newTestRunner(t, fakeGroundTruth{text: "Speaker 1: Hello there.\nSpeaker 2: General Kenobi!"}, p)
		run, err := r.NewRun("en", "   ", nil)
		require.NoError(t, err)
		assert.Empty(t, run.Reference)

		require.NoError(t, r.Execute(context.Background(), run, clip))
		assert.Equal(t, "Hello there.\nGeneral Kenobi!", run.Reference)
		assert.Equal(t, "fake-gt", run.ReferenceSource)
		assert.Equal(t, 0.0, run.Result("p").WER)
		assert.Equal(t, 1, rec.count(EventGroundTruth))
	})

	t.Run("no_source", func(t *testing.T) {
		r, rec := newTestRunner(t, nil, p)
		run, err := r.NewRun("en", "", nil)
		require.NoError(t, err)

		err = r.Execute(context.Background(), run, clip)
		require.ErrorIs(t, err, ErrNoReference)
		assert.Equal(t, RunDone, run.Status)
		assert.NotEmpty(t, run.Error)
		assert.Equal(t, StatusError, run.Result("p").Status)
		assert.Equal(t, 1, rec.count(EventRunFinished))
	})

	t.Run("source_fails", func(t *testing.T) {
		r, _ := newTestRunner(t, fakeGroundTruth{err: errors.New("quota exceeded")}, p)
		run, err := r.NewRun("en", "", nil)
		require.NoError(t, err)

		err = r.Execute(context.Background(), run, clip)
		require.Error(t, err)
		assert.Contains(t, run.Error, "quota exceeded")
	})
}

func TestRunnerNewRun(t *testing.T) {
	r, _ := newTestRunner(t, nil, &fakeProvider{name: "a"}, &fakeProvider{name: "b"})

	run, err := r.NewRun("", "ref", []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, "en", run.Language)
	assert.Equal(t, "user", run.ReferenceSource)
	require.Len(t, run.Results, 1)
	assert.Equal(t, "b-model", run.Results[0].Model)
	assert.Equal(t, StatusPending, run.Results[0].Status)

	_, err = r.NewRun("en", "ref", []string{"nope"})
	assert.ErrorIs(t, err, transcribe.ErrUnknownProvider)

	empty, _ := newTestRunner(t, nil)
	_, err = empty.NewRun("en", "ref", nil)
	assert.ErrorIs(t, err, transcribe.ErrNotConfigured)
}

func TestRanking(t *testing.T) {
	results := []Result{
		{Provider: "a", Status: StatusDone, WER: 0.2, DurationMs: 100},
		{Provider: "b", Status: StatusError},
		{Provider: "c", Status: StatusDone, WER: 0.1, DurationMs: 900},
		{Provider: "d", Status: StatusDone, WER: 0.2, DurationMs: 50},
		{Provider: "e", Status: StatusRunning},
	}
	ranked := Ranking(results)
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"c", "d", "a"}, []string{ranked[0].Provider, ranked[1].Provider, ranked[2].Provider})
	assert.Empty(t, Ranking(nil))
}

func TestRunClone(t *testing.T) {
	run := NewRun("en", "a b", []ProviderRef{{Name: "x"}})
	r, _ := newTestRunner(t, nil, &fakeProvider{name: "x", text: "a c"})
	require.NoError(t, r.Execute(context.Background(), run, clip))

	c := run.Clone()
	c.Results[0].Stats.Substitutions = 99
	c.Results[0].Alignment[0].Ref = "zzz"
	*c.FinishedAt = time.Time{}

	assert.Equal(t, 1, run.Results[0].Stats.Substitutions)
	assert.Equal(t, "a", run.Results[0].Alignment[0].Ref)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	base := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		run := NewRun("en", "ref", nil)
		run.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Save(ctx, run))
		ids = append(ids, run.ID)
	}

	_, err := s.Get(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotFound, "oldest run should be evicted")

	list, err := s.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID, "newest first")

	list, err = s.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[1], list[0].ID)

	list, err = s.List(ctx, 50, math.MaxInt)
	require.NoError(t, err)
	assert.Empty(t, list)

	got, err := s.Get(ctx, ids[1])
	require.NoError(t, err)
	got.Status = "mutated"
	again, _ := s.Get(ctx, ids[1])
	assert.Equal(t, RunPending, again.Status, "Get returns a copy")
}

func TestQueue(t *testing.T) {
	block := make(chan struct{})
	p := &fakeProvider{name: "p", text: "hello", block: block}
	r, _ := newTestRunner(t, nil, p)
	r.opts.Timeout = 5 * time.Second

	q := NewQueue(QueueOptions{Runner: r, Workers: 1, QueueSize: 1, Log: zerolog.Nop()})
	q.Start()

	submit := func() (*Run, error) {
		run, err := r.NewRun("en", "hello", nil)
		require.NoError(t, err)
		return run, q.Submit(context.Background(), Job{Run: run, Audio: clip})
	}

	first, err := submit()
	require.NoError(t, err)

	// Wait for the worker to pick up the first job so the slot is free.
	require.Eventually(t, func() bool { return q.RunningJobs() == 1 }, time.Second, 5*time.Millisecond)

	second, err := submit()
	require.NoError(t, err)
	assert.Equal(t, 1, q.QueueDepth())

	rejected, err := submit()
	assert.ErrorIs(t, err, ErrQueueFull)
	_, err = r.Store().Get(context.Background(), rejected.ID)
	assert.ErrorIs(t, err, ErrNotFound, "rejected runs are not stored")
	assert.False(t, q.Enqueue(Job{Run: rejected, Audio: clip}))

	close(block)
	q.Stop()

	for _, run := range []*Run{first, second} {
		stored, err := r.Store().Get(context.Background(), run.ID)
		require.NoError(t, err)
		assert.Equal(t, RunDone, stored.Status)
		assert.Equal(t, StatusDone, stored.Results[0].Status)
	}

	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, 0, stats.Pending)

	_, err = submit()
	assert.ErrorIs(t, err, ErrQueueStopped)
	assert.False(t, q.Enqueue(Job{}))
	q.Stop() // idempotent
}

func TestQueueCountsFailures(t *testing.T) {
	r, _ := newTestRunner(t, nil, &fakeProvider{name: "p", text: "x"})
	q := NewQueue(QueueOptions{Runner: r, Workers: 0, QueueSize: 0, Log: zerolog.Nop()})
	assert.Equal(t, 1, q.Workers())
	q.Start()

	run, err := r.NewRun("en", "", nil)
	require.NoError(t, err)
	require.True(t, q.Enqueue(Job{Run: run, Audio: clip}))
	q.Stop()

	assert.Equal(t, int64(1), q.Stats().Failed)
}
