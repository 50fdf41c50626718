package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-bench/internal/api"
	"github.com/snarg/stt-bench/internal/benchmark"
	"github.com/snarg/stt-bench/internal/storage"
	"github.com/snarg/stt-bench/internal/transcribe"
)

// processedDir is the subdirectory of the watch dir that submitted files are
// moved into, so a restart does not benchmark them again.
const processedDir = "processed"

var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true,
	".flac": true, ".ogg": true, ".webm": true,
}

// WatcherOptions configures a FileWatcher.
type WatcherOptions struct {
	WatchDir string
	Runner   *benchmark.Runner
	Queue    *benchmark.Queue
	Audio    storage.AudioStore // optional; when set, audio is retained under storage.Key
	Debounce time.Duration
	Log      zerolog.Logger
}

// FileWatcher monitors a drop folder for audio files and submits each one as
// a benchmark run against all configured providers. An optional sidecar
// <name>.txt holds the reference transcript and <name>.lang the language code.
type FileWatcher struct {
	opts WatcherOptions
	log  zerolog.Logger
	ctx  context.Context

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	// Stats
	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
	status         atomic.Value // string: "starting", "watching", "stopped"
}

// NewFileWatcher creates a drop-folder watcher. Call Start to begin watching.
func NewFileWatcher(opts WatcherOptions) *FileWatcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	fw := &FileWatcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
	fw.status.Store("starting")
	return fw
}

// Start initializes the fsnotify watcher, submits audio already waiting in
// the folder, and begins watching for new files.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(fw.opts.WatchDir, processedDir), 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(fw.opts.WatchDir); err != nil {
		w.Close()
		return err
	}
	fw.watcher = w
	fw.ctx, fw.cancel = context.WithCancel(ctx)

	fw.log.Info().Str("watch_dir", fw.opts.WatchDir).Msg("file watcher initialized")

	go fw.watchLoop()
	fw.backfill()
	fw.status.Store("watching")
	return nil
}

// Stop closes the fsnotify watcher and cancels pending debounced files.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	if fw.cancel != nil {
		fw.cancel()
	}
	if fw.watcher != nil {
		fw.watcher.Close()
	}

	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.log.Info().
		Int64("files_processed", fw.filesProcessed.Load()).
		Int64("files_skipped", fw.filesSkipped.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (fw *FileWatcher) Status() *api.WatcherStatusData {
	s, _ := fw.status.Load().(string)
	return &api.WatcherStatusData{
		Status:         s,
		WatchDir:       fw.opts.WatchDir,
		FilesProcessed: fw.filesProcessed.Load(),
		FilesSkipped:   fw.filesSkipped.Load(),
	}
}

// watchLoop is the main event loop that processes fsnotify events.
func (fw *FileWatcher) watchLoop() {
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isAudioFile(event.Name) {
				continue
			}
			fw.scheduleProcess(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces file processing. This coalesces rapid
// Create+Write events and gives uploaders time to drop the sidecar files.
func (fw *FileWatcher) scheduleProcess(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(fw.opts.Debounce)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(fw.opts.Debounce, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		if fw.ctx.Err() != nil {
			return
		}
		fw.processFile(path)
	})
}

// backfill submits audio files that were dropped while the server was down.
func (fw *FileWatcher) backfill() {
	entries, err := os.ReadDir(fw.opts.WatchDir)
	if err != nil {
		fw.log.Warn().Err(err).Msg("failed to list watch directory")
		return
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !isAudioFile(e.Name()) {
			continue
		}
		fw.processFile(filepath.Join(fw.opts.WatchDir, e.Name()))
		n++
	}
	if n > 0 {
		fw.log.Info().Int("files", n).Msg("backfill complete")
	}
}

// processFile reads an audio file and its sidecars and submits a benchmark
// run. Files rejected because the queue is full stay in place and are picked
// up again on the next start.
func (fw *FileWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fw.log.Warn().Err(err).Str("path", path).Msg("failed to read audio file")
		}
		return
	}
	if len(data) == 0 {
		fw.filesSkipped.Add(1)
		return
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))
	reference := readSidecar(base + ".txt")
	language := readSidecar(base + ".lang")

	run, err := fw.opts.Runner.NewRun(language, reference, nil)
	if err != nil {
		fw.filesSkipped.Add(1)
		fw.log.Warn().Err(err).Str("path", path).Msg("cannot create benchmark run")
		return
	}

	audio := transcribe.Audio{Data: data, Filename: filepath.Base(path)}
	run.AudioName = audio.Filename

	if fw.opts.Audio != nil {
		key := storage.Key(run.ID, run.CreatedAt, audio.Ext())
		if err := fw.opts.Audio.Save(fw.ctx, key, data, audio.MIMEType()); err != nil {
			fw.log.Warn().Err(err).Str("key", key).Msg("failed to store audio")
		} else {
			run.AudioKey = key
		}
	}

	if err := fw.opts.Queue.Submit(fw.ctx, benchmark.Job{Run: run, Audio: audio}); err != nil {
		fw.filesSkipped.Add(1)
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to submit benchmark run")
		return
	}

	fw.moveProcessed(path, base)
	fw.filesProcessed.Add(1)
	fw.log.Info().
		Str("run_id", run.ID).
		Str("file", audio.Filename).
		Bool("has_reference", reference != "").
		Msg("drop-folder benchmark submitted")
}

// moveProcessed moves the audio file and any sidecars into processedDir.
func (fw *FileWatcher) moveProcessed(path, base string) {
	dest := filepath.Join(fw.opts.WatchDir, processedDir)
	for _, p := range []string{path, base + ".txt", base + ".lang"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := os.Rename(p, filepath.Join(dest, filepath.Base(p))); err != nil {
			fw.log.Warn().Err(err).Str("path", p).Msg("failed to move processed file")
		}
	}
}

func isAudioFile(name string) bool {
	return audioExts[strings.ToLower(filepath.Ext(name))]
}

// readSidecar returns the trimmed file contents, or "" if it does not exist.
func readSidecar(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
