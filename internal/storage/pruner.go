package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ActiveFunc reports whether a benchmark run still needs its audio, i.e. it
// is pending or running. A nil ActiveFunc treats every run as finished.
type ActiveFunc func(ctx context.Context, runID string) bool

// CachePruner evicts cached run audio from local disk once the copy in S3
// is confirmed. Audio is evicted one run at a time, oldest first, and never
// for a run that is still being benchmarked.
type CachePruner struct {
	cacheDir  string
	retention time.Duration
	maxBytes  int64
	interval  time.Duration
	s3        *S3Store
	active    ActiveFunc
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewCachePruner creates a pruner that evicts run audio older than retention
// or while the cache exceeds maxGB. Zero disables either limit.
func NewCachePruner(cacheDir string, retention time.Duration, maxGB int, s3 *S3Store, active ActiveFunc, log zerolog.Logger) *CachePruner {
	return &CachePruner{
		cacheDir:  cacheDir,
		retention: retention,
		maxBytes:  int64(maxGB) << 30,
		interval:  time.Hour,
		s3:        s3,
		active:    active,
		log:       log.With().Str("component", "cache-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *CachePruner) Start() {
	go p.loop()
}

func (p *CachePruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *CachePruner) loop() {
	p.prune(context.Background())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune(context.Background())
		case <-p.stop:
			return
		}
	}
}

// cachedRun is one run's audio file in the cache.
type cachedRun struct {
	id      string
	key     string
	path    string
	modTime time.Time
	size    int64
}

// pruneResult summarizes one prune pass.
type pruneResult struct {
	pruned      []string
	freed       int64
	remaining   int64
	skipActive  []string
	skipNotInS3 []string
}

func (p *CachePruner) prune(ctx context.Context) pruneResult {
	var res pruneResult
	if p.retention == 0 && p.maxBytes == 0 {
		return res
	}

	runs, total := cachedRuns(p.cacheDir, time.Time{})
	res.remaining = total
	cutoff := time.Now().Add(-p.retention)

	for _, r := range runs {
		expired := p.retention > 0 && r.modTime.Before(cutoff)
		over := p.maxBytes > 0 && res.remaining > p.maxBytes
		if !expired && !over {
			continue
		}
		if p.active != nil && p.active(ctx, r.id) {
			res.skipActive = append(res.skipActive, r.id)
			continue
		}
		if p.s3 != nil {
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			inS3 := p.s3.Exists(hctx, r.key)
			cancel()
			if !inS3 {
				res.skipNotInS3 = append(res.skipNotInS3, r.id)
				continue
			}
		}
		if err := os.Remove(r.path); err != nil {
			p.log.Warn().Err(err).Str("run_id", r.id).Msg("failed to evict cached audio")
			continue
		}
		res.pruned = append(res.pruned, r.id)
		res.freed += r.size
		res.remaining -= r.size
	}

	p.removeEmptyDirs()

	if len(res.pruned) > 0 || len(res.skipNotInS3) > 0 {
		p.log.Info().
			Strs("run_ids", res.pruned).
			Str("freed", humanizeBytes(res.freed)).
			Str("remaining", humanizeBytes(res.remaining)).
			Strs("skipped_active", res.skipActive).
			Strs("skipped_not_in_s3", res.skipNotInS3).
			Msg("cache prune complete")
	}
	return res
}

// cachedRuns lists run audio under YYYY-MM-DD directories dated on or
// after since, oldest first, and returns their total size. Anything outside
// a dated directory is not run audio and is ignored.
func cachedRuns(cacheDir string, since time.Time) ([]cachedRun, int64) {
	var runs []cachedRun
	var total int64

	days, _ := os.ReadDir(cacheDir)
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		date, err := time.Parse("2006-01-02", day.Name())
		if err != nil || date.Before(since) {
			continue
		}
		files, _ := os.ReadDir(filepath.Join(cacheDir, day.Name()))
		for _, f := range files {
			if f.IsDir() || isTempFile(f.Name()) {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			runs = append(runs, cachedRun{
				id:      strings.TrimSuffix(f.Name(), filepath.Ext(f.Name())),
				key:     path.Join(day.Name(), f.Name()),
				path:    filepath.Join(cacheDir, day.Name(), f.Name()),
				modTime: info.ModTime(),
				size:    info.Size(),
			})
			total += info.Size()
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].modTime.Before(runs[j].modTime)
	})
	return runs, total
}

// removeEmptyDirs deletes date directories left empty by pruning.
func (p *CachePruner) removeEmptyDirs() {
	entries, _ := os.ReadDir(p.cacheDir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(p.cacheDir, e.Name())
		if left, _ := os.ReadDir(dir); len(left) == 0 {
			os.Remove(dir)
		}
	}
}

func humanizeBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
