package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler re-uploads recent run audio that never reached S3, e.g.
// because the async queue was full or the process died mid-upload.
type UploadReconciler struct {
	cacheDir string
	s3       *S3Store
	delay    time.Duration
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewUploadReconciler creates a reconciler that checks the last day of
// cached runs every five minutes, starting two minutes after Start.
func NewUploadReconciler(cacheDir string, s3 *S3Store, log zerolog.Logger) *UploadReconciler {
	ctx, cancel := context.WithCancel(context.Background())
	return &UploadReconciler{
		cacheDir: cacheDir,
		s3:       s3,
		delay:    2 * time.Minute,
		interval: 5 * time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { r.cancel() }

func (r *UploadReconciler) loop() {
	// Uploads queued at startup get a head start.
	select {
	case <-time.After(r.delay):
	case <-r.ctx.Done():
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.reconcile(r.ctx)
		select {
		case <-ticker.C:
		case <-r.ctx.Done():
			return
		}
	}
}

// reconcileResult lists the runs one pass touched.
type reconcileResult struct {
	checked  int
	uploaded []string
	failed   []string
}

func (r *UploadReconciler) reconcile(ctx context.Context) reconcileResult {
	var res reconcileResult
	since := time.Now().UTC().Add(-r.window).Truncate(24 * time.Hour)
	runs, _ := cachedRuns(r.cacheDir, since)

	for _, run := range runs {
		if ctx.Err() != nil {
			break
		}
		res.checked++

		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		synced := r.s3.Exists(hctx, run.key)
		cancel()
		if synced {
			continue
		}

		data, err := os.ReadFile(run.path)
		if err != nil {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = r.s3.Save(pctx, run.key, data, ContentTypeFromExt(filepath.Ext(run.path)))
		cancel()
		if err != nil {
			r.log.Warn().Err(err).Str("run_id", run.id).Str("key", run.key).Msg("reconcile upload failed")
			res.failed = append(res.failed, run.id)
			continue
		}
		res.uploaded = append(res.uploaded, run.id)
	}

	if len(res.uploaded) > 0 || len(res.failed) > 0 {
		r.log.Info().
			Int("checked", res.checked).
			Strs("run_ids", res.uploaded).
			Strs("failed_run_ids", res.failed).
			Msg("reconcile complete")
	}
	return res
}

// isTempFile reports whether name is an in-progress LocalStore write.
func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".audio-") && strings.HasSuffix(name, ".tmp")
}
