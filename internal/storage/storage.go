package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-bench/internal/config"
)

// AudioStore abstracts audio file storage backends.
type AudioStore interface {
	// Save stores audio data. key format: {YYYY-MM-DD}/{run-id}.{ext}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for the audio file.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an audio file exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// Key builds the storage key for a benchmark run's audio.
func Key(runID string, created time.Time, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return path.Join(created.UTC().Format("2006-01-02"), runID+"."+ext)
}

// New creates an AudioStore based on config. Returns the store and optional
// background services (uploader, pruner, reconciler) that the caller must
// Start/Stop. active keeps the pruner away from runs still in progress.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, audioDir string, active ActiveFunc, log zerolog.Logger) (AudioStore, []BackgroundService, error) {
	if !cfg.Enabled() {
		return NewLocalStore(audioDir), nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary + S3 backup
	local := NewLocalStore(audioDir)
	uploader := NewAsyncUploader(s3store, 64, 2, log)
	tiered := NewTieredStore(s3store, local, uploader, log)

	services := []BackgroundService{uploader}

	// Cache pruner
	if cfg.CacheRetention > 0 || cfg.CacheMaxGB > 0 {
		pruner := NewCachePruner(audioDir, cfg.CacheRetention, cfg.CacheMaxGB, s3store, active, log)
		services = append(services, pruner)
	}

	// Upload reconciler
	reconciler := NewUploadReconciler(audioDir, s3store, log)
	services = append(services, reconciler)

	return tiered, services, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// ContentTypeFromExt returns the MIME type for an audio file extension.
func ContentTypeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
