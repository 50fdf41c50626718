package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-bench/internal/benchmark"
	"github.com/snarg/stt-bench/internal/config"
	"github.com/snarg/stt-bench/internal/metrics"
	"github.com/snarg/stt-bench/internal/storage"
)

// ServerOptions holds everything the HTTP API serves. Optional components
// are nil when not configured.
type ServerOptions struct {
	Config    *config.Config
	Runner    *benchmark.Runner
	Queue     *benchmark.Queue
	Audio     storage.AudioStore
	Events    EventSource
	Watcher   WatcherStatus
	DB        HealthChecker
	MQTT      ConnectionChecker
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	log := opts.Log

	r := NewRouter(opts)

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter builds the chi router with all middleware and routes.
func NewRouter(opts ServerOptions) chi.Router {
	cfg := opts.Config
	r := chi.NewRouter()

	health := HealthOptions{
		DB:        opts.DB,
		MQTT:      opts.MQTT,
		Watcher:   opts.Watcher,
		Providers: opts.Runner.Registry().Names(),
		Version:   opts.Version,
		StartTime: opts.StartTime,
	}
	if opts.Queue != nil {
		health.Queue = opts.Queue
	}
	if opts.Audio != nil {
		health.Storage = opts.Audio.Type()
	}

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOriginList()))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		r.Get("/health", NewHealthHandler(health).ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			r.Use(MaxBodySize(cfg.MaxUploadMB << 20))

			NewWERHandler().Routes(r)
			NewTranscribeHandler(opts.Runner.Registry(), opts.Runner.GroundTruth(), cfg.PreprocessAudio, opts.Log).Routes(r)
			NewBenchmarksHandler(opts.Runner, opts.Queue, opts.Audio, opts.Log).Routes(r)
			NewEventsHandler(opts.Events).Routes(r)
		})
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
