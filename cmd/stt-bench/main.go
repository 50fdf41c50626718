package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	sttbench "github.com/snarg/stt-bench"
	"github.com/snarg/stt-bench/internal/api"
	"github.com/snarg/stt-bench/internal/benchmark"
	"github.com/snarg/stt-bench/internal/config"
	"github.com/snarg/stt-bench/internal/database"
	"github.com/snarg/stt-bench/internal/ingest"
	"github.com/snarg/stt-bench/internal/metrics"
	"github.com/snarg/stt-bench/internal/mqttclient"
	"github.com/snarg/stt-bench/internal/storage"
	"github.com/snarg/stt-bench/internal/transcribe"
)

var version = "dev"

// memoryStoreRuns caps in-memory history when no database is configured.
const memoryStoreRuns = 500

func main() {
	startTime := time.Now()

	// CLI flags
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "Audio storage directory (overrides AUDIO_DIR)")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "Drop folder for batch benchmarks (overrides WATCH_DIR)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("stt-bench", version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("stt-bench starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database (optional; runs are kept in memory without one)
	var (
		db    *database.DB
		pool  *pgxpool.Pool
		store benchmark.Store
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, database.PoolOptions{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		}, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx, sttbench.SchemaSQL); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		pool = db.Pool
		store = db.Runs()
	} else {
		log.Warn().Int("max_runs", memoryStoreRuns).Msg("DATABASE_URL not set, benchmark runs are kept in memory")
		store = benchmark.NewMemoryStore(memoryStoreRuns)
	}

	// Audio storage
	storeLog := log.With().Str("component", "storage").Logger()
	audioStore, services, err := storage.New(cfg.S3, cfg.AudioDir, activeRun(store), storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audio storage")
	}
	for _, svc := range services {
		svc.Start()
		defer svc.Stop()
	}
	log.Info().Str("type", audioStore.Type()).Str("audio_dir", cfg.AudioDir).Msg("audio storage ready")

	// Providers
	registry := transcribe.RegistryFromConfig(cfg.Providers, cfg.TranscribeTimeout)
	if registry.Len() == 0 {
		log.Warn().Msg("no transcription providers configured, set OPENAI_API_KEY, WHISPER_URL, DEEPINFRA_API_KEY, ELEVENLABS_API_KEY, DEEPGRAM_API_KEY, GOOGLE_CLOUD_API_KEY, SONIOX_API_KEY, SPEECHMATICS_API_KEY or SARVAM_API_KEY")
	} else {
		log.Info().Strs("providers", registry.Names()).Msg("transcription providers configured")
	}

	var groundTruth transcribe.GroundTruth
	if cfg.Providers.GeminiAPIKey != "" {
		gemini, err := transcribe.NewGeminiClient(ctx, cfg.Providers.GeminiAPIKey, cfg.Providers.GeminiModel, cfg.TranscribeTimeout)
		if err != nil {
			log.Warn().Err(err).Msg("gemini ground truth unavailable")
		} else {
			groundTruth = gemini
			log.Info().Str("model", gemini.Model()).Msg("ground truth enabled")
		}
	}

	// Event bus for SSE
	bus := ingest.NewEventBus(1000)

	// MQTT (optional)
	var mqtt *mqttclient.Client
	if cfg.MQTT.Enabled() {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Topic:     cfg.MQTT.Topic,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Log:       mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
	}

	// Benchmark runner and worker pool
	runnerOpts := benchmark.RunnerOptions{
		Registry:     registry,
		GroundTruth:  groundTruth,
		Store:        store,
		Timeout:      cfg.TranscribeTimeout,
		Preprocess:   cfg.PreprocessAudio,
		PublishEvent: bus.PublishBenchmark,
		Log:          log.With().Str("component", "runner").Logger(),
	}
	if mqtt != nil {
		runnerOpts.Publisher = mqtt
	}
	runner := benchmark.NewRunner(runnerOpts)

	queue := benchmark.NewQueue(benchmark.QueueOptions{
		Runner:    runner,
		Workers:   cfg.BenchWorkers,
		QueueSize: cfg.BenchQueueSize,
		Log:       log.With().Str("component", "queue").Logger(),
	})
	queue.Start()

	// Drop-folder watcher (optional)
	var watcher *ingest.FileWatcher
	if cfg.WatchDir != "" {
		watcher = ingest.NewFileWatcher(ingest.WatcherOptions{
			WatchDir: cfg.WatchDir,
			Runner:   runner,
			Queue:    queue,
			Audio:    audioStore,
			Log:      log,
		})
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("watch_dir", cfg.WatchDir).Msg("failed to start file watcher")
		}
	}

	// Metrics
	prometheus.MustRegister(metrics.NewCollector(pool, benchStats{queue: queue, bus: bus}))

	// HTTP Server
	serverOpts := api.ServerOptions{
		Config:    cfg,
		Runner:    runner,
		Queue:     queue,
		Audio:     audioStore,
		Events:    bus,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}
	if db != nil {
		serverOpts.DB = db
	}
	if mqtt != nil {
		serverOpts.MQTT = mqtt
	}
	if watcher != nil {
		serverOpts.Watcher = watcher
	}
	srv := api.NewServer(serverOpts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if watcher != nil {
		watcher.Stop()
	}
	queue.Stop()

	log.Info().Msg("stt-bench stopped")
}

// benchStats feeds queue and SSE state to the metrics collector.
type benchStats struct {
	queue *benchmark.Queue
	bus   *ingest.EventBus
}

func (s benchStats) QueueDepth() int         { return s.queue.QueueDepth() }
func (s benchStats) RunningJobs() int        { return s.queue.RunningJobs() }
func (s benchStats) SSESubscriberCount() int { return s.bus.SubscriberCount() }

// activeRun reports whether a run is still pending or running so its cached
// audio is kept. Runs that cannot be loaded count as finished.
func activeRun(store benchmark.Store) storage.ActiveFunc {
	return func(ctx context.Context, runID string) bool {
		run, err := store.Get(ctx, runID)
		if err != nil {
			return false
		}
		return run.Status != benchmark.RunDone
	}
}
