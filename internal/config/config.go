package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	AudioDir    string `env:"AUDIO_DIR" envDefault:"./audio"`
	WatchDir    string `env:"WATCH_DIR"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"100"`
	CORSOrigins  string        `env:"CORS_ORIGINS"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	BenchWorkers      int           `env:"BENCH_WORKERS" envDefault:"2"`
	BenchQueueSize    int           `env:"BENCH_QUEUE_SIZE" envDefault:"32"`
	TranscribeTimeout time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"120s"`
	PreprocessAudio   bool          `env:"PREPROCESS_AUDIO" envDefault:"false"`

	Providers ProviderConfig
	S3        S3Config
	MQTT      MQTTConfig
}

// ProviderConfig holds STT and ground-truth credentials. A provider is
// enabled when its key (or URL, for self-hosted whisper) is set.
type ProviderConfig struct {
	Enabled string `env:"PROVIDERS"` // optional comma list restricting the enabled set

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"whisper-1"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	WhisperURL   string `env:"WHISPER_URL"`
	WhisperModel string `env:"WHISPER_MODEL"`

	DeepInfraAPIKey string `env:"DEEPINFRA_API_KEY"`
	DeepInfraModel  string `env:"DEEPINFRA_MODEL" envDefault:"openai/whisper-large-v3-turbo"`

	ElevenLabsAPIKey   string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel    string `env:"ELEVENLABS_MODEL" envDefault:"scribe_v2"`
	ElevenLabsKeyterms string `env:"ELEVENLABS_KEYTERMS"`

	DeepgramAPIKey string `env:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `env:"DEEPGRAM_MODEL" envDefault:"nova-2"`

	GoogleAPIKey string `env:"GOOGLE_CLOUD_API_KEY"`
	GoogleModel  string `env:"GOOGLE_MODEL" envDefault:"latest_long"`

	SonioxAPIKey string `env:"SONIOX_API_KEY"`
	SonioxModel  string `env:"SONIOX_MODEL" envDefault:"stt-async-v4"`

	SpeechmaticsAPIKey         string `env:"SPEECHMATICS_API_KEY"`
	SpeechmaticsOperatingPoint string `env:"SPEECHMATICS_OPERATING_POINT" envDefault:"enhanced"`

	SarvamAPIKey string `env:"SARVAM_API_KEY"`
	SarvamModel  string `env:"SARVAM_MODEL" envDefault:"saaras:v3"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
}

// EnabledSet returns the PROVIDERS allowlist, or nil when every configured
// provider should be used.
func (p ProviderConfig) EnabledSet() map[string]bool {
	if strings.TrimSpace(p.Enabled) == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, name := range strings.Split(p.Enabled, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			set[name] = true
		}
	}
	return set
}

// S3Config configures optional object storage for uploaded audio.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Endpoint  string `env:"S3_ENDPOINT"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Prefix    string `env:"S3_PREFIX"`

	// Local cache (tiered mode): audio is written to AUDIO_DIR first and
	// uploaded to S3 in the background.
	LocalCache     bool          `env:"S3_LOCAL_CACHE" envDefault:"true"`
	CacheRetention time.Duration `env:"S3_CACHE_RETENTION" envDefault:"0s"`
	CacheMaxGB     int           `env:"S3_CACHE_MAX_GB" envDefault:"0"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// MQTTConfig configures optional publishing of finished benchmark runs.
type MQTTConfig struct {
	BrokerURL string `env:"MQTT_BROKER_URL"`
	ClientID  string `env:"MQTT_CLIENT_ID" envDefault:"stt-bench"`
	Topic     string `env:"MQTT_TOPIC" envDefault:"stt-bench/results"`
	Username  string `env:"MQTT_USERNAME"`
	Password  string `env:"MQTT_PASSWORD"`
}

// Enabled reports whether an MQTT broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.BrokerURL != ""
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
	WatchDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	if cfg.BenchWorkers < 1 {
		cfg.BenchWorkers = 1
	}
	if cfg.BenchQueueSize < 1 {
		cfg.BenchQueueSize = 1
	}

	return cfg, nil
}

// CORSOriginList splits CORS_ORIGINS into a list. Empty means allow all.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
