package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	OwnerID    string           `yaml:"owner_id" mapstructure:"owner_id"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Blob       BlobConfig       `yaml:"blob" mapstructure:"blob"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Schema     SchemaConfig     `yaml:"schema" mapstructure:"schema"`
	Evolution  EvolutionConfig  `yaml:"evolution" mapstructure:"evolution"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BlobConfig configures where original uploaded files are kept.
type BlobConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	Root     string `yaml:"root" mapstructure:"root"`
	Bucket   string `yaml:"bucket" mapstructure:"bucket"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OCRConfig configures text extraction for PDFs and images.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// ExtractionConfig bounds calls to the extraction collaborators.
type ExtractionConfig struct {
	TimeoutSecs            int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConcurrentDocuments int     `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
	RatePerSec             float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RetryMaxAttempts       int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs  int     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs      int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
}

// Timeout returns the per-call collaborator deadline.
func (e ExtractionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSecs) * time.Second
}

// SchemaConfig configures the initial column set.
type SchemaConfig struct {
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
}

// EvolutionConfig configures suggestion handling and backfill.
type EvolutionConfig struct {
	SuggestionQueueCapacity int `yaml:"suggestion_queue_capacity" mapstructure:"suggestion_queue_capacity"`
	BackfillConcurrency     int `yaml:"backfill_concurrency" mapstructure:"backfill_concurrency"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background health checker and its
// alert webhook.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("owner_id", "local")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "contracts.db")
	v.SetDefault("blob.provider", "local")
	v.SetDefault("blob.root", "uploads")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("extraction.timeout_secs", 120)
	v.SetDefault("extraction.max_concurrent_documents", 5)
	v.SetDefault("extraction.rate_per_sec", 2)
	v.SetDefault("extraction.retry_max_attempts", 3)
	v.SetDefault("extraction.retry_initial_backoff_ms", 500)
	v.SetDefault("extraction.retry_max_backoff_ms", 10000)
	v.SetDefault("evolution.suggestion_queue_capacity", 1)
	v.SetDefault("evolution.backfill_concurrency", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the requirements of a run mode: "serve", "analyze",
// "columns" or "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.extractionErrors()...)
		errs = append(errs, c.storeErrors()...)
		errs = append(errs, c.blobErrors()...)
		errs = append(errs, c.monitoringErrors()...)
	case "analyze":
		errs = append(errs, c.extractionErrors()...)
	case "columns", "migrate":
		errs = append(errs, c.storeErrors()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) extractionErrors() []string {
	var errs []string
	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	switch c.OCR.Provider {
	case "", "local":
	case "mistral":
		if c.OCR.MistralKey == "" {
			errs = append(errs, "ocr.mistral_key is required for the mistral provider")
		}
	default:
		errs = append(errs, "ocr.provider must be local or mistral")
	}
	if c.Extraction.MaxConcurrentDocuments < 1 || c.Extraction.MaxConcurrentDocuments > 50 {
		errs = append(errs, "extraction.max_concurrent_documents must be between 1 and 50")
	}
	if c.Extraction.TimeoutSecs <= 0 {
		errs = append(errs, "extraction.timeout_secs must be > 0")
	}
	if c.Evolution.SuggestionQueueCapacity < 1 {
		errs = append(errs, "evolution.suggestion_queue_capacity must be >= 1")
	}
	if c.Evolution.BackfillConcurrency < 1 {
		errs = append(errs, "evolution.backfill_concurrency must be >= 1")
	}
	return errs
}

func (c *Config) storeErrors() []string {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
	if c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	return nil
}

func (c *Config) blobErrors() []string {
	switch c.Blob.Provider {
	case "", "local":
		if c.Blob.Root == "" {
			return []string{"blob.root is required for the local provider"}
		}
	case "gcs":
		if c.Blob.Bucket == "" {
			return []string{"blob.bucket is required for the gcs provider"}
		}
	default:
		return []string{"blob.provider must be local or gcs"}
	}
	return nil
}

func (c *Config) monitoringErrors() []string {
	if !c.Monitoring.Enabled {
		return nil
	}
	var errs []string
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if c.Monitoring.LookbackWindowHours <= 0 {
		errs = append(errs, "monitoring.lookback_window_hours must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
