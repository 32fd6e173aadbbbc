package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.OwnerID)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "contracts.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "local", cfg.Blob.Provider)
	assert.Equal(t, "uploads", cfg.Blob.Root)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.NotEmpty(t, cfg.Anthropic.Model)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, "pdftotext", cfg.OCR.PdfToTextPath)
	assert.Equal(t, 120, cfg.Extraction.TimeoutSecs)
	assert.Equal(t, 120*time.Second, cfg.Extraction.Timeout())
	assert.Equal(t, 5, cfg.Extraction.MaxConcurrentDocuments)
	assert.InDelta(t, 2.0, cfg.Extraction.RatePerSec, 0.001)
	assert.Equal(t, 3, cfg.Extraction.RetryMaxAttempts)
	assert.Equal(t, 1, cfg.Evolution.SuggestionQueueCapacity)
	assert.Equal(t, 2, cfg.Evolution.BackfillConcurrency)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Schema.SeedFile)
	assert.True(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.10, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/contracts
log:
  level: debug
  format: console
server:
  port: 9090
evolution:
  suggestion_queue_capacity: 4
schema:
  seed_file: columns.yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/contracts", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Evolution.SuggestionQueueCapacity)
	assert.Equal(t, "columns.yaml", cfg.Schema.SeedFile)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Extraction.MaxConcurrentDocuments)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CONTRACT_STORE_DRIVER", "postgres")
	t.Setenv("CONTRACT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CONTRACT_SERVER_PORT", "3000")
	t.Setenv("CONTRACT_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "contracts.db"
	cfg.Blob.Provider = "local"
	cfg.Blob.Root = "uploads"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.OCR.Provider = "local"
	cfg.Extraction.TimeoutSecs = 120
	cfg.Extraction.MaxConcurrentDocuments = 5
	cfg.Evolution.SuggestionQueueCapacity = 1
	cfg.Evolution.BackfillConcurrency = 2
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllModesValid(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"serve", "analyze", "columns", "migrate"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateAnalyze_MissingKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""

	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	// Schema-only modes do not call the model.
	assert.NoError(t, cfg.Validate("columns"))
}

func TestValidateServe_CollectsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Anthropic.Key = ""
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidate_MistralNeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.OCR.Provider = "mistral"

	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.mistral_key is required")

	cfg.OCR.MistralKey = "m-key"
	assert.NoError(t, cfg.Validate("analyze"))

	cfg.OCR.Provider = "tesseract"
	err = cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.provider must be local or mistral")
}

func TestValidate_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Extraction.MaxConcurrentDocuments = 0
	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_documents must be between 1 and 50")

	cfg.Extraction.MaxConcurrentDocuments = 51
	assert.Error(t, cfg.Validate("analyze"))

	cfg.Extraction.MaxConcurrentDocuments = 50
	assert.NoError(t, cfg.Validate("analyze"))

	cfg.Evolution.SuggestionQueueCapacity = 0
	err = cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suggestion_queue_capacity")
}

func TestValidate_Blob(t *testing.T) {
	cfg := validDefaults()
	cfg.Blob.Provider = "gcs"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob.bucket is required")

	cfg.Blob.Bucket = "contracts"
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Blob.Provider = "s3"
	assert.Error(t, cfg.Validate("serve"))
}

func TestValidate_Monitoring(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.Enabled = true
	cfg.Monitoring.FailureRateThreshold = 1.5

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold")
	assert.Contains(t, err.Error(), "monitoring.lookback_window_hours")

	cfg.Monitoring.Enabled = false
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
