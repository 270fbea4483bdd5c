package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentApps)
	assert.Equal(t, 10, cfg.Anthropic.SmallBatchThreshold)
	assert.Equal(t, 4096, cfg.Anthropic.MaxTokens)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.InDelta(t, 60.0, cfg.Assessment.Threshold, 0.001)
	assert.InDelta(t, 20.0, cfg.Assessment.Scale, 0.001)
	assert.InDelta(t, 0.3, cfg.Assessment.TranscriptMinConfidence, 0.001)
	assert.Equal(t, 15000, cfg.Assessment.MaxTranscriptChars)
	assert.Equal(t, 8, cfg.Assessment.MaxPortfolioInsights)
	assert.InDelta(t, 30.0, cfg.Assessment.ValueWeights["strategic_fit"], 0.001)
	assert.InDelta(t, 15.0, cfg.Assessment.HealthWeights["support_quality"], 0.001)
	assert.Contains(t, cfg.Assessment.CommercialVendors, "ServiceNow")
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/apm
log:
  level: debug
  format: console
assessment:
  threshold: 55
  commercial_vendors: [Acme]
batch:
  max_concurrent_apps: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/apm", cfg.Store.DatabaseURL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 55.0, cfg.Assessment.Threshold, 0.001)
	assert.Equal(t, []string{"Acme"}, cfg.Assessment.CommercialVendors)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrentApps)
	// Defaults still apply for unset values
	assert.Equal(t, 15000, cfg.Assessment.MaxTranscriptChars)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("APM_STORE_DRIVER", "postgres")
	t.Setenv("APM_LOG_LEVEL", "warn")
	t.Setenv("APM_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadEnvOnlyKeys(t *testing.T) {
	chdirTemp(t)

	t.Setenv("APM_ANTHROPIC_KEY", "sk-ant-env")
	t.Setenv("APM_ANTHROPIC_NO_BATCH", "true")
	t.Setenv("APM_PERPLEXITY_KEY", "pplx-env")
	t.Setenv("APM_STORE_DATABASE_URL", "postgres://apm@localhost/apm")
	t.Setenv("APM_ASSESSMENT_CATALOG_FILE", "/etc/apm/catalog.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-env", cfg.Anthropic.Key)
	assert.True(t, cfg.Anthropic.NoBatch)
	assert.Equal(t, "pplx-env", cfg.Perplexity.Key)
	assert.Equal(t, "postgres://apm@localhost/apm", cfg.Store.DatabaseURL)
	assert.Equal(t, "/etc/apm/catalog.yaml", cfg.Assessment.CatalogFile)
	require.NoError(t, cfg.Validate("inference"))
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

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
	cfg.Batch.MaxConcurrentApps = 4
	cfg.Assessment.Threshold = 60
	cfg.Assessment.TranscriptMinConfidence = 0.3
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "postgres"
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/apm"
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateInference_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("inference")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("inference"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRanges(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrentApps = 0
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_apps must be between 1 and 50")
	cfg.Batch.MaxConcurrentApps = 4

	cfg.Assessment.Threshold = 120
	err = cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assessment.threshold")
	cfg.Assessment.Threshold = 60

	cfg.Assessment.TranscriptMinConfidence = 1.5
	err = cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcript_min_confidence")
	cfg.Assessment.TranscriptMinConfidence = 0.3

	cfg.Assessment.HealthWeights = map[string]float64{"architecture": -1}
	err = cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health_weights.architecture must be >= 0")
}
