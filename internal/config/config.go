package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Assessment AssessmentConfig `yaml:"assessment" mapstructure:"assessment"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key                 string  `yaml:"key" mapstructure:"key"`
	Model               string  `yaml:"model" mapstructure:"model"`
	MaxTokens           int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	NoBatch             bool    `yaml:"no_batch" mapstructure:"no_batch"`
	SmallBatchThreshold int     `yaml:"small_batch_threshold" mapstructure:"small_batch_threshold"`
	RequestsPerSecond   float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	CircuitThreshold    int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs    int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// PerplexityConfig holds Perplexity API settings. An empty key disables
// market research lookups.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AssessmentConfig holds scoring and classification policy.
type AssessmentConfig struct {
	Threshold               float64            `yaml:"threshold" mapstructure:"threshold"`
	Scale                   float64            `yaml:"scale" mapstructure:"scale"`
	ValueWeights            map[string]float64 `yaml:"value_weights" mapstructure:"value_weights"`
	HealthWeights           map[string]float64 `yaml:"health_weights" mapstructure:"health_weights"`
	CommercialVendors       []string           `yaml:"commercial_vendors" mapstructure:"commercial_vendors"`
	TranscriptMinConfidence float64            `yaml:"transcript_min_confidence" mapstructure:"transcript_min_confidence"`
	MaxTranscriptChars      int                `yaml:"max_transcript_chars" mapstructure:"max_transcript_chars"`
	QuestionMatchThreshold  float64            `yaml:"question_match_threshold" mapstructure:"question_match_threshold"`
	MaxPortfolioInsights    int                `yaml:"max_portfolio_insights" mapstructure:"max_portfolio_insights"`
	CatalogFile             string             `yaml:"catalog_file" mapstructure:"catalog_file"`
}

// RetryConfig controls backoff for transient inference failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentApps int `yaml:"max_concurrent_apps" mapstructure:"max_concurrent_apps"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultCommercialVendors is the vendor list used to flag applications as
// commercial products.
var DefaultCommercialVendors = []string{
	"SAP", "Oracle", "Salesforce", "ServiceNow", "Workday",
	"Microsoft", "Adobe", "IBM", "PeopleSoft", "Maximo",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("APM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_apps", 4)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.small_batch_threshold", 10)
	v.SetDefault("anthropic.requests_per_second", 4.0)
	v.SetDefault("anthropic.circuit_threshold", 5)
	v.SetDefault("anthropic.circuit_reset_secs", 30)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("assessment.threshold", 60.0)
	v.SetDefault("assessment.scale", 20.0)
	v.SetDefault("assessment.value_weights", map[string]float64{
		"strategic_fit":       30,
		"business_efficiency": 30,
		"user_value":          20,
		"financial_value":     20,
	})
	v.SetDefault("assessment.health_weights", map[string]float64{
		"architecture":     30,
		"operational_risk": 30,
		"maintainability":  25,
		"support_quality":  15,
	})
	v.SetDefault("assessment.commercial_vendors", DefaultCommercialVendors)
	v.SetDefault("assessment.transcript_min_confidence", 0.3)
	v.SetDefault("assessment.max_transcript_chars", 15000)
	v.SetDefault("assessment.question_match_threshold", 0.75)
	v.SetDefault("assessment.max_portfolio_insights", 8)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("pricing.perplexity.per_query", 0.005)

	// Keys without defaults are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"store.database_url",
		"anthropic.key",
		"anthropic.no_batch",
		"perplexity.key",
		"assessment.catalog_file",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

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

// Validate checks that the settings a command mode depends on are present
// and within range. Modes: "store" (database only), "inference" (store plus
// Anthropic) and "serve" (inference plus a listening port).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store", "inference", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	if mode == "inference" || mode == "serve" {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if c.Batch.MaxConcurrentApps < 1 || c.Batch.MaxConcurrentApps > 50 {
		errs = append(errs, "batch.max_concurrent_apps must be between 1 and 50")
	}
	if c.Assessment.Threshold <= 0 || c.Assessment.Threshold > 100 {
		errs = append(errs, "assessment.threshold must be in (0, 100]")
	}
	if c.Assessment.TranscriptMinConfidence < 0 || c.Assessment.TranscriptMinConfidence > 1 {
		errs = append(errs, "assessment.transcript_min_confidence must be between 0 and 1")
	}
	for name, w := range c.Assessment.ValueWeights {
		if w < 0 {
			errs = append(errs, "assessment.value_weights."+name+" must be >= 0")
		}
	}
	for name, w := range c.Assessment.HealthWeights {
		if w < 0 {
			errs = append(errs, "assessment.health_weights."+name+" must be >= 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
