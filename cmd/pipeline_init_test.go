package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apm-cli/internal/config"
	"github.com/sells-group/apm-cli/internal/inference"
)

func testCLIConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "apm.db"),
		},
	}
	c.Batch.MaxConcurrentApps = 4
	c.Assessment.Threshold = 60
	c.Assessment.TranscriptMinConfidence = 0.3
	return c
}

func TestPipelineEnv_Close_Nil(t *testing.T) {
	pe := &pipelineEnv{}
	assert.NotPanics(t, func() {
		pe.Close()
	})
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = testCLIConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	assert.NoError(t, st.Ping(context.Background()))
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = testCLIConfig(t)
	cfg.Store.Driver = "mysql"

	st, err := initStore(context.Background())
	assert.Nil(t, st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitPipeline_StoreMode(t *testing.T) {
	cfg = testCLIConfig(t)

	env, err := initPipeline(context.Background(), "store")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Pipeline)
	assert.NotNil(t, env.Catalog)
	assert.Positive(t, env.Catalog.Len())
}

func TestInitPipeline_InferenceNeedsKey(t *testing.T) {
	cfg = testCLIConfig(t)

	env, err := initPipeline(context.Background(), "inference")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestInitPipeline_MissingCatalogFile(t *testing.T) {
	cfg = testCLIConfig(t)
	cfg.Assessment.CatalogFile = filepath.Join(t.TempDir(), "missing.yaml")

	env, err := initPipeline(context.Background(), "store")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load question catalog")
}

func TestCostRates(t *testing.T) {
	rates := costRates(config.PricingConfig{
		Anthropic: map[string]config.ModelPricing{
			"claude-test": {Input: 1, Output: 5, BatchDiscount: 0.5},
		},
		Perplexity: config.PerplexityPricing{PerQuery: 0.01},
	})

	require.Contains(t, rates.Anthropic, "claude-test")
	assert.Equal(t, 5.0, rates.Anthropic["claude-test"].Output)
	assert.Equal(t, 0.5, rates.Anthropic["claude-test"].BatchDiscount)
	assert.Equal(t, 0.01, rates.Perplexity.PerQuery)
}

func TestOfflineResponder(t *testing.T) {
	_, err := offlineResponder{}.Infer(context.Background(), inference.Request{Task: inference.TaskSuggestScores})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
}
