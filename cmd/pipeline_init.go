package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/config"
	"github.com/sells-group/apm-cli/internal/cost"
	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/internal/pipeline"
	"github.com/sells-group/apm-cli/internal/registry"
	"github.com/sells-group/apm-cli/internal/resilience"
	"github.com/sells-group/apm-cli/internal/store"
	anthropicpkg "github.com/sells-group/apm-cli/pkg/anthropic"
	"github.com/sells-group/apm-cli/pkg/perplexity"
)

// pipelineEnv holds the store, catalog and pipeline needed by commands.
type pipelineEnv struct {
	Store    store.Store
	Catalog  *registry.Catalog
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "apm.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCatalog loads the question catalog override, or the built-in one.
func initCatalog() (*registry.Catalog, error) {
	if cfg.Assessment.CatalogFile == "" {
		return registry.Default(), nil
	}
	cat, err := registry.Load(cfg.Assessment.CatalogFile)
	if err != nil {
		return nil, eris.Wrap(err, "load question catalog")
	}
	zap.L().Info("question catalog loaded",
		zap.String("file", cfg.Assessment.CatalogFile),
		zap.Int("questions", cat.Len()),
	)
	return cat, nil
}

// costRates converts configured pricing to calculator rates.
func costRates(p config.PricingConfig) cost.Rates {
	rates := cost.Rates{
		Anthropic:  make(map[string]cost.ModelRate, len(p.Anthropic)),
		Perplexity: cost.PerplexityRate{PerQuery: p.Perplexity.PerQuery},
	}
	for name, m := range p.Anthropic {
		rates.Anthropic[name] = cost.ModelRate(m)
	}
	return rates
}

// initPipeline validates the config for mode, opens and migrates the store
// and builds the Pipeline. In "store" mode no inference client is created
// and any operation that reaches the model fails. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cat, err := initCatalog()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	costs := cost.NewCalculator(costRates(cfg.Pricing))

	var responder inference.Responder = offlineResponder{}
	if mode != "store" {
		retry := resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
		responder = inference.NewAnthropic(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic, retry, costs)
	}

	var market perplexity.Client
	if cfg.Perplexity.Key != "" && mode != "store" {
		market = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	} else {
		zap.L().Debug("APM_PERPLEXITY_KEY not set, market research disabled")
	}

	p, err := pipeline.New(cfg, st, responder, market, cat, costs)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &pipelineEnv{
		Store:    st,
		Catalog:  cat,
		Pipeline: p,
	}, nil
}

// offlineResponder backs commands that never call the model.
type offlineResponder struct{}

func (offlineResponder) Infer(_ context.Context, req inference.Request) (*inference.Response, error) {
	return nil, eris.Errorf("inference: %s requires anthropic.key", req.Task)
}
