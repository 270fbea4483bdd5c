// Package pipeline sequences gate checks, inference and store writes for
// the assessment lifecycle of each application and the portfolio.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/apm-cli/internal/config"
	"github.com/sells-group/apm-cli/internal/cost"
	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/internal/ingest"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/registry"
	"github.com/sells-group/apm-cli/internal/scorer"
	"github.com/sells-group/apm-cli/internal/store"
	"github.com/sells-group/apm-cli/pkg/perplexity"
)

// Lock keys for portfolio-wide runs and weight updates.
const (
	portfolioKey = "\x00portfolio"
	weightsKey   = "\x00weights"
)

// Pipeline orchestrates ingestion, scoring and insight generation. It keeps
// no entity state between calls; every decision is re-derived from the
// store.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	responder inference.Responder
	market    perplexity.Client
	catalog   *registry.Catalog
	scoring   scorer.Config
	costs     *cost.Calculator
	gate      *Gate
	locks     *keyedMutex
}

// New creates a Pipeline. market may be nil, which disables market
// research for commercial applications. A nil catalog uses the built-in
// question catalog and a nil calculator uses default pricing.
func New(
	cfg *config.Config,
	st store.Store,
	responder inference.Responder,
	market perplexity.Client,
	catalog *registry.Catalog,
	costs *cost.Calculator,
) (*Pipeline, error) {
	scoring, err := scorer.FromSettings(cfg.Assessment)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: scoring config")
	}
	if catalog == nil {
		catalog = registry.Default()
	}
	if costs == nil {
		costs = cost.NewCalculator(cost.Rates{})
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		responder: responder,
		market:    market,
		catalog:   catalog,
		scoring:   scoring,
		costs:     costs,
		gate:      NewGate(st),
		locks:     newKeyedMutex(),
	}, nil
}

// Gate exposes the idempotency gate for callers that want to preview a
// decision without running the operation.
func (p *Pipeline) Gate() *Gate { return p.gate }

// Catalog returns the question catalog in use.
func (p *Pipeline) Catalog() *registry.Catalog { return p.catalog }

// scoringConfig returns the configured weights with persisted overrides
// applied.
func (p *Pipeline) scoringConfig(ctx context.Context) (scorer.Config, error) {
	weights, err := p.store.GetBlockWeights(ctx)
	if err != nil {
		return scorer.Config{}, storeErr("load weights", err)
	}
	cfg := p.scoring.WithOverrides(weights)
	if err := scorer.ValidateConfig(cfg); err != nil {
		return scorer.Config{}, err
	}
	return cfg, nil
}

func (p *Pipeline) application(ctx context.Context, name string) (*model.Application, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.Invalid("application", "name is required")
	}
	app, err := p.store.GetApplicationByName(ctx, name)
	if err != nil {
		return nil, storeErr("get application", err)
	}
	return app, nil
}

func (p *Pipeline) findOrCreate(ctx context.Context, name string) (*model.Application, error) {
	commercial := ingest.IsCommercial(name, p.cfg.Assessment.CommercialVendors)
	app, created, err := p.store.FindOrCreateApplication(ctx, name, commercial)
	if err != nil {
		return nil, storeErr("find or create application", err)
	}
	if created {
		zap.L().Info("pipeline: application created",
			zap.String("application", app.Name),
			zap.Bool("commercial", app.Commercial),
		)
	}
	return app, nil
}

// inferDecode sends req and decodes the response, retrying once when the
// response is malformed. The returned cost covers every attempt.
func (p *Pipeline) inferDecode(ctx context.Context, req inference.Request, decode func(text string) error) (float64, error) {
	var spent float64
	for attempt := 1; ; attempt++ {
		resp, err := p.responder.Infer(ctx, req)
		if err != nil {
			return spent, err
		}
		spent += resp.CostUSD

		err = decode(resp.Text)
		if err == nil {
			return spent, nil
		}
		var mre *model.MalformedResponseError
		if !errors.As(err, &mre) || attempt >= 2 {
			return spent, err
		}
		zap.L().Warn("pipeline: malformed response, retrying once",
			zap.String("task", string(req.Task)),
			zap.String("application", req.App),
			zap.Error(err),
		)
	}
}

// malformed wraps a schema violation found after decoding so it is
// retried like a parse failure.
func malformed(task inference.Task, raw string, err error) error {
	var mre *model.MalformedResponseError
	if errors.As(err, &mre) {
		return err
	}
	return &model.MalformedResponseError{Task: string(task), Raw: raw, Err: err}
}

// forEachApp runs fn for each application with bounded concurrency. fn
// errors are fatal only when they are store failures or cancellation;
// everything else must be reported through the returned OpResult.
func (p *Pipeline) forEachApp(ctx context.Context, apps []model.Application, fn func(ctx context.Context, app model.Application) (*OpResult, error)) ([]*OpResult, error) {
	results := make([]*OpResult, len(apps))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.Batch.MaxConcurrentApps, 1))
	for i, app := range apps {
		g.Go(func() error {
			res, err := fn(gCtx, app)
			if err != nil {
				var se *model.StoreError
				if errors.As(err, &se) || gCtx.Err() != nil {
					return err
				}
				res = failed("", app.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
