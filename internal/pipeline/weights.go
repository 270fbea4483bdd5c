package pipeline

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/scorer"
)

// BlockWeights returns the effective weight of every block: configured
// weights with persisted overrides applied.
func (p *Pipeline) BlockWeights(ctx context.Context) (map[model.Block]float64, error) {
	cfg, err := p.scoringConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.Weights, nil
}

// SetBlockWeights persists custom weights. The resulting configuration must
// still give each group a positive total; nothing is written otherwise.
func (p *Pipeline) SetBlockWeights(ctx context.Context, weights []model.BlockWeight) error {
	if len(weights) == 0 {
		return model.Invalid("weights", "at least one weight is required")
	}
	for _, w := range weights {
		if !w.Block.Valid() {
			return model.Invalid("block", "unknown block %q", w.Block)
		}
		if w.Weight < 0 || math.IsNaN(w.Weight) || math.IsInf(w.Weight, 0) {
			return model.Invalid("weight", "must be a finite number >= 0")
		}
	}

	unlock := p.locks.Lock(weightsKey)
	defer unlock()

	current, err := p.scoringConfig(ctx)
	if err != nil {
		return err
	}
	if err := scorer.ValidateConfig(current.WithOverrides(weights)); err != nil {
		return model.Invalid("weights", "%s", err)
	}
	if err := p.store.SetBlockWeights(ctx, weights); err != nil {
		return storeErr("set block weights", err)
	}

	zap.L().Info("pipeline: block weights updated", zap.Int("blocks", len(weights)))
	return nil
}
