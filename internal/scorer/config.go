// Package scorer aggregates block scores into the value and health indices
// and classifies applications into strategic quadrants.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/apm-cli/internal/config"
	"github.com/sells-group/apm-cli/internal/model"
)

// Scale maps a uniform block score of 5 to an index of 100.
const Scale = 20.0

// Config holds the aggregation policy.
type Config struct {
	Threshold float64
	Weights   map[model.Block]float64
}

// DefaultConfig returns the standard weights. Each group sums to 100.
func DefaultConfig() Config {
	return Config{
		Threshold: 60,
		Weights: map[model.Block]float64{
			model.BlockStrategicFit:       30,
			model.BlockBusinessEfficiency: 30,
			model.BlockUserValue:          20,
			model.BlockFinancialValue:     20,
			model.BlockArchitecture:       30,
			model.BlockOperationalRisk:    30,
			model.BlockMaintainability:    25,
			model.BlockSupportQuality:     15,
		},
	}
}

// FromSettings builds a Config from the assessment settings. Weight keys
// are snake_case block names; unknown keys are rejected and missing ones keep
// their defaults.
func FromSettings(s config.AssessmentConfig) (Config, error) {
	cfg := DefaultConfig()
	if s.Threshold > 0 {
		cfg.Threshold = s.Threshold
	}
	if s.Scale != 0 && s.Scale != Scale {
		return Config{}, eris.Errorf("scorer: assessment.scale must be %g so that a score of 5 maps to 100", Scale)
	}

	for _, group := range []map[string]float64{s.ValueWeights, s.HealthWeights} {
		for key, w := range group {
			b, ok := model.ParseBlock(key)
			if !ok {
				return Config{}, eris.Errorf("scorer: unknown block %q in weights", key)
			}
			cfg.Weights[b] = w
		}
	}
	return cfg, ValidateConfig(cfg)
}

// WithOverrides returns a copy of c with persisted block weights applied.
func (c Config) WithOverrides(weights []model.BlockWeight) Config {
	out := Config{Threshold: c.Threshold, Weights: make(map[model.Block]float64, len(c.Weights))}
	for b, w := range c.Weights {
		out.Weights[b] = w
	}
	for _, bw := range weights {
		if bw.Block.Valid() {
			out.Weights[bw.Block] = bw.Weight
		}
	}
	return out
}

// GroupWeight returns the sum of weights in a group.
func (c Config) GroupWeight(g model.Group) float64 {
	var sum float64
	for _, b := range model.BlocksIn(g) {
		sum += c.Weights[b]
	}
	return sum
}

// ValidateConfig checks that a Config is internally consistent.
func ValidateConfig(c Config) error {
	var errs []string

	for _, b := range model.AllBlocks {
		w, ok := c.Weights[b]
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("weight for %s is missing", b))
		case w < 0 || math.IsNaN(w):
			errs = append(errs, fmt.Sprintf("weight for %s must be >= 0", b))
		}
	}
	for _, g := range []model.Group{model.GroupValue, model.GroupHealth} {
		if c.GroupWeight(g) <= 0 {
			errs = append(errs, fmt.Sprintf("%s weights must sum to a positive number", g))
		}
	}
	if c.Threshold <= 0 || c.Threshold > 100 {
		errs = append(errs, "threshold must be in (0, 100]")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
