package scorer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apm-cli/internal/model"
)

func TestComputeIndex_BillingCore(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	scores := map[model.Block]int{model.BlockArchitecture: 4}

	health, err := cfg.ComputeIndex(model.GroupHealth, scores)
	require.NoError(t, err)
	// (4*30 + 1*30 + 1*25 + 1*15) / 100 * 20
	assert.InDelta(t, 38.0, health, 1e-9)

	value, err := cfg.ComputeIndex(model.GroupValue, scores)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, value, 1e-9)

	assert.Equal(t, LabelRetireOrConsolidate, cfg.Classify(value, health))
}

func TestComputeIndex_UniformScores(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	all := func(s int) map[model.Block]int {
		m := map[model.Block]int{}
		for _, b := range model.AllBlocks {
			m[b] = s
		}
		return m
	}

	for s, want := range map[int]float64{1: 20, 3: 60, 5: 100} {
		got, err := cfg.ComputeIndex(model.GroupValue, all(s))
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9, "uniform score %d", s)
	}

	empty, err := cfg.ComputeIndex(model.GroupHealth, nil)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, empty, 1e-9, "missing blocks floor to 1, never 0")
}

func TestComputeIndex_RejectsOutOfRange(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	_, err := cfg.ComputeIndex(model.GroupValue, map[model.Block]int{model.BlockUserValue: 6})
	require.Error(t, err)
	var ve *model.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = cfg.ComputeIndex(model.GroupValue, map[model.Block]int{model.BlockUserValue: 0})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	tests := []struct {
		value, health float64
		want          Label
		letter        string
	}{
		{60, 60, LabelInvestAndGrow, "A"},
		{80, 40, LabelFixUrgently, "B"},
		{59.99, 60, LabelHold, "C"},
		{20, 38, LabelRetireOrConsolidate, "D"},
		{60, 59.99, LabelFixUrgently, "B"},
	}
	for _, tt := range tests {
		got := cfg.Classify(tt.value, tt.health)
		assert.Equal(t, tt.want, got, "value=%v health=%v", tt.value, tt.health)
		assert.Equal(t, tt.letter, got.Letter())
	}
}

func TestRefine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		label         Label
		value, health float64
		arch, maint   int
		want          Refinement
	}{
		{"retire low health", LabelRetireOrConsolidate, 20, 38, 4, 3, Refinement{"Replace", "P1-Critical"}},
		{"retire valued", LabelRetireOrConsolidate, 55, 45, 3, 3, Refinement{"Retire", "P1-Critical"}},
		{"retire absorbed", LabelRetireOrConsolidate, 40, 50, 3, 3, Refinement{"Absorbed", "P2-Tactical"}},
		{"fix urgently", LabelFixUrgently, 80, 40, 2, 2, Refinement{"Absorb", "P1-Critical"}},
		{"grow weak arch", LabelInvestAndGrow, 80, 80, 2, 5, Refinement{"Modernize", "P1-Critical"}},
		{"grow weak maint", LabelInvestAndGrow, 80, 80, 4, 1, Refinement{"Migrate", "P1-Critical"}},
		{"grow high value", LabelInvestAndGrow, 90, 80, 4, 4, Refinement{"Enhance", "P2-Strategic"}},
		{"grow mid health", LabelInvestAndGrow, 70, 65, 4, 4, Refinement{"Refactor", "P2-Strategic"}},
		{"grow upgrade", LabelInvestAndGrow, 70, 90, 4, 4, Refinement{"Upgrade", "P2-Strategic"}},
		{"hold valued", LabelHold, 55, 70, 3, 3, Refinement{"Internalize", "P2-Compliance"}},
		{"hold routine", LabelHold, 30, 70, 3, 3, Refinement{"Maintain", "P3-Routine"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Refine(tt.label, tt.value, tt.health, tt.arch, tt.maint))
		})
	}
}

func TestFromSettings(t *testing.T) {
	t.Parallel()

	cfg, err := FromSettings(configWithWeights(map[string]float64{"strategic_fit": 50}, map[string]float64{"Support Quality": 5}))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, cfg.Weights[model.BlockStrategicFit], 1e-9)
	assert.InDelta(t, 5.0, cfg.Weights[model.BlockSupportQuality], 1e-9)
	assert.InDelta(t, 30.0, cfg.Weights[model.BlockArchitecture], 1e-9)

	_, err = FromSettings(configWithWeights(map[string]float64{"bogus": 1}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown block")

	_, err = FromSettings(configWithWeights(map[string]float64{
		"strategic_fit": 0, "business_efficiency": 0, "user_value": 0, "financial_value": 0,
	}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value weights must sum to a positive number")
}

func TestWithOverrides(t *testing.T) {
	t.Parallel()
	base := DefaultConfig()

	cfg := base.WithOverrides([]model.BlockWeight{{Block: model.BlockArchitecture, Weight: 70}})
	assert.InDelta(t, 70.0, cfg.Weights[model.BlockArchitecture], 1e-9)
	assert.InDelta(t, 30.0, base.Weights[model.BlockArchitecture], 1e-9, "base config must not change")

	health, err := cfg.ComputeIndex(model.GroupHealth, map[model.Block]int{model.BlockArchitecture: 5})
	require.NoError(t, err)
	// (5*70 + 30 + 25 + 15) / 140 * 20
	assert.InDelta(t, 60.0, health, 1e-9)
}
