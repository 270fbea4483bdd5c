package scorer

import (
	"github.com/sells-group/apm-cli/internal/model"
)

// Assessment is the aggregated view of one application's scores.
type Assessment struct {
	ApplicationID  string              `json:"application_id"`
	ValueIndex     float64             `json:"value_index"`
	HealthIndex    float64             `json:"health_index"`
	Label          Label               `json:"label"`
	Subcategory    string              `json:"subcategory"`
	PriorityDetail string              `json:"priority_detail"`
	BlockScores    map[model.Block]int `json:"block_scores"`
	ApprovedBlocks int                 `json:"approved_blocks"`
	ApprovedOnly   bool                `json:"approved_only"`
}

// Assess aggregates stored scores. Approved rows take precedence over
// pending suggestions for the same block; with approvedOnly set, pending
// suggestions are ignored and their blocks fall back to the floor.
func (c Config) Assess(appID string, scores []model.SynergyScore, approvedOnly bool) (*Assessment, error) {
	blocks := make(map[model.Block]int, len(model.AllBlocks))
	approved := make(map[model.Block]bool, len(model.AllBlocks))
	for _, s := range scores {
		if !s.Block.Valid() {
			return nil, model.Invalid("block", "unknown block %q", s.Block)
		}
		if !ValidScore(s.Score) {
			return nil, model.Invalid(string(s.Block), "score %d outside 1-5", s.Score)
		}
		switch {
		case s.Approved:
			blocks[s.Block] = s.Score
			approved[s.Block] = true
		case !approvedOnly && !approved[s.Block]:
			blocks[s.Block] = s.Score
		}
	}

	value, err := c.ComputeIndex(model.GroupValue, blocks)
	if err != nil {
		return nil, err
	}
	health, err := c.ComputeIndex(model.GroupHealth, blocks)
	if err != nil {
		return nil, err
	}

	label := c.Classify(value, health)
	ref := Refine(label, value, health, scoreOrFloor(blocks, model.BlockArchitecture), scoreOrFloor(blocks, model.BlockMaintainability))

	return &Assessment{
		ApplicationID:  appID,
		ValueIndex:     value,
		HealthIndex:    health,
		Label:          label,
		Subcategory:    ref.Subcategory,
		PriorityDetail: ref.Priority,
		BlockScores:    blocks,
		ApprovedBlocks: len(approved),
		ApprovedOnly:   approvedOnly,
	}, nil
}

func scoreOrFloor(m map[model.Block]int, b model.Block) int {
	if s, ok := m[b]; ok {
		return s
	}
	return FloorScore
}
