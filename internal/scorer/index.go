package scorer

import (
	"github.com/sells-group/apm-cli/internal/model"
)

// Label is a strategic quadrant.
type Label string

const (
	LabelInvestAndGrow       Label = "invest-and-grow"
	LabelFixUrgently         Label = "fix-urgently"
	LabelHold                Label = "hold"
	LabelRetireOrConsolidate Label = "retire-or-consolidate"
)

// Letter returns the quadrant letter A–D.
func (l Label) Letter() string {
	switch l {
	case LabelInvestAndGrow:
		return "A"
	case LabelFixUrgently:
		return "B"
	case LabelHold:
		return "C"
	case LabelRetireOrConsolidate:
		return "D"
	}
	return "?"
}

// FloorScore substitutes for a block without a score.
const FloorScore = 1

// ValidScore reports whether s is on the 1–5 scale.
func ValidScore(s int) bool {
	return s >= 1 && s <= 5
}

// ComputeIndex returns the weighted mean of a group's block scores scaled to
// [0, 100]. Missing blocks count as FloorScore. Scores outside 1–5 are a
// validation error.
func (c Config) ComputeIndex(g model.Group, scores map[model.Block]int) (float64, error) {
	var sum, total float64
	for _, b := range model.BlocksIn(g) {
		s, ok := scores[b]
		if !ok {
			s = FloorScore
		} else if !ValidScore(s) {
			return 0, model.Invalid(string(b), "score %d outside 1-5", s)
		}
		w := c.Weights[b]
		sum += w * float64(s)
		total += w
	}
	if total == 0 {
		return 0, model.Invalid(string(g), "group has no weight")
	}
	return sum / total * Scale, nil
}

// Classify maps the two indices to a quadrant. A value equal to the
// threshold counts as meeting it.
func (c Config) Classify(value, health float64) Label {
	highValue := value >= c.Threshold
	highHealth := health >= c.Threshold
	switch {
	case highValue && highHealth:
		return LabelInvestAndGrow
	case highValue:
		return LabelFixUrgently
	case highHealth:
		return LabelHold
	default:
		return LabelRetireOrConsolidate
	}
}

// Refinement is the action-level breakdown of a quadrant label.
type Refinement struct {
	Subcategory string `json:"subcategory"`
	Priority    string `json:"priority"`
}

// Refine picks a subcategory within the label using the indices and the
// architecture and maintainability block scores.
func Refine(label Label, value, health float64, architecture, maintainability int) Refinement {
	switch label {
	case LabelRetireOrConsolidate:
		switch {
		case health < 40:
			return Refinement{"Replace", "P1-Critical"}
		case value > 50:
			return Refinement{"Retire", "P1-Critical"}
		default:
			return Refinement{"Absorbed", "P2-Tactical"}
		}
	case LabelFixUrgently:
		return Refinement{"Absorb", "P1-Critical"}
	case LabelInvestAndGrow:
		switch {
		case architecture <= 2:
			return Refinement{"Modernize", "P1-Critical"}
		case maintainability <= 2:
			return Refinement{"Migrate", "P1-Critical"}
		case value > 75:
			return Refinement{"Enhance", "P2-Strategic"}
		case health < 75:
			return Refinement{"Refactor", "P2-Strategic"}
		default:
			return Refinement{"Upgrade", "P2-Strategic"}
		}
	case LabelHold:
		if value > 50 {
			return Refinement{"Internalize", "P2-Compliance"}
		}
		return Refinement{"Maintain", "P3-Routine"}
	}
	return Refinement{}
}
