package scorer

import (
	"fmt"

	"github.com/sells-group/apm-cli/internal/model"
)

// NoEvidenceRationale is the rationale of a floored suggestion.
const NoEvidenceRationale = "no evidence found"

// Suggestion is a proposed score for one block.
type Suggestion struct {
	Block      model.Block
	Score      int
	Confidence float64
	Rationale  string
	Source     model.ScoreSource
	// Answered counts the block's answers, scored or not.
	Answered int
	// NeedsInference is set when the block has answers but none carries a
	// numeric score.
	NeedsInference bool
	Evidence       []model.Answer
}

// ScoreRecord converts the suggestion into an unapproved score row.
func (s Suggestion) ScoreRecord(appID string) model.SynergyScore {
	return model.SynergyScore{
		ApplicationID: appID,
		Block:         s.Block,
		Score:         s.Score,
		SuggestedBy:   s.Source,
		Confidence:    s.Confidence,
		Rationale:     s.Rationale,
	}
}

// DeriveSuggestedScore picks a score for block from answers. Answers for
// other blocks are ignored. The winning answer has the highest confidence;
// on a tie questionnaire answers beat transcript answers, then the earlier
// answer in input order wins.
func DeriveSuggestedScore(block model.Block, answers []model.Answer) (Suggestion, error) {
	sugg := Suggestion{Block: block}

	var best *model.Answer
	hasQuestionnaire := false
	for i := range answers {
		a := &answers[i]
		if a.Block != block {
			continue
		}
		sugg.Answered++
		sugg.Evidence = append(sugg.Evidence, *a)
		if a.Source == model.SourceQuestionnaire {
			hasQuestionnaire = true
		}
		if a.Score == nil {
			continue
		}
		if !ValidScore(*a.Score) {
			return Suggestion{}, model.Invalid(string(block), "answer %s has score %d outside 1-5", a.QuestionID, *a.Score)
		}
		if best == nil || beats(a, best) {
			best = a
		}
	}

	switch {
	case sugg.Answered == 0:
		sugg.Score = FloorScore
		sugg.Confidence = 0
		sugg.Rationale = NoEvidenceRationale
		sugg.Source = model.ScoreAIQuestionnaire
	case best == nil:
		sugg.NeedsInference = true
		sugg.Source = model.ScoreAITranscript
		if hasQuestionnaire {
			sugg.Source = model.ScoreAIQuestionnaire
		}
	default:
		sugg.Score = *best.Score
		sugg.Confidence = best.Confidence
		sugg.Source = sourceOf(best)
		sugg.Rationale = rationale(best)
	}
	return sugg, nil
}

// DeriveAll derives a suggestion for every block. A single out-of-range
// score rejects the whole set.
func DeriveAll(answers []model.Answer) ([]Suggestion, error) {
	out := make([]Suggestion, 0, len(model.AllBlocks))
	for _, b := range model.AllBlocks {
		s, err := DeriveSuggestedScore(b, answers)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func beats(a, b *model.Answer) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Source == model.SourceQuestionnaire && b.Source != model.SourceQuestionnaire
}

func sourceOf(a *model.Answer) model.ScoreSource {
	if a.Source == model.SourceTranscript {
		return model.ScoreAITranscript
	}
	return model.ScoreAIQuestionnaire
}

func rationale(a *model.Answer) string {
	text := a.AnswerText
	if len([]rune(text)) > 200 {
		text = string([]rune(text)[:200]) + "..."
	}
	return fmt.Sprintf("%s answer to %s (confidence %.2f): %s", a.Source, a.QuestionID, a.Confidence, text)
}
