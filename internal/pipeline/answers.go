package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/scorer"
)

// OpIngestAnswers names answer ingestion in results.
const OpIngestAnswers = "ingest-answers"

// IngestAnswers stores questionnaire answers for the named application,
// creating it on first reference. Each answer is validated and gated on
// its own: invalid items fail, duplicates are skipped, and the rest are
// written in one transaction.
func (p *Pipeline) IngestAnswers(ctx context.Context, appName string, answers []model.Answer) (*OpResult, error) {
	app, err := p.findOrCreate(ctx, appName)
	if err != nil {
		return nil, err
	}
	unlock := p.locks.Lock(app.ID)
	defer unlock()

	res := &OpResult{Operation: OpIngestAnswers, Application: app.Name}
	seen := make(map[model.AnswerKey]bool, len(answers))
	var pending []model.Answer

	for _, a := range answers {
		a.ApplicationID = app.ID
		if a.Source == "" {
			a.Source = model.SourceQuestionnaire
		}
		key := strings.TrimSpace(a.QuestionID)

		if err := p.normalizeAnswer(&a); err != nil {
			res.Items = append(res.Items, failedItem(key, err))
			continue
		}

		if seen[a.Key()] {
			res.Items = append(res.Items, ItemResult{Key: a.QuestionID, Status: StatusSkipped, Reason: ReasonAlreadyExists})
			continue
		}
		seen[a.Key()] = true

		d, err := p.gate.ShouldInsertAnswer(ctx, a)
		if err != nil {
			return nil, err
		}
		if d.Skip() {
			res.Items = append(res.Items, ItemResult{Key: a.QuestionID, Status: StatusSkipped, Reason: d.Reason})
			continue
		}

		res.Items = append(res.Items, ItemResult{Key: a.QuestionID, Status: StatusProcessed})
		pending = append(pending, a)
	}

	if len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inserted, err := p.store.InsertAnswers(ctx, pending)
		if err != nil {
			return nil, storeErr("insert answers", err)
		}
		// A concurrent writer may have landed the same keys in between.
		if inserted < len(pending) {
			zap.L().Warn("pipeline: answers inserted concurrently",
				zap.String("application", app.Name),
				zap.Int("expected", len(pending)),
				zap.Int("inserted", inserted),
			)
		}
	}

	res.Status = summarize(res)
	switch {
	case len(answers) == 0:
		res.Reason = ReasonNoData
	case res.Status == StatusSkipped:
		res.Reason = ReasonAlreadyExists
	}
	res.Confidence = 1.0

	zap.L().Info("pipeline: answers ingested",
		zap.String("application", app.Name),
		zap.Int("processed", res.Count(StatusProcessed)),
		zap.Int("skipped", res.Count(StatusSkipped)),
		zap.Int("failed", res.Count(StatusFailed)),
	)
	return res, nil
}

// normalizeAnswer checks the structural well-formedness of an incoming
// answer and fills the block from the catalog when missing.
func (p *Pipeline) normalizeAnswer(a *model.Answer) error {
	a.QuestionID = strings.TrimSpace(a.QuestionID)
	if a.QuestionID == "" {
		return model.Invalid("question_id", "required")
	}
	if a.Score != nil && !scorer.ValidScore(*a.Score) {
		return model.Invalid("score", "%d outside 1-5 for %s", *a.Score, a.QuestionID)
	}
	if a.Block == "" {
		q, ok := p.catalog.Get(a.QuestionID)
		if !ok {
			return model.Invalid("block", "unknown question %s and no block given", a.QuestionID)
		}
		a.Block = q.Block
	}
	if !a.Block.Valid() {
		return model.Invalid("block", "unknown block %q", a.Block)
	}
	switch a.Source {
	case model.SourceQuestionnaire:
		a.Confidence = 1.0
		a.TranscriptID = ""
	case model.SourceTranscript:
		if a.TranscriptID == "" {
			return model.Invalid("transcript_id", "required for transcript answers")
		}
		if a.Confidence < 0 || a.Confidence > 1 {
			return model.Invalid("confidence", "%.2f outside [0,1]", a.Confidence)
		}
	default:
		return model.Invalid("source", "unknown source %q", a.Source)
	}
	return nil
}

// summarize derives the operation status from its items: processed when
// anything was written, failed when every item failed, skipped otherwise.
func summarize(r *OpResult) Status {
	switch {
	case r.Count(StatusProcessed) > 0:
		return StatusProcessed
	case len(r.Items) > 0 && r.Count(StatusFailed) == len(r.Items):
		return StatusFailed
	default:
		return StatusSkipped
	}
}
