package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/internal/ingest"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/scorer"
	"github.com/sells-group/apm-cli/internal/store"
)

const (
	// OpProcessTranscript names transcript extraction in results.
	OpProcessTranscript = "process-transcript"
	extractionMethod    = "ai_extraction"
)

type extractedAnswer struct {
	QuestionID    string  `json:"question_id"`
	Question      string  `json:"question"`
	Answer        string  `json:"answer"`
	Score         *int    `json:"score"`
	Confidence    float64 `json:"confidence"`
	SourceExcerpt string  `json:"source_excerpt"`
}

type extractResponse struct {
	Answers []extractedAnswer `json:"answers"`
	Summary string            `json:"summary"`
}

// ProcessTranscript stores a transcript and extracts answers from it. A
// transcript already processed for the application is skipped without an
// inference call. A failed extraction leaves the transcript pending so it
// can be retried.
func (p *Pipeline) ProcessTranscript(ctx context.Context, appName, fileName, text string) (*OpResult, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, model.Invalid("file_name", "required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, model.Invalid("text", "transcript %s is empty", fileName)
	}

	app, err := p.findOrCreate(ctx, appName)
	if err != nil {
		return nil, err
	}
	unlock := p.locks.Lock(app.ID)
	defer unlock()

	d, err := p.gate.ShouldProcessTranscript(ctx, app.ID, fileName)
	if err != nil {
		return nil, err
	}
	if d.Skip() {
		zap.L().Info("pipeline: transcript skipped",
			zap.String("application", app.Name),
			zap.String("file", fileName),
			zap.String("reason", string(d.Reason)),
		)
		return skipped(OpProcessTranscript, app.Name, d), nil
	}

	t := &model.Transcript{ApplicationID: app.ID, FileName: fileName, Text: text}
	if err := p.store.SaveTranscript(ctx, t); err != nil {
		return nil, storeErr("save transcript", err)
	}
	return p.extractTranscript(ctx, app, t)
}

// ProcessPendingTranscripts extracts every stored transcript that is not
// yet processed. Applications run concurrently; transcripts of the same
// application run one at a time. Each result lists its transcripts as
// items.
func (p *Pipeline) ProcessPendingTranscripts(ctx context.Context) ([]*OpResult, error) {
	pending, err := p.store.ListPendingTranscripts(ctx)
	if err != nil {
		return nil, storeErr("list pending transcripts", err)
	}

	byApp := make(map[string][]model.Transcript)
	var apps []model.Application
	for _, t := range pending {
		if _, ok := byApp[t.ApplicationID]; !ok {
			app, err := p.store.GetApplication(ctx, t.ApplicationID)
			if err != nil {
				return nil, storeErr("get application", err)
			}
			apps = append(apps, *app)
		}
		byApp[t.ApplicationID] = append(byApp[t.ApplicationID], t)
	}

	return p.forEachApp(ctx, apps, func(ctx context.Context, app model.Application) (*OpResult, error) {
		unlock := p.locks.Lock(app.ID)
		defer unlock()

		agg := &OpResult{Operation: OpProcessTranscript, Application: app.Name}
		for i := range byApp[app.ID] {
			t := byApp[app.ID][i]
			d, err := p.gate.ShouldProcessTranscript(ctx, app.ID, t.FileName)
			if err != nil {
				return nil, err
			}
			if d.Skip() {
				agg.Items = append(agg.Items, ItemResult{Key: t.FileName, Status: StatusSkipped, Reason: d.Reason})
				continue
			}
			res, err := p.extractTranscript(ctx, &app, &t)
			if err != nil {
				return nil, err
			}
			agg.CostUSD += res.CostUSD
			agg.Items = append(agg.Items, ItemResult{
				Key:    t.FileName,
				Status: res.Status,
				Reason: res.Reason,
				Kind:   res.Kind,
				Error:  res.Error,
				Raw:    res.Raw,
			})
		}
		agg.Status = summarize(agg)
		return agg, nil
	})
}

// extractTranscript runs answer extraction for a saved transcript and
// completes it. The caller holds the application lock.
func (p *Pipeline) extractTranscript(ctx context.Context, app *model.Application, t *model.Transcript) (*OpResult, error) {
	start := time.Now()
	log := zap.L().With(zap.String("application", app.Name), zap.String("file", t.FileName))

	text := ingest.Truncate(t.Text, p.cfg.Assessment.MaxTranscriptChars)
	req := inference.Request{
		Task:    inference.TaskExtractAnswers,
		App:     app.Name,
		System:  extractSystem,
		Payload: buildExtractPrompt(app, t.FileName, text, p.catalog),
	}

	var parsed extractResponse
	spent, err := p.inferDecode(ctx, req, func(raw string) error {
		parsed = extractResponse{}
		return inference.Decode(req.Task, raw, &parsed)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("pipeline: transcript extraction failed", zap.Error(err))
		res := failed(OpProcessTranscript, app.Name, err)
		res.CostUSD = spent
		return res, nil
	}

	res := &OpResult{Operation: OpProcessTranscript, Application: app.Name, CostUSD: spent}
	answers, items := p.mapExtracted(t, parsed.Answers)
	res.Items = items

	// Another unit may have completed the transcript while we waited on
	// the model.
	d, err := p.gate.ShouldProcessTranscript(ctx, app.ID, t.FileName)
	if err != nil {
		return nil, err
	}
	if d.Skip() {
		out := skipped(OpProcessTranscript, app.Name, d)
		out.CostUSD = spent
		return out, nil
	}

	var keep []model.Answer
	for _, a := range answers {
		d, err := p.gate.ShouldInsertAnswer(ctx, a)
		if err != nil {
			return nil, err
		}
		if d.Skip() {
			res.Items = append(res.Items, ItemResult{Key: a.QuestionID, Status: StatusSkipped, Reason: d.Reason})
			continue
		}
		keep = append(keep, a)
		res.Items = append(res.Items, ItemResult{Key: a.QuestionID, Status: StatusProcessed})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inserted, err := p.store.CompleteTranscript(ctx, t.ID, keep)
	if errors.Is(err, store.ErrAlreadyProcessed) {
		out := skipped(OpProcessTranscript, app.Name, Decision{Action: ActionSkip, Reason: ReasonAlreadyProcessed})
		out.CostUSD = spent
		return out, nil
	}
	if err != nil {
		return nil, storeErr("complete transcript", err)
	}

	res.Status = StatusProcessed
	res.Confidence = meanConfidence(keep)
	log.Info("pipeline: transcript processed",
		zap.Int("extracted", len(parsed.Answers)),
		zap.Int("inserted", inserted),
		zap.Float64("estimated_cost_usd", spent),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

// mapExtracted turns model answers into transcript answers. Empty and low
// confidence answers are dropped; unknown questions and bad scores fail
// as items. When the model answers a question twice the first answer is
// kept.
func (p *Pipeline) mapExtracted(t *model.Transcript, extracted []extractedAnswer) ([]model.Answer, []ItemResult) {
	minConf := p.cfg.Assessment.TranscriptMinConfidence
	threshold := p.cfg.Assessment.QuestionMatchThreshold
	if threshold <= 0 {
		threshold = ingest.DefaultMatchThreshold
	}

	var out []model.Answer
	var items []ItemResult
	seen := make(map[string]bool)
	dropped := 0

	for _, e := range extracted {
		text := strings.TrimSpace(e.Answer)
		if text == "" || e.Confidence <= minConf {
			dropped++
			continue
		}

		q, ok := p.catalog.Get(strings.TrimSpace(e.QuestionID))
		if !ok {
			q, _, ok = p.catalog.Match(e.Question, threshold)
		}
		key := firstNonEmpty(e.QuestionID, e.Question)
		if !ok {
			items = append(items, failedItem(key, model.Invalid("question", "no catalog question matches %q", key)))
			continue
		}
		if e.Score != nil && !scorer.ValidScore(*e.Score) {
			items = append(items, failedItem(q.ID, model.Invalid("score", "%d outside 1-5 for %s", *e.Score, q.ID)))
			continue
		}
		if seen[q.ID] {
			items = append(items, ItemResult{Key: q.ID, Status: StatusSkipped, Reason: ReasonAlreadyExists})
			continue
		}
		seen[q.ID] = true

		out = append(out, model.Answer{
			ApplicationID:    t.ApplicationID,
			Source:           model.SourceTranscript,
			TranscriptID:     t.ID,
			QuestionID:       q.ID,
			Block:            q.Block,
			AnswerText:       text,
			Score:            e.Score,
			Confidence:       min(e.Confidence, 1),
			ExtractionMethod: extractionMethod,
			SourceExcerpt:    strings.TrimSpace(e.SourceExcerpt),
		})
	}

	if dropped > 0 {
		zap.L().Debug("pipeline: dropped low-confidence answers",
			zap.String("file", t.FileName),
			zap.Int("dropped", dropped),
		)
	}
	return out, items
}

func meanConfidence(answers []model.Answer) float64 {
	if len(answers) == 0 {
		return 0
	}
	var sum float64
	for _, a := range answers {
		sum += a.Confidence
	}
	return sum / float64(len(answers))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
