package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/scorer"
)

const (
	opSuggestScores = "suggest-scores"
	opApproveScore  = "approve-score"
)

type scoredBlock struct {
	Score      int     `json:"score"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type scoreResponse struct {
	Scores map[string]scoredBlock `json:"scores"`
}

// SuggestScores derives one unapproved score per block from the stored
// answers. Blocks with answers but no numeric score are scored by the
// model in one call. Without force, existing unapproved scores are left in
// place and the call is skipped; with force they are replaced.
func (p *Pipeline) SuggestScores(ctx context.Context, appName string, force bool) (*OpResult, error) {
	app, err := p.application(ctx, appName)
	if err != nil {
		return nil, err
	}
	return p.suggestScores(ctx, app, force)
}

// SuggestAllScores runs SuggestScores for every application.
func (p *Pipeline) SuggestAllScores(ctx context.Context, force bool) ([]*OpResult, error) {
	apps, err := p.store.ListApplications(ctx)
	if err != nil {
		return nil, storeErr("list applications", err)
	}
	return p.forEachApp(ctx, apps, func(ctx context.Context, app model.Application) (*OpResult, error) {
		return p.suggestScores(ctx, &app, force)
	})
}

func (p *Pipeline) suggestScores(ctx context.Context, app *model.Application, force bool) (*OpResult, error) {
	unlock := p.locks.Lock(app.ID)
	defer unlock()

	start := time.Now()
	log := zap.L().With(zap.String("application", app.Name))

	d, err := p.gate.ShouldGenerateScores(ctx, app.ID, force)
	if err != nil {
		return nil, err
	}
	if d.Skip() {
		log.Warn("pipeline: score suggestion skipped", zap.String("reason", string(d.Reason)))
		return skipped(opSuggestScores, app.Name, d), nil
	}

	answers, err := p.store.ListAnswers(ctx, app.ID)
	if err != nil {
		return nil, storeErr("list answers", err)
	}
	suggestions, err := scorer.DeriveAll(answers)
	if err != nil {
		log.Warn("pipeline: score suggestion rejected", zap.Error(err))
		return failed(opSuggestScores, app.Name, err), nil
	}

	var spent float64
	if need := needingInference(suggestions); len(need) > 0 {
		spent, err = p.scoreWithModel(ctx, app, need, suggestions)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("pipeline: model scoring failed", zap.Error(err))
			res := failed(opSuggestScores, app.Name, err)
			res.CostUSD = spent
			return res, nil
		}
	}

	// Re-check right before the write: a concurrent caller in another
	// process may have stored suggestions while the model was running.
	if !force {
		d, err := p.gate.ShouldGenerateScores(ctx, app.ID, false)
		if err != nil {
			return nil, err
		}
		if d.Skip() {
			res := skipped(opSuggestScores, app.Name, d)
			res.CostUSD = spent
			return res, nil
		}
	}

	records := make([]model.SynergyScore, 0, len(suggestions))
	res := &OpResult{Operation: opSuggestScores, Application: app.Name, CostUSD: spent}
	var confSum float64
	for _, s := range suggestions {
		records = append(records, s.ScoreRecord(app.ID))
		res.Items = append(res.Items, ItemResult{Key: string(s.Block), Status: StatusProcessed})
		confSum += s.Confidence
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.store.ReplaceUnapprovedScores(ctx, app.ID, records); err != nil {
		return nil, storeErr("replace scores", err)
	}

	res.Status = StatusProcessed
	res.Confidence = confSum / float64(len(suggestions))
	log.Info("pipeline: scores suggested",
		zap.Bool("force", force),
		zap.Bool("retired_prior", d.Action == ActionProceedAfterRetire),
		zap.Float64("estimated_cost_usd", spent),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func needingInference(suggestions []scorer.Suggestion) []scorer.Suggestion {
	var out []scorer.Suggestion
	for _, s := range suggestions {
		if s.NeedsInference {
			out = append(out, s)
		}
	}
	return out
}

// scoreWithModel fills the suggestions listed in need from one model call.
// Every requested block must come back with a score in range.
func (p *Pipeline) scoreWithModel(ctx context.Context, app *model.Application, need, all []scorer.Suggestion) (float64, error) {
	req := inference.Request{
		Task:    inference.TaskSuggestScores,
		App:     app.Name,
		System:  scoreSystem,
		Payload: buildScorePrompt(app, need, p.catalog),
	}

	var scored map[model.Block]scoredBlock
	spent, err := p.inferDecode(ctx, req, func(raw string) error {
		var parsed scoreResponse
		if err := inference.Decode(req.Task, raw, &parsed); err != nil {
			return err
		}
		got := make(map[model.Block]scoredBlock, len(parsed.Scores))
		for name, s := range parsed.Scores {
			b, ok := model.ParseBlock(name)
			if !ok {
				continue
			}
			got[b] = s
		}
		for _, s := range need {
			sb, ok := got[s.Block]
			if !ok {
				return malformed(req.Task, raw, model.Invalid(string(s.Block), "missing from response"))
			}
			if !scorer.ValidScore(sb.Score) {
				return malformed(req.Task, raw, model.Invalid(string(s.Block), "score %d outside 1-5", sb.Score))
			}
		}
		scored = got
		return nil
	})
	if err != nil {
		return spent, err
	}

	for i := range all {
		if !all[i].NeedsInference {
			continue
		}
		sb := scored[all[i].Block]
		all[i].Score = sb.Score
		all[i].Confidence = clamp01(sb.Confidence)
		all[i].Rationale = strings.TrimSpace(sb.Rationale)
		all[i].NeedsInference = false
	}
	return spent, nil
}

// ApproveScore approves a suggested score, optionally overriding its value.
// Overridden scores are recorded as manual.
func (p *Pipeline) ApproveScore(ctx context.Context, scoreID, approver string, override *int) (*model.SynergyScore, error) {
	scoreID = strings.TrimSpace(scoreID)
	if scoreID == "" {
		return nil, model.Invalid("score_id", "required")
	}
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return nil, model.Invalid("approver", "required")
	}
	if override != nil && !scorer.ValidScore(*override) {
		return nil, model.Invalid("score", "%d outside 1-5", *override)
	}

	sc, err := p.store.ApproveScore(ctx, scoreID, approver, override)
	if err != nil {
		return nil, storeErr(opApproveScore, err)
	}
	zap.L().Info("pipeline: score approved",
		zap.String("application_id", sc.ApplicationID),
		zap.String("block", string(sc.Block)),
		zap.Int("score", sc.Score),
		zap.String("approver", approver),
	)
	return sc, nil
}

func clamp01(v float64) float64 {
	return max(0, min(v, 1))
}
