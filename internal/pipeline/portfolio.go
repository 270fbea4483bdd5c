package pipeline

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/resilience"
)

const (
	opPortfolioInsights = "portfolio-insights"
	minPortfolioApps    = 2
)

type portfolioItem struct {
	Type              string   `json:"type"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Priority          string   `json:"priority"`
	Impact            string   `json:"impact"`
	Complexity        string   `json:"complexity"`
	Evidence          []string `json:"evidence"`
	AffectedApps      []string `json:"affected_apps"`
	RecommendedAction string   `json:"recommended_action"`
}

type portfolioResponse struct {
	Insights []portfolioItem `json:"insights"`
}

// GeneratePortfolioInsights looks for patterns across applications that
// already have stored insights. It never generates per-application
// insights itself. The stored portfolio set is replaced as a whole.
func (p *Pipeline) GeneratePortfolioInsights(ctx context.Context) (*OpResult, error) {
	unlock := p.locks.Lock(portfolioKey)
	defer unlock()

	start := time.Now()
	entries, all, err := p.portfolioEntries(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) < minPortfolioApps {
		return skipped(opPortfolioInsights, "", Decision{
			Action:  ActionSkip,
			Reason:  ReasonNoData,
			Warning: "portfolio insights need at least two applications with generated insights",
		}), nil
	}

	limit := p.cfg.Assessment.MaxPortfolioInsights
	if limit <= 0 {
		limit = 8
	}
	req := inference.Request{
		Task:    inference.TaskPortfolioInsights,
		System:  portfolioSystem,
		Payload: buildPortfolioPrompt(entries, limit),
	}

	var parsed portfolioResponse
	spent, err := p.inferDecode(ctx, req, func(raw string) error {
		parsed = portfolioResponse{}
		return inference.Decode(req.Task, raw, &parsed)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zap.L().Warn("pipeline: portfolio insight generation failed", zap.Error(err))
		res := failed(opPortfolioInsights, "", err)
		res.CostUSD = spent
		return res, nil
	}

	res := &OpResult{Operation: opPortfolioInsights, CostUSD: spent}
	candidates, items := validatePortfolio(parsed.Insights, all)
	kept, dropped := rankPortfolio(candidates, limit)
	for _, c := range dropped {
		items[c.item].Status = StatusSkipped
		items[c.item].Reason = ReasonOverLimit
	}
	res.Items = items

	if len(kept) == 0 {
		res.Status = StatusFailed
		res.Kind = resilience.KindValidation
		res.Error = "no portfolio insight passed validation"
		return res, nil
	}

	now := time.Now().UTC()
	insights := make([]model.PortfolioInsight, len(kept))
	for i, c := range kept {
		insights[i] = c.insight
		insights[i].ModelVersion = p.cfg.Anthropic.Model
		insights[i].GeneratedAt = now
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.store.ReplacePortfolioInsights(ctx, insights); err != nil {
		return nil, storeErr("replace portfolio insights", err)
	}

	res.Status = StatusProcessed
	res.Confidence = float64(len(insights)) / float64(len(parsed.Insights))
	zap.L().Info("pipeline: portfolio insights stored",
		zap.Int("applications", len(entries)),
		zap.Int("returned", len(parsed.Insights)),
		zap.Int("kept", len(insights)),
		zap.Float64("estimated_cost_usd", spent),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

// portfolioEntries loads every application with stored insights, sorted
// by name so the prompt is stable.
func (p *Pipeline) portfolioEntries(ctx context.Context) ([]portfolioEntry, []model.Application, error) {
	apps, err := p.store.ListApplications(ctx)
	if err != nil {
		return nil, nil, storeErr("list applications", err)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })

	scoring, err := p.scoringConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	var entries []portfolioEntry
	for _, app := range apps {
		insights, err := p.store.ListInsights(ctx, app.ID)
		if err != nil {
			return nil, nil, storeErr("list insights", err)
		}
		if len(insights) == 0 {
			continue
		}
		sortInsights(insights)

		scores, err := p.store.ListScores(ctx, app.ID)
		if err != nil {
			return nil, nil, storeErr("list scores", err)
		}
		assessment, err := scoring.Assess(app.ID, scores, false)
		if err != nil {
			assessment = nil
		}
		entries = append(entries, portfolioEntry{app: app, assessment: assessment, insights: insights})
	}
	return entries, apps, nil
}

// portfolioCandidate is a validated insight and the index of its item
// result.
type portfolioCandidate struct {
	insight model.PortfolioInsight
	item    int
}

// validatePortfolio checks each returned item. Affected applications are
// resolved by name; unknown names are dropped and items left with fewer
// than two applications are rejected.
func validatePortfolio(items []portfolioItem, apps []model.Application) ([]portfolioCandidate, []ItemResult) {
	var out []portfolioCandidate
	var results []ItemResult
	for i, it := range items {
		key := strings.TrimSpace(it.Title)
		if key == "" {
			key = "item-" + strconv.Itoa(i)
		}

		pi, err := toPortfolioInsight(it, apps)
		if err != nil {
			results = append(results, failedItem(key, err))
			continue
		}
		out = append(out, portfolioCandidate{insight: pi, item: len(results)})
		results = append(results, ItemResult{Key: key, Status: StatusProcessed})
	}
	return out, results
}

func toPortfolioInsight(it portfolioItem, apps []model.Application) (model.PortfolioInsight, error) {
	typ := model.PortfolioInsightType(strings.ToLower(strings.TrimSpace(it.Type)))
	if typ.Rank() < 0 {
		return model.PortfolioInsight{}, model.Invalid("type", "unknown portfolio insight type %q", it.Type)
	}
	title := strings.TrimSpace(it.Title)
	if title == "" {
		return model.PortfolioInsight{}, model.Invalid("title", "required")
	}
	priority := model.ParsePriority(it.Priority)
	if !priority.Valid() {
		return model.PortfolioInsight{}, model.Invalid("priority", "must be P1, P2 or P3, got %q", it.Priority)
	}
	affected := resolveApps(it.AffectedApps, apps, "")
	if len(affected) < minPortfolioApps {
		return model.PortfolioInsight{}, model.Invalid("affected_apps", "needs at least %d known applications, resolved %d", minPortfolioApps, len(affected))
	}
	sort.Strings(affected)

	return model.PortfolioInsight{
		Type:              typ,
		Title:             title,
		Description:       strings.TrimSpace(it.Description),
		Priority:          priority,
		Impact:            strings.TrimSpace(it.Impact),
		Complexity:        strings.TrimSpace(it.Complexity),
		Evidence:          cleanList(it.Evidence),
		AffectedApps:      affected,
		RecommendedAction: strings.TrimSpace(it.RecommendedAction),
	}, nil
}

// rankPortfolio orders candidates by priority, type and title and splits
// off everything past limit.
func rankPortfolio(cands []portfolioCandidate, limit int) (kept, dropped []portfolioCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].insight, cands[j].insight
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if a.Type.Rank() != b.Type.Rank() {
			return a.Type.Rank() < b.Type.Rank()
		}
		return a.Title < b.Title
	})
	if len(cands) > limit {
		return cands[:limit], cands[limit:]
	}
	return cands, nil
}

func sortInsights(insights []model.Insight) {
	rank := make(map[model.Facet]int, len(model.AllFacets))
	for i, f := range model.AllFacets {
		rank[f] = i
	}
	sort.SliceStable(insights, func(i, j int) bool { return rank[insights[i].Facet] < rank[insights[j].Facet] })
}
