package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/internal/ingest"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/resilience"
	"github.com/sells-group/apm-cli/internal/scorer"
	"github.com/sells-group/apm-cli/pkg/perplexity"
)

const opGenerateInsights = "generate-insights"

const marketPrompt = `List the leading commercial and open-source alternatives to %s for enterprise use.
For each give the vendor, positioning, typical migration effort and notable strengths or weaknesses compared to %s.`

// insightJob carries one application through facet generation.
type insightJob struct {
	ctx      *appContext
	insights map[model.Facet]model.Insight
	items    map[model.Facet]ItemResult
	cost     float64
	skip     *OpResult
}

// GenerateInsights produces the six insight facets for one application and
// replaces any stored ones. The application needs at least one
// questionnaire answer.
func (p *Pipeline) GenerateInsights(ctx context.Context, appName string) (*OpResult, error) {
	app, err := p.application(ctx, appName)
	if err != nil {
		return nil, err
	}
	results, err := p.generateInsights(ctx, []model.Application{*app})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// GenerateAllInsights generates insights for every application. Facet
// requests across applications are sent together so the responder can
// batch them.
func (p *Pipeline) GenerateAllInsights(ctx context.Context) ([]*OpResult, error) {
	apps, err := p.store.ListApplications(ctx)
	if err != nil {
		return nil, storeErr("list applications", err)
	}
	return p.generateInsights(ctx, apps)
}

func (p *Pipeline) generateInsights(ctx context.Context, apps []model.Application) ([]*OpResult, error) {
	start := time.Now()

	// Lock in a fixed order so overlapping runs cannot deadlock.
	ids := make([]string, len(apps))
	for i, a := range apps {
		ids[i] = a.ID
	}
	sort.Strings(ids)
	for _, id := range ids {
		unlock := p.locks.Lock(id)
		defer unlock()
	}

	all, err := p.store.ListApplications(ctx)
	if err != nil {
		return nil, storeErr("list applications", err)
	}
	scoring, err := p.scoringConfig(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]*insightJob, len(apps))
	for i := range apps {
		job, err := p.prepareInsightJob(ctx, &apps[i], all, scoring)
		if err != nil {
			return nil, err
		}
		jobs[i] = job
	}
	active := activeJobs(jobs)

	for _, job := range active {
		job.ctx.market, job.cost = p.marketResearch(ctx, job.ctx.app)
	}

	// The recommendation summarises the other facets, so it runs second.
	var first []model.Facet
	for _, f := range model.AllFacets {
		if f != model.FacetStrategicRecommendation {
			first = append(first, f)
		}
	}
	p.runFacets(ctx, active, first, all)
	p.runFacets(ctx, active, []model.Facet{model.FacetStrategicRecommendation}, all)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]*OpResult, len(jobs))
	for i, job := range jobs {
		if job.skip != nil {
			results[i] = job.skip
			continue
		}
		res, err := p.storeInsights(ctx, job)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}

	zap.L().Info("pipeline: insight generation complete",
		zap.Int("applications", len(apps)),
		zap.Int("generated", len(active)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return results, nil
}

func (p *Pipeline) prepareInsightJob(ctx context.Context, app *model.Application, all []model.Application, scoring scorer.Config) (*insightJob, error) {
	answers, err := p.store.ListAnswers(ctx, app.ID)
	if err != nil {
		return nil, storeErr("list answers", err)
	}
	job := &insightJob{
		insights: make(map[model.Facet]model.Insight, len(model.AllFacets)),
		items:    make(map[model.Facet]ItemResult, len(model.AllFacets)),
	}
	if !hasQuestionnaire(answers) {
		job.skip = skipped(opGenerateInsights, app.Name, Decision{
			Action:  ActionSkip,
			Reason:  ReasonNoData,
			Warning: "no questionnaire answers ingested",
		})
		return job, nil
	}

	transcripts, err := p.store.ListTranscripts(ctx, app.ID)
	if err != nil {
		return nil, storeErr("list transcripts", err)
	}
	scores, err := p.store.ListScores(ctx, app.ID)
	if err != nil {
		return nil, storeErr("list scores", err)
	}
	assessment, err := scoring.Assess(app.ID, scores, false)
	if err != nil {
		zap.L().Warn("pipeline: assessment unavailable for insight context",
			zap.String("application", app.Name), zap.Error(err))
		assessment = nil
	}

	var others []string
	for _, a := range all {
		if a.ID != app.ID {
			others = append(others, a.Name)
		}
	}

	job.ctx = &appContext{
		app:         app,
		answers:     answers,
		transcripts: transcripts,
		assessment:  assessment,
		others:      others,
	}
	return job, nil
}

// marketResearch asks the search provider about alternatives to a
// commercial product. Failures only cost the facet its extra context.
func (p *Pipeline) marketResearch(ctx context.Context, app *model.Application) (string, float64) {
	if p.market == nil || !app.Commercial {
		return "", 0
	}

	retry := resilience.FromRetryConfig(p.cfg.Retry.MaxAttempts, p.cfg.Retry.InitialBackoffMs, p.cfg.Retry.MaxBackoffMs)
	retry.OnRetry = resilience.RetryLogger("perplexity", "market research")
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		resp, err := p.market.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Messages: []perplexity.Message{
				{Role: "system", Content: "Be precise and concise. Cite sources."},
				{Role: "user", Content: fmt.Sprintf(marketPrompt, app.Name, app.Name)},
			},
		})
		var se *perplexity.StatusError
		if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
			return nil, resilience.NewTransientError(err, se.StatusCode)
		}
		return resp, err
	})
	if err != nil {
		zap.L().Warn("pipeline: market research failed",
			zap.String("application", app.Name), zap.Error(err))
		return "", 0
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(resp.Text()))
	if len(resp.Citations) > 0 {
		b.WriteString("\nSources:\n")
		for _, c := range resp.Citations {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String(), p.costs.PerplexityQuery()
}

type facetRef struct {
	job   *insightJob
	facet model.Facet
}

// runFacets generates facets for every active job. Failed facets are
// stored as low-confidence placeholders so siblings are never blocked.
func (p *Pipeline) runFacets(ctx context.Context, jobs []*insightJob, facets []model.Facet, all []model.Application) {
	var reqs []inference.Request
	var refs []facetRef
	for _, job := range jobs {
		for _, f := range facets {
			if f == model.FacetMarketAlternative && !job.ctx.app.Commercial {
				job.insights[f] = notApplicableInsight()
				job.items[f] = ItemResult{Key: string(f), Status: StatusSkipped, Reason: ReasonNotApplicable}
				continue
			}
			reqs = append(reqs, p.facetRequest(job, f))
			refs = append(refs, facetRef{job: job, facet: f})
		}
	}
	if len(reqs) == 0 {
		return
	}

	results := inference.InferAll(ctx, p.responder, reqs, p.cfg.Batch.MaxConcurrentApps)
	for i, r := range results {
		p.acceptFacet(ctx, refs[i], reqs[i], r, all)
	}
}

func (p *Pipeline) facetRequest(job *insightJob, f model.Facet) inference.Request {
	var prior []model.Insight
	if f == model.FacetStrategicRecommendation {
		for _, pf := range model.AllFacets {
			if in, ok := job.insights[pf]; ok && !in.NotApplicable && pf != f {
				prior = append(prior, in)
			}
		}
	}
	return inference.Request{
		Task:    inference.TaskInsightFacet,
		App:     job.ctx.app.Name,
		System:  facetSystem,
		Payload: buildFacetPrompt(f, job.ctx, p.catalog, prior, p.cfg.Assessment.MaxTranscriptChars),
	}
}

// acceptFacet parses a facet response, retrying once when it is malformed
// or, for the recommendation, carries no evidence.
func (p *Pipeline) acceptFacet(ctx context.Context, ref facetRef, req inference.Request, r inference.Result, all []model.Application) {
	job, f := ref.job, ref.facet
	log := zap.L().With(zap.String("application", job.ctx.app.Name), zap.String("facet", string(f)))

	payload, modelVersion, err := p.parseResult(f, r, job)
	if needsRetry(f, payload, err) && ctx.Err() == nil {
		log.Warn("pipeline: facet retry", zap.Error(err))
		resp, ierr := p.responder.Infer(ctx, req)
		retried, retriedVersion, rerr := p.parseResult(f, inference.Result{Response: resp, Err: ierr}, job)
		// An evidence-free recommendation beats a failed retry; it is
		// stored flagged as unsupported.
		if rerr == nil || payload == nil {
			payload, modelVersion, err = retried, retriedVersion, rerr
		}
	}

	if err != nil {
		log.Warn("pipeline: facet failed", zap.Error(err))
		job.insights[f] = failureInsight(f, err)
		job.items[f] = failedItem(string(f), err)
		return
	}

	in := p.toInsight(job.ctx.app, payload, all)
	in.ModelVersion = modelVersion
	job.insights[f] = in
	job.items[f] = ItemResult{Key: string(f), Status: StatusProcessed}
}

func (p *Pipeline) parseResult(f model.Facet, r inference.Result, job *insightJob) (model.FacetPayload, string, error) {
	if r.Err != nil {
		return nil, "", r.Err
	}
	job.cost += r.Response.CostUSD
	payload, err := parseFacet(f, r.Response.Text)
	return payload, r.Response.Model, err
}

func needsRetry(f model.Facet, payload model.FacetPayload, err error) bool {
	var mre *model.MalformedResponseError
	if errors.As(err, &mre) {
		return true
	}
	return err == nil && f == model.FacetStrategicRecommendation && !hasEvidence(payload.Body().Evidence)
}

// parseFacet decodes the variant for f and validates its required fields.
func parseFacet(f model.Facet, raw string) (model.FacetPayload, error) {
	switch f {
	case model.FacetCapability:
		return decodeFacet[model.CapabilityFacet](raw)
	case model.FacetUserSatisfaction:
		return decodeFacet[model.UserSatisfactionFacet](raw)
	case model.FacetTechnicalDebt:
		return decodeFacet[model.TechnicalDebtFacet](raw)
	case model.FacetIntegrationOpportunity:
		return decodeFacet[model.IntegrationFacet](raw)
	case model.FacetMarketAlternative:
		return decodeFacet[model.MarketAlternativeFacet](raw)
	case model.FacetStrategicRecommendation:
		return decodeFacet[model.RecommendationFacet](raw)
	}
	return nil, model.Invalid("facet", "unknown facet %q", f)
}

func decodeFacet[T model.FacetPayload](raw string) (model.FacetPayload, error) {
	var v T
	if err := inference.Decode(inference.TaskInsightFacet, raw, &v); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, malformed(inference.TaskInsightFacet, raw, err)
	}
	return v, nil
}

func (p *Pipeline) toInsight(app *model.Application, payload model.FacetPayload, all []model.Application) model.Insight {
	body := payload.Body()
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	in := model.Insight{
		Facet:        payload.Facet(),
		Title:        strings.TrimSpace(body.Title),
		Description:  strings.TrimSpace(body.Description),
		Priority:     body.Priority,
		Impact:       body.Impact,
		Complexity:   body.Complexity,
		Confidence:   body.Confidence,
		Evidence:     cleanList(body.Evidence),
		AffectedApps: resolveApps(payload.References(), all, app.ID),
		Payload:      raw,
	}
	if in.Facet == model.FacetStrategicRecommendation && len(in.Evidence) == 0 {
		in.Unsupported = true
		in.Confidence = model.ConfidenceLow
	}
	return in
}

func failureInsight(f model.Facet, err error) model.Insight {
	diag := map[string]string{"error": err.Error()}
	var mre *model.MalformedResponseError
	if errors.As(err, &mre) {
		diag["raw"] = mre.Raw
	}
	raw, _ := json.Marshal(diag)
	return model.Insight{
		Facet:       f,
		Title:       fmt.Sprintf("%s analysis unavailable", f),
		Description: "Generation failed: " + err.Error(),
		Confidence:  model.ConfidenceLow,
		Unsupported: f == model.FacetStrategicRecommendation,
		Payload:     raw,
	}
}

func notApplicableInsight() model.Insight {
	return model.Insight{
		Facet:         model.FacetMarketAlternative,
		Description:   "In-house application; market alternatives are not assessed.",
		Confidence:    model.ConfidenceHigh,
		NotApplicable: true,
	}
}

// storeInsights writes a job's facets. When every generated facet failed
// nothing is written, so earlier insights survive an outage.
func (p *Pipeline) storeInsights(ctx context.Context, job *insightJob) (*OpResult, error) {
	app := job.ctx.app
	res := &OpResult{Operation: opGenerateInsights, Application: app.Name, CostUSD: job.cost}

	var insights []model.Insight
	var confSum float64
	var rated int
	for _, f := range model.AllFacets {
		in, ok := job.insights[f]
		if !ok {
			continue
		}
		insights = append(insights, in)
		res.Items = append(res.Items, job.items[f])
		if !in.NotApplicable {
			confSum += in.Confidence.Score()
			rated++
		}
	}

	if res.Count(StatusProcessed) == 0 {
		res.Status = StatusFailed
		res.Kind = resilience.KindMalformed
		for _, it := range res.Items {
			if it.Status == StatusFailed {
				res.Kind = it.Kind
				res.Error = it.Error
				break
			}
		}
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.store.ReplaceInsights(ctx, app.ID, insights); err != nil {
		return nil, storeErr("replace insights", err)
	}

	res.Status = StatusProcessed
	if rated > 0 {
		res.Confidence = confSum / float64(rated)
	}
	zap.L().Info("pipeline: insights stored",
		zap.String("application", app.Name),
		zap.Int("facets", len(insights)),
		zap.Int("failed", res.Count(StatusFailed)),
		zap.Float64("estimated_cost_usd", job.cost),
	)
	return res, nil
}

// resolveApps maps weak application references onto stored names. Unknown
// names and self references are dropped.
func resolveApps(names []string, all []model.Application, selfID string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, n := range names {
		app, kind := ingest.MatchApplication(n, all)
		if kind == ingest.MatchNone || app == nil || app.ID == selfID || seen[app.ID] {
			continue
		}
		seen[app.ID] = true
		out = append(out, app.Name)
	}
	return out
}

func activeJobs(jobs []*insightJob) []*insightJob {
	var out []*insightJob
	for _, j := range jobs {
		if j.skip == nil {
			out = append(out, j)
		}
	}
	return out
}

func hasQuestionnaire(answers []model.Answer) bool {
	for _, a := range answers {
		if a.Source == model.SourceQuestionnaire {
			return true
		}
	}
	return false
}

func hasEvidence(evidence []string) bool {
	return len(cleanList(evidence)) > 0
}

func cleanList(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
