package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/resilience"
	"github.com/sells-group/apm-cli/pkg/perplexity"
)

func seedPortfolio(t *testing.T, p *Pipeline) {
	t.Helper()
	ingestAnswers(t, p, "Billing Core", questionnaire("AR-01", intPtr(4), "Modular monolith"))
	ingestAnswers(t, p, "Customer Portal", questionnaire("UV-01", intPtr(5), "Users like it"))
}

func insightsByFacet(t *testing.T, p *Pipeline, appName string) map[model.Facet]model.Insight {
	t.Helper()
	ctx := context.Background()
	app, err := p.store.GetApplicationByName(ctx, appName)
	require.NoError(t, err)
	insights, err := p.store.ListInsights(ctx, app.ID)
	require.NoError(t, err)
	out := make(map[model.Facet]model.Insight, len(insights))
	for _, in := range insights {
		out[in.Facet] = in
	}
	return out
}

func facetRequests(resp *stubResponder, f model.Facet) []inference.Request {
	var out []inference.Request
	for _, r := range resp.requests(inference.TaskInsightFacet) {
		if facetOf(r) == f {
			out = append(out, r)
		}
	}
	return out
}

func TestGenerateInsights_InHouseApplication(t *testing.T) {
	ctx := context.Background()
	p, _, resp := newTestPipeline(t, insightHandler(nil))
	seedPortfolio(t, p)

	res, err := p.GenerateInsights(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 5, res.Count(StatusProcessed))
	assert.Equal(t, 1, res.Count(StatusSkipped))
	assert.InDelta(t, 0.05, res.CostUSD, 0.0001)
	assert.Equal(t, 5, resp.count(inference.TaskInsightFacet))
	assert.Empty(t, facetRequests(resp, model.FacetMarketAlternative), "in-house apps get no market call")

	got := insightsByFacet(t, p, "Billing Core")
	require.Len(t, got, len(model.AllFacets))

	market := got[model.FacetMarketAlternative]
	assert.True(t, market.NotApplicable)
	assert.Empty(t, market.Title)

	integ := got[model.FacetIntegrationOpportunity]
	assert.Equal(t, []string{"Customer Portal"}, integ.AffectedApps, "unknown names are dropped")
	assert.Equal(t, "stub-model", integ.ModelVersion)

	rec := got[model.FacetStrategicRecommendation]
	assert.False(t, rec.Unsupported)
	assert.Equal(t, model.ConfidenceHigh, rec.Confidence)
	assert.Equal(t, model.PriorityP1, rec.Priority)
	assert.Equal(t, []string{"Health index 38"}, rec.Evidence)
	assert.Contains(t, string(rec.Payload), `"action":"retire"`)

	recReqs := facetRequests(resp, model.FacetStrategicRecommendation)
	require.Len(t, recReqs, 1)
	assert.Contains(t, recReqs[0].Payload, "Findings so far")
	assert.Contains(t, recReqs[0].Payload, "Solid billing engine")
	assert.NotContains(t, recReqs[0].Payload, "market alternatives are not assessed")

	state, err := p.State(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, model.StateInsightsGenerated, state)
}

func TestGenerateInsights_RecommendationWithoutEvidence(t *testing.T) {
	p, _, resp := newTestPipeline(t, insightHandler(map[model.Facet]func(inference.Request) (string, error){
		model.FacetStrategicRecommendation: func(inference.Request) (string, error) {
			return `{"title":"Retire","description":"Retire it.","priority":"P2","confidence":"high","evidence":[],"action":"retire","rationale":"Old"}`, nil
		},
	}))
	seedPortfolio(t, p)

	res, err := p.GenerateInsights(context.Background(), "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Len(t, facetRequests(resp, model.FacetStrategicRecommendation), 2, "retried once")

	rec := insightsByFacet(t, p, "Billing Core")[model.FacetStrategicRecommendation]
	assert.True(t, rec.Unsupported)
	assert.Equal(t, model.ConfidenceLow, rec.Confidence)
	assert.Equal(t, "Retire", rec.Title)
}

func TestGenerateInsights_RecommendationRetryAddsEvidence(t *testing.T) {
	var calls atomic.Int32
	p, _, _ := newTestPipeline(t, insightHandler(map[model.Facet]func(inference.Request) (string, error){
		model.FacetStrategicRecommendation: func(inference.Request) (string, error) {
			if calls.Add(1) == 1 {
				return `{"title":"Retire","description":"Retire it.","priority":"P2","confidence":"high","evidence":[],"action":"retire","rationale":"Old"}`, nil
			}
			return facetJSON(model.FacetStrategicRecommendation), nil
		},
	}))
	seedPortfolio(t, p)

	_, err := p.GenerateInsights(context.Background(), "Billing Core")
	require.NoError(t, err)

	rec := insightsByFacet(t, p, "Billing Core")[model.FacetStrategicRecommendation]
	assert.False(t, rec.Unsupported)
	assert.Equal(t, "Retire and consolidate", rec.Title)
}

func TestGenerateInsights_RecommendationCaseInsensitive(t *testing.T) {
	p, _, resp := newTestPipeline(t, insightHandler(map[model.Facet]func(inference.Request) (string, error){
		model.FacetStrategicRecommendation: func(inference.Request) (string, error) {
			return `{"title":"Retire","description":"Retire it.","priority":"p1","confidence":"High","evidence":["Health index 38"],"action":"Retire","rationale":"Old"}`, nil
		},
		model.FacetTechnicalDebt: func(inference.Request) (string, error) {
			return `{"title":"Aging","description":"Old.","priority":" p2 ","confidence":"MEDIUM","evidence":["AR-01"],"severity":"High","issues":["Old runtime"]}`, nil
		},
	}))
	seedPortfolio(t, p)

	res, err := p.GenerateInsights(context.Background(), "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Zero(t, res.Count(StatusFailed))
	assert.Len(t, facetRequests(resp, model.FacetStrategicRecommendation), 1)

	got := insightsByFacet(t, p, "Billing Core")
	rec := got[model.FacetStrategicRecommendation]
	assert.Equal(t, "Retire", rec.Title)
	assert.Equal(t, model.PriorityP1, rec.Priority)
	assert.Equal(t, model.ConfidenceHigh, rec.Confidence)
	assert.False(t, rec.Unsupported)
	assert.Contains(t, string(rec.Payload), `"action":"retire"`)

	debt := got[model.FacetTechnicalDebt]
	assert.Equal(t, model.PriorityP2, debt.Priority)
	assert.Equal(t, model.ConfidenceMedium, debt.Confidence)
}

func TestGenerateInsights_FacetFailureIsIsolated(t *testing.T) {
	p, _, resp := newTestPipeline(t, insightHandler(map[model.Facet]func(inference.Request) (string, error){
		model.FacetTechnicalDebt: func(inference.Request) (string, error) {
			return "nope", nil
		},
	}))
	seedPortfolio(t, p)

	res, err := p.GenerateInsights(context.Background(), "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 1, res.Count(StatusFailed))
	assert.Equal(t, 4, res.Count(StatusProcessed))
	assert.Len(t, facetRequests(resp, model.FacetTechnicalDebt), 2)

	for _, it := range res.Items {
		if it.Key == string(model.FacetTechnicalDebt) {
			assert.Equal(t, resilience.KindMalformed, it.Kind)
			assert.Equal(t, "nope", it.Raw)
		}
	}

	got := insightsByFacet(t, p, "Billing Core")
	require.Len(t, got, len(model.AllFacets))
	debt := got[model.FacetTechnicalDebt]
	assert.Equal(t, model.ConfidenceLow, debt.Confidence)
	assert.Contains(t, debt.Description, "Generation failed")
	assert.Contains(t, string(debt.Payload), "nope")
	assert.Equal(t, model.ConfidenceHigh, got[model.FacetCapability].Confidence)
}

func TestGenerateInsights_InvalidVariantIsMalformed(t *testing.T) {
	p, _, _ := newTestPipeline(t, insightHandler(map[model.Facet]func(inference.Request) (string, error){
		model.FacetUserSatisfaction: func(inference.Request) (string, error) {
			return `{"title":"Users","description":"d","confidence":"high","evidence":["x"],"sentiment":"ecstatic"}`, nil
		},
	}))
	seedPortfolio(t, p)

	res, err := p.GenerateInsights(context.Background(), "Billing Core")
	require.NoError(t, err)
	for _, it := range res.Items {
		if it.Key == string(model.FacetUserSatisfaction) {
			assert.Equal(t, StatusFailed, it.Status)
			assert.Equal(t, resilience.KindMalformed, it.Kind)
			assert.Contains(t, it.Error, "sentiment")
		}
	}
}

func TestGenerateInsights_OutageKeepsPriorInsights(t *testing.T) {
	ctx := context.Background()
	p, _, resp := newTestPipeline(t, insightHandler(nil))
	seedPortfolio(t, p)

	_, err := p.GenerateInsights(ctx, "Billing Core")
	require.NoError(t, err)

	resp.setHandler(func(inference.Request) (string, error) {
		return "", errors.New("upstream down")
	})
	res, err := p.GenerateInsights(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "upstream down")

	got := insightsByFacet(t, p, "Billing Core")
	assert.Equal(t, "Solid billing engine", got[model.FacetCapability].Title)
}

func TestGenerateInsights_NeedsQuestionnaire(t *testing.T) {
	ctx := context.Background()
	p, st, resp := newTestPipeline(t, insightHandler(nil))
	_, _, err := st.FindOrCreateApplication(ctx, "Billing Core", false)
	require.NoError(t, err)

	res, err := p.GenerateInsights(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, ReasonNoData, res.Reason)
	assert.Zero(t, resp.count(inference.TaskInsightFacet))
}

func TestGenerateInsights_CommercialUsesMarketResearch(t *testing.T) {
	ctx := context.Background()
	market := &mockPerplexityClient{}
	market.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return len(req.Messages) == 2 && req.Messages[1].Role == "user"
	})).Return(&perplexity.ChatCompletionResponse{
		Choices:   []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: "Zuora leads the market."}}},
		Citations: []string{"https://example.com/billing-report"},
	}, nil).Once()

	p, _, resp := newTestPipelineWithMarket(t, insightHandler(nil), market)
	ingestAnswers(t, p, "SAP Billing", questionnaire("AR-01", intPtr(3), "Vendor managed"))

	res, err := p.GenerateInsights(ctx, "SAP Billing")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 6, res.Count(StatusProcessed))
	assert.InDelta(t, 0.065, res.CostUSD, 0.0001)

	reqs := facetRequests(resp, model.FacetMarketAlternative)
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Payload, "Zuora leads the market.")
	assert.Contains(t, reqs[0].Payload, "https://example.com/billing-report")

	got := insightsByFacet(t, p, "SAP Billing")
	assert.False(t, got[model.FacetMarketAlternative].NotApplicable)
	assert.Contains(t, string(got[model.FacetMarketAlternative].Payload), "Zuora")
	market.AssertExpectations(t)
}

func TestGenerateInsights_MarketResearchFailureIsSoft(t *testing.T) {
	market := &mockPerplexityClient{}
	market.On("ChatCompletion", mock.Anything, mock.Anything).Return(nil, errors.New("dns failure"))

	p, _, resp := newTestPipelineWithMarket(t, insightHandler(nil), market)
	ingestAnswers(t, p, "SAP Billing", questionnaire("AR-01", intPtr(3), "Vendor managed"))

	res, err := p.GenerateInsights(context.Background(), "SAP Billing")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)

	reqs := facetRequests(resp, model.FacetMarketAlternative)
	require.Len(t, reqs, 1)
	assert.NotContains(t, reqs[0].Payload, "Market research:")
}

func TestGenerateAllInsights(t *testing.T) {
	ctx := context.Background()
	p, st, resp := newTestPipeline(t, insightHandler(nil))
	seedPortfolio(t, p)
	_, _, err := st.FindOrCreateApplication(ctx, "Empty App", false)
	require.NoError(t, err)

	results, err := p.GenerateAllInsights(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byApp := make(map[string]*OpResult)
	for _, r := range results {
		byApp[r.Application] = r
	}
	assert.Equal(t, StatusProcessed, byApp["Billing Core"].Status)
	assert.Equal(t, StatusProcessed, byApp["Customer Portal"].Status)
	assert.Equal(t, StatusSkipped, byApp["Empty App"].Status)
	assert.Equal(t, 10, resp.count(inference.TaskInsightFacet))

	integ := insightsByFacet(t, p, "Customer Portal")[model.FacetIntegrationOpportunity]
	assert.Empty(t, integ.AffectedApps, "self references are dropped")
}

func TestGenerateInsights_UnknownApplication(t *testing.T) {
	p, _, _ := newTestPipeline(t, insightHandler(nil))

	_, err := p.GenerateInsights(context.Background(), "Nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
