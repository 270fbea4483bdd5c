package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/apm-cli/internal/config"
	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/store"
	"github.com/sells-group/apm-cli/pkg/perplexity"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Anthropic.Model = "stub-model"
	cfg.Batch.MaxConcurrentApps = 4
	cfg.Assessment.Threshold = 60
	cfg.Assessment.Scale = 20
	cfg.Assessment.TranscriptMinConfidence = 0.3
	cfg.Assessment.MaxTranscriptChars = 15000
	cfg.Assessment.MaxPortfolioInsights = 8
	cfg.Assessment.CommercialVendors = []string{"SAP", "ServiceNow"}
	cfg.Retry.MaxAttempts = 1
	return cfg
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "apm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestPipeline(t *testing.T, h func(req inference.Request) (string, error)) (*Pipeline, *store.SQLiteStore, *stubResponder) {
	t.Helper()
	return newTestPipelineWithMarket(t, h, nil)
}

func newTestPipelineWithMarket(t *testing.T, h func(req inference.Request) (string, error), market perplexity.Client) (*Pipeline, *store.SQLiteStore, *stubResponder) {
	t.Helper()
	st := newTestStore(t)
	resp := newStubResponder(h)
	p, err := New(testConfig(), st, resp, market, nil, nil)
	require.NoError(t, err)
	return p, st, resp
}

// noInference fails the test path that reaches the model.
func noInference(req inference.Request) (string, error) {
	return "", fmt.Errorf("unexpected inference call for %s", req.Task)
}

func intPtr(v int) *int { return &v }

func questionnaire(id string, score *int, text string) model.Answer {
	return model.Answer{QuestionID: id, Score: score, AnswerText: text}
}

func ingestAnswers(t *testing.T, p *Pipeline, app string, answers ...model.Answer) {
	t.Helper()
	res, err := p.IngestAnswers(context.Background(), app, answers)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, res.Status)
}

// facetOf recovers the facet a prompt was built for.
func facetOf(req inference.Request) model.Facet {
	for f, ask := range facetAsks {
		if strings.HasPrefix(req.Payload, "Task: "+ask) {
			return f
		}
	}
	return ""
}

// facetJSON returns a valid response for f.
func facetJSON(f model.Facet) string {
	switch f {
	case model.FacetCapability:
		return `{"title":"Solid billing engine","description":"Handles invoicing end to end.","confidence":"high",
"evidence":["SF-02: invoicing for all OPCOs"],"strengths":["Invoicing"],"limitations":["No self service"],"unique_value":"Rate engine"}`
	case model.FacetUserSatisfaction:
		return `{"title":"Users tolerate it","description":"Mixed feedback.","confidence":"medium",
"evidence":["Interview: slow month end"],"sentiment":"mixed","pain_points":["Slow month end"],"satisfaction_signals":["Reliable"],"key_quotes":["It works"]}`
	case model.FacetTechnicalDebt:
		return `{"title":"Aging platform","description":"Unsupported runtime.","priority":"P2","impact":"high","complexity":"high","confidence":"high",
"evidence":["AR-01 scored 4"],"severity":"high","issues":["Old runtime"],"modernization_needs":["Upgrade runtime"]}`
	case model.FacetIntegrationOpportunity:
		return `{"title":"Overlaps with CRM","description":"Customer data duplicated.","priority":"P3","confidence":"medium",
"evidence":["BE-04: overlaps with CRM"],"can_consolidate_with":["Customer Portal","Unknown Tool"],"should_integrate_into":[],"dependencies":[]}`
	case model.FacetMarketAlternative:
		return `{"title":"SaaS billing is mature","description":"Several vendors fit.","confidence":"medium",
"evidence":["Market research"],"alternatives":["Zuora","Chargebee"],"migration_path":"Phased","market_position":"Declining"}`
	case model.FacetStrategicRecommendation:
		return `{"title":"Retire and consolidate","description":"Move billing into the ERP.","priority":"P1","impact":"high","complexity":"medium","confidence":"high",
"evidence":["Health index 38"],"action":"retire","target":"Customer Portal","rationale":"Low health, low value."}`
	}
	return "{}"
}

// insightHandler answers every facet with a valid payload and lets
// overrides replace individual facets.
func insightHandler(overrides map[model.Facet]func(req inference.Request) (string, error)) func(req inference.Request) (string, error) {
	return func(req inference.Request) (string, error) {
		if req.Task != inference.TaskInsightFacet {
			return "", errors.New("unexpected task " + string(req.Task))
		}
		f := facetOf(req)
		if fn, ok := overrides[f]; ok {
			return fn(req)
		}
		return facetJSON(f), nil
	}
}
