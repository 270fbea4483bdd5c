package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/internal/model"
)

func TestState_Lifecycle(t *testing.T) {
	ctx := context.Background()
	p, st, resp := newTestPipeline(t, noInference)

	_, _, err := st.FindOrCreateApplication(ctx, "Billing Core", false)
	require.NoError(t, err)
	state, err := p.State(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, model.StateNoData, state)

	ingestAnswers(t, p, "Billing Core", questionnaire("AR-01", intPtr(4), "Monolith"))
	state, err = p.State(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, model.StateQuestionnaireIngested, state)

	// SF-02 arrives from the transcript without a score, so scoring asks the
	// model for Strategic Fit.
	resp.setHandler(func(req inference.Request) (string, error) {
		if req.Task == inference.TaskSuggestScores {
			return `{"scores":{"Strategic Fit":{"score":4,"confidence":0.8,"rationale":"Billing is core"}}}`, nil
		}
		return extractHandler(req)
	})
	_, err = p.ProcessTranscript(ctx, "Billing Core", "interview.txt", "text")
	require.NoError(t, err)
	state, err = p.State(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, model.StateTranscriptsProcessing, state)

	res, err := p.SuggestScores(ctx, "Billing Core", false)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, res.Status, res.Error)
	assert.Equal(t, 1, resp.count(inference.TaskSuggestScores))
	state, err = p.State(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, model.StateScoresSuggested, state)

	app, err := st.GetApplicationByName(ctx, "Billing Core")
	require.NoError(t, err)
	ids := scoreIDs(t, p, app.ID)
	require.Len(t, ids, len(model.AllBlocks))
	_, err = p.ApproveScore(ctx, ids[model.BlockArchitecture], "reviewer", nil)
	require.NoError(t, err)
	state, err = p.State(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, model.StateScoresApprovedPartial, state)

	for b, id := range ids {
		if b == model.BlockArchitecture {
			continue
		}
		_, err = p.ApproveScore(ctx, id, "reviewer", nil)
		require.NoError(t, err)
	}
	state, err = p.State(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, model.StateScoresApprovedFull, state)

	resp.setHandler(insightHandler(nil))
	_, err = p.GenerateInsights(ctx, "Billing Core")
	require.NoError(t, err)
	state, err = p.State(ctx, "Billing Core")
	require.NoError(t, err)
	assert.Equal(t, model.StateInsightsGenerated, state)
	assert.Positive(t, resp.count(inference.TaskInsightFacet))
}

func TestState_UnknownApplication(t *testing.T) {
	p, _, _ := newTestPipeline(t, noInference)

	_, err := p.State(context.Background(), "Nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStatus_AllApplications(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPipeline(t, noInference)
	ingestAnswers(t, p, "Billing Core", questionnaire("AR-01", intPtr(4), "Monolith"))
	ingestAnswers(t, p, "Customer Portal", questionnaire("UV-01", intPtr(5), "Loved"))
	_, err := p.SuggestScores(ctx, "Billing Core", false)
	require.NoError(t, err)

	report, err := p.Status(ctx)
	require.NoError(t, err)
	require.Len(t, report, 2)

	assert.Equal(t, "Billing Core", report[0].Application.Name)
	assert.Equal(t, model.StateScoresSuggested, report[0].State)
	assert.Equal(t, 1, report[0].Answers)
	assert.Equal(t, len(model.AllBlocks), report[0].Scores)
	require.NotNil(t, report[0].Assessment)

	assert.Equal(t, "Customer Portal", report[1].Application.Name)
	assert.Equal(t, model.StateQuestionnaireIngested, report[1].State)
	assert.Nil(t, report[1].Assessment, "no scores, no assessment")
}

func TestDeriveState(t *testing.T) {
	tests := []struct {
		name string
		st   AppStatus
		want model.AppState
	}{
		{"empty", AppStatus{}, model.StateNoData},
		{"answers", AppStatus{Answers: 3}, model.StateQuestionnaireIngested},
		{"pending transcript", AppStatus{Answers: 3, Transcripts: 1, PendingTranscripts: 1}, model.StateTranscriptsProcessing},
		{"scores", AppStatus{Answers: 3, Scores: 8}, model.StateScoresSuggested},
		{"partial", AppStatus{Scores: 8, ApprovedBlocks: 3}, model.StateScoresApprovedPartial},
		{"full", AppStatus{Scores: 8, ApprovedBlocks: 8}, model.StateScoresApprovedFull},
		{"insights", AppStatus{Insights: 6}, model.StateInsightsGenerated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveState(&tt.st))
		})
	}
}
