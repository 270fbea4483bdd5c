package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/resilience"
)

const extractedJSON = "```json\n" + `{"answers":[
 {"question_id":"AR-01","question":"","answer":"It is a modular monolith","score":4,"confidence":0.9,"source_excerpt":"we run one big service"},
 {"question_id":"","question":"What is the primary business purpose of the application?","answer":"Billing","confidence":0.8,"source_excerpt":"it bills"},
 {"question_id":"OR-01","question":"","answer":"Maybe","confidence":0.2,"source_excerpt":"not sure"},
 {"question_id":"ZZ-99","question":"What is the airspeed of a swallow?","answer":"Unladen","confidence":0.9,"source_excerpt":"?"},
 {"question_id":"AR-01","question":"","answer":"Repeated","confidence":0.95,"source_excerpt":"again"}
],"summary":"Billing interview"}` + "\n```"

func extractHandler(req inference.Request) (string, error) {
	if req.Task != inference.TaskExtractAnswers {
		return noInference(req)
	}
	return extractedJSON, nil
}

func TestProcessTranscript_ExtractsAnswers(t *testing.T) {
	ctx := context.Background()
	p, st, resp := newTestPipeline(t, extractHandler)

	res, err := p.ProcessTranscript(ctx, "Billing Core", "interview-1.txt", "Interviewer: how is it built?\nOwner: we run one big service.")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.InDelta(t, 0.01, res.CostUSD, 0.0001)
	assert.InDelta(t, 0.85, res.Confidence, 0.001)

	byKey := make(map[string]ItemResult)
	for _, it := range res.Items {
		byKey[it.Key] = it
	}
	assert.Equal(t, StatusProcessed, byKey["AR-01"].Status)
	assert.Equal(t, StatusProcessed, byKey["SF-02"].Status, "question text maps back to its id")
	assert.Equal(t, StatusFailed, byKey["ZZ-99"].Status)
	assert.NotContains(t, byKey, "OR-01", "low confidence answers are dropped silently")

	req := resp.requests(inference.TaskExtractAnswers)
	require.Len(t, req, 1)
	assert.Equal(t, "Billing Core", req[0].App)
	assert.Contains(t, req[0].Payload, "[AR-01]")
	assert.Contains(t, req[0].Payload, "we run one big service")

	app, err := st.GetApplicationByName(ctx, "Billing Core")
	require.NoError(t, err)
	answers, err := st.ListAnswers(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, model.SourceTranscript, answers[0].Source)
	assert.Equal(t, "It is a modular monolith", answers[0].AnswerText, "first answer to a question wins")
	assert.Equal(t, extractionMethod, answers[0].ExtractionMethod)
	require.NotNil(t, answers[0].Score)
	assert.Equal(t, 4, *answers[0].Score)
	assert.NotEmpty(t, answers[0].TranscriptID)

	tr, err := st.GetTranscript(ctx, app.ID, "interview-1.txt")
	require.NoError(t, err)
	assert.True(t, tr.Processed)
}

func TestProcessTranscript_SecondRunSkipsWithoutInference(t *testing.T) {
	ctx := context.Background()
	p, st, resp := newTestPipeline(t, extractHandler)

	_, err := p.ProcessTranscript(ctx, "Billing Core", "interview-1.txt", "text")
	require.NoError(t, err)

	res, err := p.ProcessTranscript(ctx, "Billing Core", "interview-1.txt", "text changed")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, ReasonAlreadyProcessed, res.Reason)
	assert.Equal(t, 1, resp.count(inference.TaskExtractAnswers))

	app, err := st.GetApplicationByName(ctx, "Billing Core")
	require.NoError(t, err)
	answers, err := st.ListAnswers(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, answers, 2)
}

func TestProcessTranscript_MalformedLeavesPending(t *testing.T) {
	ctx := context.Background()
	p, st, resp := newTestPipeline(t, func(inference.Request) (string, error) {
		return "I could not find any answers.", nil
	})

	res, err := p.ProcessTranscript(ctx, "Billing Core", "interview-1.txt", "text")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, resilience.KindMalformed, res.Kind)
	assert.Equal(t, "I could not find any answers.", res.Raw)
	assert.Equal(t, 2, resp.count(inference.TaskExtractAnswers), "one retry on malformed output")

	pending, err := st.ListPendingTranscripts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// A later batch run picks it up.
	resp.setHandler(extractHandler)
	results, err := p.ProcessPendingTranscripts(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusProcessed, results[0].Status)
	require.Len(t, results[0].Items, 1)
	assert.Equal(t, "interview-1.txt", results[0].Items[0].Key)

	pending, err = st.ListPendingTranscripts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessTranscript_RetryRecovers(t *testing.T) {
	calls := 0
	p, _, resp := newTestPipeline(t, func(req inference.Request) (string, error) {
		calls++
		if calls == 1 {
			return "Sorry, no JSON today.", nil
		}
		return extractedJSON, nil
	})

	res, err := p.ProcessTranscript(context.Background(), "Billing Core", "interview-1.txt", "text")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 2, resp.count(inference.TaskExtractAnswers))
	assert.InDelta(t, 0.02, res.CostUSD, 0.0001)
}

func TestProcessTranscript_TruncatesLongText(t *testing.T) {
	p, _, resp := newTestPipeline(t, extractHandler)
	p.cfg.Assessment.MaxTranscriptChars = 100

	text := strings.Repeat("a", 100) + strings.Repeat("b", 500)
	_, err := p.ProcessTranscript(context.Background(), "Billing Core", "long.txt", text)
	require.NoError(t, err)

	req := resp.requests(inference.TaskExtractAnswers)
	require.Len(t, req, 1)
	assert.NotContains(t, req[0].Payload, strings.Repeat("b", 50))
}

func TestProcessTranscript_Validation(t *testing.T) {
	p, _, resp := newTestPipeline(t, extractHandler)

	_, err := p.ProcessTranscript(context.Background(), "Billing Core", "", "text")
	require.Error(t, err)
	assert.Equal(t, resilience.KindValidation, resilience.KindOf(err))

	_, err = p.ProcessTranscript(context.Background(), "Billing Core", "a.txt", "   ")
	require.Error(t, err)
	assert.Equal(t, resilience.KindValidation, resilience.KindOf(err))
	assert.Zero(t, resp.count(inference.TaskExtractAnswers))
}

func TestProcessTranscript_CanceledBeforeWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, st, _ := newTestPipeline(t, func(req inference.Request) (string, error) {
		cancel()
		return extractedJSON, nil
	})

	_, err := p.ProcessTranscript(ctx, "Billing Core", "interview-1.txt", "text")
	require.ErrorIs(t, err, context.Canceled)

	pending, err := st.ListPendingTranscripts(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1, "transcript stays pending")
}

func TestProcessPendingTranscripts_PerApplication(t *testing.T) {
	ctx := context.Background()
	p, st, _ := newTestPipeline(t, extractHandler)

	for _, name := range []string{"Billing Core", "Customer Portal"} {
		app, _, err := st.FindOrCreateApplication(ctx, name, false)
		require.NoError(t, err)
		for _, f := range []string{"a.txt", "b.txt"} {
			require.NoError(t, st.SaveTranscript(ctx, &model.Transcript{ApplicationID: app.ID, FileName: f, Text: "text"}))
		}
	}

	results, err := p.ProcessPendingTranscripts(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, StatusProcessed, r.Status)
		assert.Len(t, r.Items, 2)
	}

	results, err = p.ProcessPendingTranscripts(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
}
