package pipeline

import (
	"context"

	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/scorer"
)

// AppStatus summarizes the stored assessment data for one application.
type AppStatus struct {
	Application        model.Application  `json:"application"`
	State              model.AppState     `json:"state"`
	Answers            int                `json:"answers"`
	Transcripts        int                `json:"transcripts"`
	PendingTranscripts int                `json:"pending_transcripts"`
	Scores             int                `json:"scores"`
	ApprovedBlocks     int                `json:"approved_blocks"`
	Insights           int                `json:"insights"`
	Assessment         *scorer.Assessment `json:"assessment,omitempty"`
}

// State derives the lifecycle stage of the named application from the
// store.
func (p *Pipeline) State(ctx context.Context, appName string) (model.AppState, error) {
	st, err := p.AppStatus(ctx, appName)
	if err != nil {
		return "", err
	}
	return st.State, nil
}

// AppStatus returns the status report for one application.
func (p *Pipeline) AppStatus(ctx context.Context, appName string) (*AppStatus, error) {
	app, err := p.application(ctx, appName)
	if err != nil {
		return nil, err
	}
	scoring, err := p.scoringConfig(ctx)
	if err != nil {
		return nil, err
	}
	return p.appStatus(ctx, *app, scoring)
}

// Status returns the status report for every application, ordered by name.
func (p *Pipeline) Status(ctx context.Context) ([]AppStatus, error) {
	apps, err := p.store.ListApplications(ctx)
	if err != nil {
		return nil, storeErr("list applications", err)
	}
	scoring, err := p.scoringConfig(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]AppStatus, 0, len(apps))
	for _, app := range apps {
		st, err := p.appStatus(ctx, app, scoring)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (p *Pipeline) appStatus(ctx context.Context, app model.Application, scoring scorer.Config) (*AppStatus, error) {
	answers, err := p.store.ListAnswers(ctx, app.ID)
	if err != nil {
		return nil, storeErr("list answers", err)
	}
	transcripts, err := p.store.ListTranscripts(ctx, app.ID)
	if err != nil {
		return nil, storeErr("list transcripts", err)
	}
	scores, err := p.store.ListScores(ctx, app.ID)
	if err != nil {
		return nil, storeErr("list scores", err)
	}
	insights, err := p.store.ListInsights(ctx, app.ID)
	if err != nil {
		return nil, storeErr("list insights", err)
	}

	st := &AppStatus{
		Application: app,
		Answers:     len(answers),
		Transcripts: len(transcripts),
		Scores:      len(scores),
		Insights:    len(insights),
	}
	for _, t := range transcripts {
		if !t.Processed {
			st.PendingTranscripts++
		}
	}
	approved := make(map[model.Block]bool)
	for _, s := range scores {
		if s.Approved {
			approved[s.Block] = true
		}
	}
	st.ApprovedBlocks = len(approved)

	if len(scores) > 0 {
		if a, err := scoring.Assess(app.ID, scores, false); err == nil {
			st.Assessment = a
		}
	}
	st.State = deriveState(st)
	return st, nil
}

// deriveState maps stored counts onto the lifecycle. The latest stage with
// data wins.
func deriveState(st *AppStatus) model.AppState {
	switch {
	case st.Insights > 0:
		return model.StateInsightsGenerated
	case st.ApprovedBlocks >= len(model.AllBlocks):
		return model.StateScoresApprovedFull
	case st.ApprovedBlocks > 0:
		return model.StateScoresApprovedPartial
	case st.Scores > 0:
		return model.StateScoresSuggested
	case st.Transcripts > 0:
		return model.StateTranscriptsProcessing
	case st.Answers > 0:
		return model.StateQuestionnaireIngested
	}
	return model.StateNoData
}
