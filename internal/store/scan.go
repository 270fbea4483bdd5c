package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/apm-cli/internal/model"
)

// scannable is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanApplication(row scannable) (*model.Application, error) {
	var app model.Application
	if err := row.Scan(&app.ID, &app.Name, &app.Commercial, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}
	return &app, nil
}

func scanAnswer(row scannable) (*model.Answer, error) {
	var a model.Answer
	var source, block string
	if err := row.Scan(&a.ID, &a.ApplicationID, &source, &a.TranscriptID, &a.QuestionID, &block,
		&a.AnswerText, &a.Score, &a.Confidence, &a.ExtractionMethod, &a.SourceExcerpt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Source = model.AnswerSource(source)
	a.Block = model.Block(block)
	return &a, nil
}

func scanTranscript(row scannable) (*model.Transcript, error) {
	var t model.Transcript
	if err := row.Scan(&t.ID, &t.ApplicationID, &t.FileName, &t.Text, &t.Processed, &t.UploadedAt, &t.ProcessedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanScore(row scannable) (*model.SynergyScore, error) {
	var sc model.SynergyScore
	var block, by string
	if err := row.Scan(&sc.ID, &sc.ApplicationID, &block, &sc.Score, &by, &sc.Confidence, &sc.Rationale,
		&sc.Approved, &sc.ApprovedBy, &sc.ApprovedAt, &sc.CreatedAt); err != nil {
		return nil, err
	}
	sc.Block = model.Block(block)
	sc.SuggestedBy = model.ScoreSource(by)
	return &sc, nil
}

func scanInsight(row scannable) (*model.Insight, error) {
	var in model.Insight
	var facet, priority, confidence string
	var evidence, affected, payload []byte
	if err := row.Scan(&in.ID, &in.ApplicationID, &facet, &in.Title, &in.Description, &priority,
		&in.Impact, &in.Complexity, &confidence, &evidence, &affected, &in.Unsupported, &in.NotApplicable,
		&payload, &in.ModelVersion, &in.GeneratedAt); err != nil {
		return nil, err
	}
	in.Facet = model.Facet(facet)
	in.Priority = model.Priority(priority)
	in.Confidence = model.ConfidenceLevel(confidence)
	if err := unmarshalList(evidence, &in.Evidence); err != nil {
		return nil, eris.Wrap(err, "decode evidence")
	}
	if err := unmarshalList(affected, &in.AffectedApps); err != nil {
		return nil, eris.Wrap(err, "decode affected apps")
	}
	if len(payload) > 0 {
		in.Payload = json.RawMessage(payload)
	}
	return &in, nil
}

func scanPortfolioInsight(row scannable) (*model.PortfolioInsight, error) {
	var pi model.PortfolioInsight
	var typ, priority string
	var evidence, affected []byte
	if err := row.Scan(&pi.ID, &typ, &pi.Title, &pi.Description, &priority, &pi.Impact, &pi.Complexity,
		&evidence, &affected, &pi.RecommendedAction, &pi.ModelVersion, &pi.GeneratedAt); err != nil {
		return nil, err
	}
	pi.Type = model.PortfolioInsightType(typ)
	pi.Priority = model.Priority(priority)
	if err := unmarshalList(evidence, &pi.Evidence); err != nil {
		return nil, eris.Wrap(err, "decode evidence")
	}
	if err := unmarshalList(affected, &pi.AffectedApps); err != nil {
		return nil, eris.Wrap(err, "decode affected apps")
	}
	return &pi, nil
}

func unmarshalList(data []byte, dst *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func marshalList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

// prepareAnswer fills ID and CreatedAt and normalises the transcript key
// so questionnaire answers always carry an empty transcript ID.
func prepareAnswer(a *model.Answer) *model.Answer {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Source == model.SourceQuestionnaire {
		a.TranscriptID = ""
	}
	return a
}

func answerArgs(a *model.Answer) []any {
	return []any{
		a.ID, a.ApplicationID, string(a.Source), a.TranscriptID, a.QuestionID, string(a.Block),
		a.AnswerText, a.Score, a.Confidence, a.ExtractionMethod, a.SourceExcerpt, a.CreatedAt,
	}
}

func prepareScore(appID string, sc *model.SynergyScore) *model.SynergyScore {
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	sc.ApplicationID = appID
	sc.Approved = false
	sc.ApprovedBy = ""
	sc.ApprovedAt = nil
	return sc
}

func applyApproval(sc *model.SynergyScore, approver string, override *int) {
	now := time.Now().UTC()
	if override != nil {
		sc.Score = *override
		sc.SuggestedBy = model.ScoreManual
	}
	sc.Approved = true
	sc.ApprovedBy = approver
	sc.ApprovedAt = &now
}

func validateOverride(override *int) error {
	if override != nil && (*override < 1 || *override > 5) {
		return model.Invalid("score", "override %d outside 1-5", *override)
	}
	return nil
}

func validateWeights(weights []model.BlockWeight) error {
	for _, w := range weights {
		if !w.Block.Valid() {
			return model.Invalid("block", "unknown block %q", w.Block)
		}
		if w.Weight < 0 {
			return model.Invalid("weight", "negative weight for %s", w.Block)
		}
	}
	return nil
}

func insightArgs(appID string, in *model.Insight) ([]any, error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now().UTC()
	}
	in.ApplicationID = appID
	evidence, err := marshalList(in.Evidence)
	if err != nil {
		return nil, eris.Wrap(err, "encode evidence")
	}
	affected, err := marshalList(in.AffectedApps)
	if err != nil {
		return nil, eris.Wrap(err, "encode affected apps")
	}
	var payload []byte
	if len(in.Payload) > 0 {
		payload = []byte(in.Payload)
	}
	return []any{
		in.ID, in.ApplicationID, string(in.Facet), in.Title, in.Description, string(in.Priority),
		in.Impact, in.Complexity, string(in.Confidence), evidence, affected, in.Unsupported,
		in.NotApplicable, payload, in.ModelVersion, in.GeneratedAt,
	}, nil
}

func portfolioArgs(pi *model.PortfolioInsight) ([]any, error) {
	if pi.ID == "" {
		pi.ID = uuid.New().String()
	}
	if pi.GeneratedAt.IsZero() {
		pi.GeneratedAt = time.Now().UTC()
	}
	evidence, err := marshalList(pi.Evidence)
	if err != nil {
		return nil, eris.Wrap(err, "encode evidence")
	}
	affected, err := marshalList(pi.AffectedApps)
	if err != nil {
		return nil, eris.Wrap(err, "encode affected apps")
	}
	return []any{
		pi.ID, string(pi.Type), pi.Title, pi.Description, string(pi.Priority), pi.Impact,
		pi.Complexity, evidence, affected, pi.RecommendedAction, pi.ModelVersion, pi.GeneratedAt,
	}, nil
}
