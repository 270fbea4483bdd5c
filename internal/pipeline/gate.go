package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/store"
)

// Action is what a gate decision tells the caller to do.
type Action string

const (
	ActionProceed            Action = "proceed"
	ActionSkip               Action = "skip"
	ActionProceedAfterRetire Action = "proceed-after-retiring-prior"
	ActionInsert             Action = "insert"
)

// Reason explains a skip.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonAlreadyProcessed Reason = "already-processed"
	ReasonAlreadyExists    Reason = "already-exists"
	ReasonAwaitingApproval Reason = "awaiting-approval"
	ReasonNoData           Reason = "no-data"
	ReasonNotApplicable    Reason = "not-applicable"
	ReasonOverLimit        Reason = "over-limit"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Action  Action
	Reason  Reason
	Warning string
}

// Skip reports whether the unit of work should not run.
func (d Decision) Skip() bool { return d.Action == ActionSkip }

// Gate decides from stored state whether an expensive operation must run.
// It holds no state of its own, so decisions survive restarts.
type Gate struct {
	store store.Store
}

// NewGate creates a Gate over st.
func NewGate(st store.Store) *Gate {
	return &Gate{store: st}
}

// ShouldProcessTranscript skips a transcript whose (application, file name)
// is already processed.
func (g *Gate) ShouldProcessTranscript(ctx context.Context, appID, fileName string) (Decision, error) {
	t, err := g.store.GetTranscript(ctx, appID, fileName)
	if err != nil {
		return Decision{}, storeErr("gate transcript", err)
	}
	if t != nil && t.Processed {
		zap.L().Debug("gate: transcript already processed",
			zap.String("application_id", appID),
			zap.String("file", fileName),
		)
		return Decision{Action: ActionSkip, Reason: ReasonAlreadyProcessed}, nil
	}
	return Decision{Action: ActionProceed}, nil
}

// ShouldGenerateScores skips with a warning when unapproved suggestions
// exist and force is off. With force they are retired before regeneration.
func (g *Gate) ShouldGenerateScores(ctx context.Context, appID string, force bool) (Decision, error) {
	pending, err := g.store.HasUnapprovedScores(ctx, appID)
	if err != nil {
		return Decision{}, storeErr("gate scores", err)
	}
	switch {
	case !pending:
		return Decision{Action: ActionProceed}, nil
	case force:
		return Decision{Action: ActionProceedAfterRetire}, nil
	default:
		return Decision{
			Action:  ActionSkip,
			Reason:  ReasonAwaitingApproval,
			Warning: "unapproved scores already exist; approve them or regenerate with force",
		}, nil
	}
}

// ShouldInsertAnswer skips an answer whose natural key is already stored.
// It must be applied to every answer, since a batch can mix new and
// duplicate items.
func (g *Gate) ShouldInsertAnswer(ctx context.Context, a model.Answer) (Decision, error) {
	exists, err := g.store.AnswerExists(ctx, a.Key())
	if err != nil {
		return Decision{}, storeErr("gate answer", err)
	}
	if exists {
		return Decision{Action: ActionSkip, Reason: ReasonAlreadyExists}, nil
	}
	return Decision{Action: ActionInsert}, nil
}
