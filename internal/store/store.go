package store

import (
	"context"

	"github.com/sells-group/apm-cli/internal/model"
)

// Store defines the persistence interface for the assessment pipeline.
// Every multi-row write is atomic: it either lands completely or not at all.
type Store interface {
	// Applications
	FindOrCreateApplication(ctx context.Context, name string, commercial bool) (*model.Application, bool, error)
	GetApplication(ctx context.Context, id string) (*model.Application, error)
	GetApplicationByName(ctx context.Context, name string) (*model.Application, error)
	ListApplications(ctx context.Context) ([]model.Application, error)

	// Answers
	AnswerExists(ctx context.Context, key model.AnswerKey) (bool, error)
	InsertAnswers(ctx context.Context, answers []model.Answer) (int, error)
	ListAnswers(ctx context.Context, appID string) ([]model.Answer, error)

	// Transcripts
	GetTranscript(ctx context.Context, appID, fileName string) (*model.Transcript, error)
	SaveTranscript(ctx context.Context, t *model.Transcript) error
	ListTranscripts(ctx context.Context, appID string) ([]model.Transcript, error)
	ListPendingTranscripts(ctx context.Context) ([]model.Transcript, error)
	CompleteTranscript(ctx context.Context, transcriptID string, answers []model.Answer) (int, error)

	// Scores
	HasUnapprovedScores(ctx context.Context, appID string) (bool, error)
	ListScores(ctx context.Context, appID string) ([]model.SynergyScore, error)
	ReplaceUnapprovedScores(ctx context.Context, appID string, scores []model.SynergyScore) error
	ApproveScore(ctx context.Context, scoreID, approver string, override *int) (*model.SynergyScore, error)

	// Insights
	ReplaceInsights(ctx context.Context, appID string, insights []model.Insight) error
	ListInsights(ctx context.Context, appID string) ([]model.Insight, error)
	ReplacePortfolioInsights(ctx context.Context, insights []model.PortfolioInsight) error
	ListPortfolioInsights(ctx context.Context) ([]model.PortfolioInsight, error)

	// Weights
	GetBlockWeights(ctx context.Context) ([]model.BlockWeight, error)
	SetBlockWeights(ctx context.Context, weights []model.BlockWeight) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
