package model

// AppState is the assessment lifecycle stage of an application, always
// derived from stored data.
type AppState string

const (
	StateNoData                AppState = "no-data"
	StateQuestionnaireIngested AppState = "questionnaire-ingested"
	StateTranscriptsProcessing AppState = "transcripts-processing"
	StateScoresSuggested       AppState = "scores-suggested"
	StateScoresApprovedPartial AppState = "scores-approved-partial"
	StateScoresApprovedFull    AppState = "scores-approved-full"
	StateInsightsGenerated     AppState = "insights-generated"
)
