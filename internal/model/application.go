package model

import "time"

// Application is an assessed software application. Created on first
// reference during ingestion and never deleted automatically.
type Application struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Commercial bool      `json:"commercial"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AnswerSource identifies where an answer came from.
type AnswerSource string

const (
	SourceQuestionnaire AnswerSource = "questionnaire"
	SourceTranscript    AnswerSource = "transcript"
)

// Answer is a candidate response to a catalog question.
type Answer struct {
	ID               string       `json:"id"`
	ApplicationID    string       `json:"application_id"`
	Source           AnswerSource `json:"source"`
	TranscriptID     string       `json:"transcript_id,omitempty"`
	QuestionID       string       `json:"question_id"`
	Block            Block        `json:"block"`
	AnswerText       string       `json:"answer_text"`
	Score            *int         `json:"score,omitempty"`
	Confidence       float64      `json:"confidence"`
	ExtractionMethod string       `json:"extraction_method,omitempty"`
	SourceExcerpt    string       `json:"source_excerpt,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// AnswerKey is the natural key of an answer. TranscriptID is empty for
// questionnaire answers.
type AnswerKey struct {
	ApplicationID string
	TranscriptID  string
	QuestionID    string
}

// Key returns the natural key of the answer.
func (a Answer) Key() AnswerKey {
	k := AnswerKey{ApplicationID: a.ApplicationID, QuestionID: a.QuestionID}
	if a.Source == SourceTranscript {
		k.TranscriptID = a.TranscriptID
	}
	return k
}

// Transcript is a meeting transcript attached to an application. Once
// Processed is set the pipeline never touches it again.
type Transcript struct {
	ID            string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	FileName      string     `json:"file_name"`
	Text          string     `json:"-"`
	Processed     bool       `json:"processed"`
	UploadedAt    time.Time  `json:"uploaded_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// ScoreSource records who proposed a synergy score.
type ScoreSource string

const (
	ScoreManual          ScoreSource = "manual"
	ScoreAIQuestionnaire ScoreSource = "ai_questionnaire"
	ScoreAITranscript    ScoreSource = "ai_transcript"
)

// SynergyScore is a per-block score awaiting or holding approval.
type SynergyScore struct {
	ID            string      `json:"id"`
	ApplicationID string      `json:"application_id"`
	Block         Block       `json:"block"`
	Score         int         `json:"score"`
	SuggestedBy   ScoreSource `json:"suggested_by"`
	Confidence    float64     `json:"confidence"`
	Rationale     string      `json:"rationale"`
	Approved      bool        `json:"approved"`
	ApprovedBy    string      `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time  `json:"approved_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// BlockWeight is a persisted custom weight for one block.
type BlockWeight struct {
	Block  Block   `json:"block"`
	Weight float64 `json:"weight"`
}
