package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsageAdd(t *testing.T) {
	t.Parallel()

	t.Run("adds all fields", func(t *testing.T) {
		t.Parallel()
		a := TokenUsage{InputTokens: 100, OutputTokens: 50, CacheCreationTokens: 10, CacheReadTokens: 20, Cost: 0.01}
		b := TokenUsage{InputTokens: 200, OutputTokens: 100, CacheCreationTokens: 5, CacheReadTokens: 30, Cost: 0.02}
		a.Add(b)
		assert.Equal(t, 300, a.InputTokens)
		assert.Equal(t, 150, a.OutputTokens)
		assert.Equal(t, 15, a.CacheCreationTokens)
		assert.Equal(t, 50, a.CacheReadTokens)
		assert.InDelta(t, 0.03, a.Cost, 0.0001)
	})

	t.Run("add zero is no-op", func(t *testing.T) {
		t.Parallel()
		a := TokenUsage{InputTokens: 100, Cost: 0.01}
		a.Add(TokenUsage{})
		assert.Equal(t, 100, a.InputTokens)
		assert.InDelta(t, 0.01, a.Cost, 0.0001)
	})
}

func TestBlockGroup(t *testing.T) {
	t.Parallel()

	assert.Len(t, AllBlocks, 8)
	assert.Equal(t, []Block{BlockStrategicFit, BlockBusinessEfficiency, BlockUserValue, BlockFinancialValue}, BlocksIn(GroupValue))
	assert.Equal(t, []Block{BlockArchitecture, BlockOperationalRisk, BlockMaintainability, BlockSupportQuality}, BlocksIn(GroupHealth))
	assert.False(t, Block("Vibes").Valid())
}

func TestParseBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Block
		ok   bool
	}{
		{"Strategic Fit", BlockStrategicFit, true},
		{"strategic_fit", BlockStrategicFit, true},
		{"  operational-risk ", BlockOperationalRisk, true},
		{"SUPPORT QUALITY", BlockSupportQuality, true},
		{"nope", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseBlock(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestAnswerKey(t *testing.T) {
	t.Parallel()

	q := Answer{ApplicationID: "a", Source: SourceQuestionnaire, TranscriptID: "stray", QuestionID: "SF-01"}
	assert.Equal(t, AnswerKey{ApplicationID: "a", QuestionID: "SF-01"}, q.Key())

	tr := Answer{ApplicationID: "a", Source: SourceTranscript, TranscriptID: "t1", QuestionID: "SF-01"}
	assert.Equal(t, AnswerKey{ApplicationID: "a", TranscriptID: "t1", QuestionID: "SF-01"}, tr.Key())
}
