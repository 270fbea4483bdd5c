package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/registry"
)

type testSheet struct {
	name string
	rows [][]string
}

func createWorkbook(t *testing.T, sheets ...testSheet) string {
	t.Helper()
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		require.NoError(t, err)
		for _, rowData := range s.rows {
			row := sheet.AddRow()
			for _, v := range rowData {
				row.AddCell().SetString(v)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "questionnaire.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadQuestionnaireXLSX(t *testing.T) {
	path := createWorkbook(t,
		testSheet{"Index", [][]string{{"Question", "Answer"}, {"What is the name of the application?", "ignored"}}},
		testSheet{"Billing-Core", [][]string{
			{"Billing-Core assessment"},
			{},
			{"#", "Question", "Answer", "Score"},
			{"1", "Which systems does the application integrate with?", "SAP, GIS", "4"},
			{"2", "What is the overall level of user satisfaction", "Mixed", ""},
			{"3", "How tall is the server room?", "3m", "2"},
			{"4", "Is vendor or technology support still available and active?", "", ""},
			{"5", "Is the cost reasonable compared to the business value delivered?", "", "3.0"},
		}},
		testSheet{"Notes", [][]string{{"free text"}, {"no header here"}}},
	)

	got, err := ReadQuestionnaireXLSX(path, registry.Default(), QuestionnaireOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	q := got[0]
	assert.Equal(t, "Billing-Core", q.Application)
	assert.Equal(t, []string{"How tall is the server room?"}, q.Unmatched)
	require.Len(t, q.Answers, 3)

	arch := q.Answers[0]
	assert.Equal(t, "AR-07", arch.QuestionID)
	assert.Equal(t, model.BlockArchitecture, arch.Block)
	assert.Equal(t, model.SourceQuestionnaire, arch.Source)
	require.NotNil(t, arch.Score)
	assert.Equal(t, 4, *arch.Score)
	assert.InDelta(t, 1.0, arch.Confidence, 1e-9)
	assert.Equal(t, MethodXLSX, arch.ExtractionMethod)

	assert.Equal(t, "UV-05", q.Answers[1].QuestionID)
	assert.Nil(t, q.Answers[1].Score)

	assert.Equal(t, "FV-04", q.Answers[2].QuestionID)
	require.NotNil(t, q.Answers[2].Score)
	assert.Equal(t, 3, *q.Answers[2].Score)
}

func TestReadQuestionnaireXLSX_MissingFile(t *testing.T) {
	_, err := ReadQuestionnaireXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), registry.Default(), QuestionnaireOptions{})
	assert.Error(t, err)
}

func TestReadQuestionnaireCSV(t *testing.T) {
	data := strings.Join([]string{
		"Application,Question,Answer,Score",
		"GIS Portal,What is the primary business purpose of the application?,Maps,",
		"Billing-Core,Which systems does the application integrate with?,SAP,2",
		"GIS Portal,What is the primary business purpose of the application?,Asset maps,5",
		",What is the primary business purpose of the application?,orphan,",
	}, "\n")

	got, err := ReadQuestionnaireCSV(context.Background(), strings.NewReader(data), registry.Default(), QuestionnaireOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "GIS Portal", got[0].Application)
	require.Len(t, got[0].Answers, 1)
	assert.Equal(t, "Asset maps", got[0].Answers[0].AnswerText, "later row for the same question wins")
	assert.Equal(t, MethodCSV, got[0].Answers[0].ExtractionMethod)

	assert.Equal(t, "Billing-Core", got[1].Application)
}

func TestReadQuestionnaireCSV_BadHeader(t *testing.T) {
	_, err := ReadQuestionnaireCSV(context.Background(), strings.NewReader("Question,Answer\nx,y\n"), registry.Default(), QuestionnaireOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "application, question and answer")
}

func TestParseScore(t *testing.T) {
	t.Parallel()
	assert.Nil(t, parseScore(""))
	assert.Nil(t, parseScore("n/a"))
	require.NotNil(t, parseScore(" 4 "))
	assert.Equal(t, 4, *parseScore(" 4 "))
	assert.Equal(t, 7, *parseScore("7"), "out-of-range values are kept for downstream validation")
}
