// Package ingest turns questionnaire workbooks and transcript files into
// candidate answers for the pipeline.
package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/registry"
)

// ExtractionMethod values recorded on questionnaire answers.
const (
	MethodXLSX = "xlsx"
	MethodCSV  = "csv"
)

// skipSheets are workbook tabs that never describe an application.
var skipSheets = map[string]bool{
	"index": true, "introduction": true, "methodology": true, "user guide": true,
	"calculator": true, "dashboard": true, "strategic roadmap": true,
	"application groups": true, "value chain": true, "sheet1": true,
	"meetings": true, "opcos": true, "to delete": true, "questions template": true,
}

// headerScanRows bounds the search for the header row.
const headerScanRows = 10

// Questionnaire is the parsed answer set for one application.
type Questionnaire struct {
	Application string
	Answers     []model.Answer
	// Unmatched holds question texts that matched no catalog entry.
	Unmatched []string
}

// QuestionnaireOptions configures questionnaire parsing.
type QuestionnaireOptions struct {
	// MatchThreshold is the minimum question similarity; default
	// DefaultMatchThreshold.
	MatchThreshold float64
}

// DefaultMatchThreshold is the question similarity required when none is
// configured.
const DefaultMatchThreshold = 0.75

func (o QuestionnaireOptions) threshold() float64 {
	if o.MatchThreshold <= 0 {
		return DefaultMatchThreshold
	}
	return o.MatchThreshold
}

type columns struct {
	question, answer, score int
}

// findColumns locates the question, answer and score columns in a header
// row. ok is false when question or answer is missing.
func findColumns(cells []string) (columns, bool) {
	cols := columns{question: -1, answer: -1, score: -1}
	for i, c := range cells {
		v := strings.ToLower(c)
		switch {
		case strings.Contains(v, "question") && cols.question < 0:
			cols.question = i
		case (strings.Contains(v, "answer") || strings.Contains(v, "response")) && cols.answer < 0:
			cols.answer = i
		case strings.Contains(v, "score") && cols.score < 0:
			cols.score = i
		}
	}
	return cols, cols.question >= 0 && cols.answer >= 0
}

// parseScore reads a score cell. Blank and non-numeric cells yield nil;
// numbers are kept as-is (range is validated downstream).
func parseScore(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	v := int(math.Round(f))
	return &v
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// answersFromRows converts data rows to answers. The last answer for a
// question wins within a sheet.
func answersFromRows(rows [][]string, cols columns, cat *registry.Catalog, threshold float64, method string) ([]model.Answer, []string) {
	var answers []model.Answer
	var unmatched []string
	index := make(map[string]int)

	for _, row := range rows {
		qText := cell(row, cols.question)
		if qText == "" {
			continue
		}
		q, _, ok := cat.Match(qText, threshold)
		if !ok {
			unmatched = append(unmatched, qText)
			continue
		}

		a := model.Answer{
			Source:           model.SourceQuestionnaire,
			QuestionID:       q.ID,
			Block:            q.Block,
			AnswerText:       cell(row, cols.answer),
			Score:            parseScore(cell(row, cols.score)),
			Confidence:       1.0,
			ExtractionMethod: method,
		}
		if a.AnswerText == "" && a.Score == nil {
			continue
		}
		if i, seen := index[q.ID]; seen {
			answers[i] = a
			continue
		}
		index[q.ID] = len(answers)
		answers = append(answers, a)
	}
	return answers, unmatched
}

// ReadQuestionnaireXLSX parses a workbook with one sheet per application.
// Sheets without a recognisable header or without any matched answer are
// skipped.
func ReadQuestionnaireXLSX(path string, cat *registry.Catalog, opts QuestionnaireOptions) ([]Questionnaire, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open workbook")
	}

	var out []Questionnaire
	for _, sheet := range f.Sheets {
		name := strings.TrimSpace(sheet.Name)
		if skipSheets[strings.ToLower(name)] {
			continue
		}

		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			rows = append(rows, rowToStrings(row))
		}

		header := -1
		var cols columns
		for i := 0; i < len(rows) && i < headerScanRows; i++ {
			if c, ok := findColumns(rows[i]); ok {
				header, cols = i, c
				break
			}
		}
		if header < 0 {
			zap.L().Debug("ingest: sheet has no question/answer header", zap.String("sheet", name))
			continue
		}

		answers, unmatched := answersFromRows(rows[header+1:], cols, cat, opts.threshold(), MethodXLSX)
		if len(answers) == 0 {
			continue
		}
		out = append(out, Questionnaire{Application: name, Answers: answers, Unmatched: unmatched})
	}
	return out, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, c := range row.Cells {
		cells[j] = c.String()
	}
	return cells
}

// ReadQuestionnaireCSV parses a flat export with columns application,
// question, answer and optionally score. Rows are grouped by application in
// first-seen order.
func ReadQuestionnaireCSV(ctx context.Context, r io.Reader, cat *registry.Catalog, opts QuestionnaireOptions) ([]Questionnaire, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv header")
	}
	cols, ok := findColumns(header)
	appCol := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "application") {
			appCol = i
		}
	}
	if !ok || appCol < 0 {
		return nil, eris.New("ingest: csv needs application, question and answer columns")
	}

	grouped := make(map[string][][]string)
	var order []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "ingest: csv cancelled")
		}
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read csv row")
		}
		app := cell(rec, appCol)
		if app == "" {
			continue
		}
		if _, seen := grouped[app]; !seen {
			order = append(order, app)
		}
		grouped[app] = append(grouped[app], rec)
	}

	var out []Questionnaire
	for _, app := range order {
		answers, unmatched := answersFromRows(grouped[app], cols, cat, opts.threshold(), MethodCSV)
		if len(answers) == 0 {
			continue
		}
		out = append(out, Questionnaire{Application: app, Answers: answers, Unmatched: unmatched})
	}
	return out, nil
}
