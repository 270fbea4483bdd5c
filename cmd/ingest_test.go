package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apm-cli/internal/ingest"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/pipeline"
	"github.com/sells-group/apm-cli/internal/registry"
	"github.com/sells-group/apm-cli/internal/resilience"
)

func TestTranscriptPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.md", ".hidden.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))
	single := filepath.Join(t.TempDir(), "single.txt")
	require.NoError(t, os.WriteFile(single, []byte("x"), 0o600))

	paths, err := transcriptPaths([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.md"),
		filepath.Join(dir, "b.txt"),
		single,
	}, paths)

	_, err = transcriptPaths([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestResolveAppName(t *testing.T) {
	apps := []model.Application{
		{ID: "1", Name: "Billing Core"},
		{ID: "2", Name: "Customer Portal"},
	}

	tests := []struct {
		name     string
		doc      ingest.TranscriptDoc
		override string
		want     string
	}{
		{"override wins", ingest.TranscriptDoc{Application: "Billing Core"}, "Customer Portal", "Customer Portal"},
		{"known application", ingest.TranscriptDoc{Application: "billing core"}, "", "Billing Core"},
		{"new application", ingest.TranscriptDoc{Application: "Fleet Tracker"}, " ", "Fleet Tracker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := tt.doc
			assert.Equal(t, tt.want, resolveAppName(&doc, tt.override, apps))
		})
	}
}

func TestReadQuestionnaires_CSV(t *testing.T) {
	cfg = testCLIConfig(t)
	cat := registry.Default()
	q := cat.Questions()[0]

	path := filepath.Join(t.TempDir(), "answers.csv")
	content := "application,question,answer,score\n" +
		"Billing Core,\"" + q.Text + "\",Core to billing,4\n" +
		"Billing Core,Something we never ask,whatever,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	qs, err := readQuestionnaires(context.Background(), path, cat)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "Billing Core", qs[0].Application)
	require.Len(t, qs[0].Answers, 1)
	assert.Equal(t, q.ID, qs[0].Answers[0].QuestionID)
	assert.Equal(t, []string{"Something we never ask"}, qs[0].Unmatched)
}

func TestReadQuestionnaires_UnsupportedFormat(t *testing.T) {
	cfg = testCLIConfig(t)

	_, err := readQuestionnaires(context.Background(), "answers.pdf", registry.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported questionnaire format")
}

type fakeTranscripts struct {
	errs  map[string]error
	calls []string
}

func (f *fakeTranscripts) ProcessTranscript(_ context.Context, appName, fileName, _ string) (*pipeline.OpResult, error) {
	f.calls = append(f.calls, fileName)
	if err, ok := f.errs[fileName]; ok {
		return nil, err
	}
	return &pipeline.OpResult{Operation: pipeline.OpProcessTranscript, Application: appName, Status: pipeline.StatusProcessed}, nil
}

func writeTranscripts(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(paths[i], []byte("Interviewer: how is it going?"), 0o600))
	}
	return paths
}

func TestProcessTranscriptFiles_ItemFailureContinues(t *testing.T) {
	paths := writeTranscripts(t, " - notes.txt", "Billing Core - notes.txt")
	fake := &fakeTranscripts{errs: map[string]error{
		" - notes.txt": model.Invalid("name", "application name is empty"),
	}}

	results, err := processTranscriptFiles(context.Background(), fake, paths, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{" - notes.txt", "Billing Core - notes.txt"}, fake.calls)
	require.Len(t, results, 2)

	assert.Equal(t, pipeline.StatusFailed, results[0].Status)
	assert.Equal(t, resilience.KindValidation, results[0].Kind)
	assert.Equal(t, pipeline.OpProcessTranscript, results[0].Operation)
	assert.Equal(t, pipeline.StatusProcessed, results[1].Status)
	assert.Equal(t, "Billing Core", results[1].Application)
}

func TestProcessTranscriptFiles_StoreFailureStops(t *testing.T) {
	paths := writeTranscripts(t, "Billing Core - a.txt", "Billing Core - b.txt")
	fake := &fakeTranscripts{errs: map[string]error{
		"Billing Core - a.txt": &model.StoreError{Op: "save transcript", Err: errors.New("disk full")},
	}}

	_, err := processTranscriptFiles(context.Background(), fake, paths, "", nil)
	require.Error(t, err)
	assert.Equal(t, resilience.KindStore, resilience.KindOf(err))
	assert.Equal(t, []string{"Billing Core - a.txt"}, fake.calls)
}

func TestProcessTranscriptFiles_CanceledStops(t *testing.T) {
	paths := writeTranscripts(t, "Billing Core - a.txt", "Billing Core - b.txt")
	fake := &fakeTranscripts{errs: map[string]error{
		"Billing Core - a.txt": context.Canceled,
	}}

	_, err := processTranscriptFiles(context.Background(), fake, paths, "", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, fake.calls, 1)
}

func TestBatchItemFailure(t *testing.T) {
	ctx := context.Background()

	res, err := batchItemFailure(ctx, pipeline.OpIngestAnswers, "Billing Core", errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusFailed, res.Status)
	assert.Equal(t, resilience.KindInternal, res.Kind)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = batchItemFailure(canceled, pipeline.OpIngestAnswers, "Billing Core", model.Invalid("score", "bad"))
	assert.Error(t, err)
}
