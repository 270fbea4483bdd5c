package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/ingest"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/pipeline"
	"github.com/sells-group/apm-cli/internal/registry"
	"github.com/sells-group/apm-cli/internal/resilience"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load questionnaires and transcripts",
}

var ingestQuestionnaireCmd = &cobra.Command{
	Use:   "questionnaire <file>...",
	Short: "Ingest questionnaire workbooks (.xlsx) or CSV exports",
	Long: `Reads questionnaire answers and stores them per application. Workbooks
hold one sheet per application; CSV files need an application column.
Answers that already exist are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		var results []*pipeline.OpResult
		for _, path := range args {
			qs, err := readQuestionnaires(ctx, path, env.Catalog)
			if err != nil {
				return err
			}
			for _, q := range qs {
				if len(q.Unmatched) > 0 {
					zap.L().Warn("ingest: questions not in catalog",
						zap.String("file", filepath.Base(path)),
						zap.String("application", q.Application),
						zap.Strings("questions", q.Unmatched),
					)
				}
				res, err := env.Pipeline.IngestAnswers(ctx, q.Application, q.Answers)
				if err != nil {
					if res, err = batchItemFailure(ctx, pipeline.OpIngestAnswers, q.Application, err); err != nil {
						return eris.Wrapf(err, "ingest %s", q.Application)
					}
				}
				results = append(results, res)
			}
		}
		return printResults(cmd.OutOrStdout(), results)
	},
}

var transcriptApp string

var ingestTranscriptsCmd = &cobra.Command{
	Use:   "transcripts <file-or-dir>...",
	Short: "Extract answers from interview transcripts",
	Long: `Stores each transcript and extracts answers with Claude. The application
is resolved from the file name against known applications unless --app is
given. Transcripts that were already processed are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "inference")
		if err != nil {
			return err
		}
		defer env.Close()

		paths, err := transcriptPaths(args)
		if err != nil {
			return err
		}
		apps, err := env.Store.ListApplications(ctx)
		if err != nil {
			return eris.Wrap(err, "list applications")
		}

		results, err := processTranscriptFiles(ctx, env.Pipeline, paths, transcriptApp, apps)
		if err != nil {
			return err
		}
		return printResults(cmd.OutOrStdout(), results)
	},
}

var ingestPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Retry extraction for stored transcripts that are still unprocessed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "inference")
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Pipeline.ProcessPendingTranscripts(ctx)
		if err != nil {
			return err
		}
		return printResults(cmd.OutOrStdout(), results)
	},
}

func init() {
	ingestTranscriptsCmd.Flags().StringVar(&transcriptApp, "app", "", "application name for every transcript (default: from file name)")
	ingestCmd.AddCommand(ingestQuestionnaireCmd, ingestTranscriptsCmd, ingestPendingCmd)
	rootCmd.AddCommand(ingestCmd)
}

func readQuestionnaires(ctx context.Context, path string, cat *registry.Catalog) ([]ingest.Questionnaire, error) {
	opts := ingest.QuestionnaireOptions{MatchThreshold: cfg.Assessment.QuestionMatchThreshold}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ingest.ReadQuestionnaireXLSX(path, cat, opts)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "open questionnaire")
		}
		defer f.Close() //nolint:errcheck
		return ingest.ReadQuestionnaireCSV(ctx, f, cat, opts)
	default:
		return nil, eris.Errorf("unsupported questionnaire format: %s", filepath.Base(path))
	}
}

// transcriptPaths expands directories to the files directly inside them.
func transcriptPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, eris.Wrap(err, "stat transcript path")
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, eris.Wrap(err, "read transcript dir")
		}
		var files []string
		for _, e := range entries {
			if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(files)
		out = append(out, files...)
	}
	return out, nil
}

// resolveAppName picks the application a transcript belongs to: the
// explicit override, then the best match among known applications, then
// the name derived from the file.
func resolveAppName(doc *ingest.TranscriptDoc, override string, apps []model.Application) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}
	if app, kind := ingest.MatchApplication(doc.Application, apps); app != nil {
		zap.L().Debug("ingest: transcript matched application",
			zap.String("file", doc.FileName),
			zap.String("application", app.Name),
			zap.String("match", string(kind)),
		)
		return app.Name
	}
	return doc.Application
}

type transcriptProcessor interface {
	ProcessTranscript(ctx context.Context, appName, fileName, text string) (*pipeline.OpResult, error)
}

// processTranscriptFiles runs extraction for each file in order. Unreadable
// files are skipped and item-level failures are reported as failed results;
// only store failures and cancellation stop the run.
func processTranscriptFiles(ctx context.Context, p transcriptProcessor, paths []string, override string, apps []model.Application) ([]*pipeline.OpResult, error) {
	var results []*pipeline.OpResult
	for _, path := range paths {
		doc, err := ingest.ReadTranscriptFile(path)
		if err != nil {
			zap.L().Warn("ingest: skipping transcript", zap.String("file", path), zap.Error(err))
			continue
		}
		name := resolveAppName(doc, override, apps)
		res, err := p.ProcessTranscript(ctx, name, doc.FileName, doc.Text)
		if err != nil {
			if res, err = batchItemFailure(ctx, pipeline.OpProcessTranscript, name, err); err != nil {
				return results, eris.Wrapf(err, "transcript %s", doc.FileName)
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// batchItemFailure converts an error for one batch item into a failed
// result so the remaining items still run. Store failures and cancellation
// are returned unchanged and end the batch.
func batchItemFailure(ctx context.Context, op, app string, err error) (*pipeline.OpResult, error) {
	if ctx.Err() != nil {
		return nil, err
	}
	switch resilience.KindOf(err) {
	case resilience.KindStore, resilience.KindCanceled:
		return nil, err
	}
	zap.L().Warn("ingest: item failed", zap.String("operation", op), zap.String("application", app), zap.Error(err))
	return pipeline.Failed(op, app, err), nil
}
