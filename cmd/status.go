package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status [application]",
	Short: "Show assessment progress",
	Long: `Without an argument, lists every application with its lifecycle state and
indices. With an application name, also lists its block scores (with the
IDs needed by "score approve") and its insights.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		w := cmd.OutOrStdout()
		if len(args) == 0 {
			all, err := env.Pipeline.Status(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(w, all)
			}
			fmt.Fprintln(w, renderStatus(all))
			return nil
		}

		st, err := env.Pipeline.AppStatus(ctx, args[0])
		if err != nil {
			return err
		}
		scores, err := env.Store.ListScores(ctx, st.Application.ID)
		if err != nil {
			return err
		}
		insights, err := env.Store.ListInsights(ctx, st.Application.ID)
		if err != nil {
			return err
		}

		if outputJSON {
			return writeJSON(w, struct {
				Status   *pipeline.AppStatus  `json:"status"`
				Scores   []model.SynergyScore `json:"scores"`
				Insights []model.Insight      `json:"insights"`
			}{st, scores, insights})
		}
		fmt.Fprintln(w, renderStatus([]pipeline.AppStatus{*st}))
		if len(scores) > 0 {
			if err := printScores(cmd, scores); err != nil {
				return err
			}
		}
		if len(insights) > 0 {
			printInsights(w, insights)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func renderStatus(all []pipeline.AppStatus) string {
	rows := make([][]string, 0, len(all))
	for _, st := range all {
		value, health, label := "", "", ""
		if a := st.Assessment; a != nil {
			value = fmt.Sprintf("%.1f", a.ValueIndex)
			health = fmt.Sprintf("%.1f", a.HealthIndex)
			label = string(a.Label)
			if a.Subcategory != "" {
				label += " (" + a.Subcategory + ")"
			}
		}
		rows = append(rows, []string{
			st.Application.Name,
			string(st.State),
			fmt.Sprintf("%d", st.Answers),
			fmt.Sprintf("%d/%d", st.Transcripts-st.PendingTranscripts, st.Transcripts),
			fmt.Sprintf("%d/%d", st.ApprovedBlocks, len(model.AllBlocks)),
			value,
			health,
			label,
		})
	}
	return renderTable(
		[]string{"Application", "State", "Answers", "Transcripts", "Approved", "Value", "Health", "Quadrant"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func printInsights(w io.Writer, insights []model.Insight) {
	rows := make([][]string, 0, len(insights))
	for _, in := range insights {
		flags := ""
		switch {
		case in.NotApplicable:
			flags = "n/a"
		case in.Unsupported:
			flags = "unsupported"
		}
		rows = append(rows, []string{
			string(in.Facet),
			string(in.Priority),
			string(in.Confidence),
			oneLine(in.Title),
			strings.Join(in.AffectedApps, ", "),
			flags,
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Facet", "Priority", "Confidence", "Title", "Related", "Flags"}, rows, nil))
}
