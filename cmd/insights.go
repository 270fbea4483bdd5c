package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/apm-cli/internal/pipeline"
)

var insightsAll bool

var insightsCmd = &cobra.Command{
	Use:   "insights [application]",
	Short: "Generate insights for an application",
	Long: `Generates the six insight facets (capability, user satisfaction, technical
debt, integration opportunity, market alternative and strategic
recommendation) and replaces the application's previous insights. A facet
that fails is stored as a low-confidence placeholder; nothing is replaced
when every facet fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if insightsAll == (len(args) == 1) {
			return eris.New("give an application name or --all")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "inference")
		if err != nil {
			return err
		}
		defer env.Close()

		var results []*pipeline.OpResult
		if insightsAll {
			results, err = env.Pipeline.GenerateAllInsights(ctx)
		} else {
			var res *pipeline.OpResult
			res, err = env.Pipeline.GenerateInsights(ctx, args[0])
			results = []*pipeline.OpResult{res}
		}
		if err != nil {
			return err
		}
		return printResults(cmd.OutOrStdout(), results)
	},
}

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Generate cross-application portfolio insights",
	Long: `Reviews every application that has insights and generates findings that
span two or more of them. The previous portfolio insights are replaced
only when at least one valid finding is produced.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "inference")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.GeneratePortfolioInsights(ctx)
		if err != nil {
			return err
		}
		return printResults(cmd.OutOrStdout(), []*pipeline.OpResult{res})
	},
}

var portfolioShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored portfolio insights",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		insights, err := env.Store.ListPortfolioInsights(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			return writeJSON(w, insights)
		}
		rows := make([][]string, 0, len(insights))
		for _, in := range insights {
			rows = append(rows, []string{
				string(in.Priority),
				string(in.Type),
				oneLine(in.Title),
				strings.Join(in.AffectedApps, ", "),
				oneLine(in.RecommendedAction),
			})
		}
		fmt.Fprintln(w, renderTable([]string{"Priority", "Type", "Title", "Applications", "Action"}, rows, nil))
		return nil
	},
}

func init() {
	insightsCmd.Flags().BoolVar(&insightsAll, "all", false, "generate insights for every application")
	portfolioCmd.AddCommand(portfolioShowCmd)
	rootCmd.AddCommand(insightsCmd, portfolioCmd)
}
