package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/pipeline"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Suggest and approve block scores",
}

var (
	suggestAll   bool
	suggestForce bool
)

var scoreSuggestCmd = &cobra.Command{
	Use:   "suggest [application]",
	Short: "Suggest a score for every block from the stored answers",
	Long: `Suggests one score per assessment block. Blocks with scored answers are
averaged; blocks with only narrative evidence are scored by Claude. Pending
suggestions must be approved before new ones are generated unless --force
is given; approved scores are never replaced.

Examples:
  # Suggest scores for one application
  score suggest "Billing Core"

  # Regenerate pending suggestions for every application
  score suggest --all --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if suggestAll == (len(args) == 1) {
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
		if suggestAll {
			results, err = env.Pipeline.SuggestAllScores(ctx, suggestForce)
		} else {
			var res *pipeline.OpResult
			res, err = env.Pipeline.SuggestScores(ctx, args[0], suggestForce)
			results = []*pipeline.OpResult{res}
		}
		if err != nil {
			return err
		}
		return printResults(cmd.OutOrStdout(), results)
	},
}

var (
	approveBy       string
	approveOverride int
)

var scoreApproveCmd = &cobra.Command{
	Use:   "approve <score-id>",
	Short: "Approve a suggested score, optionally overriding its value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		var override *int
		if cmd.Flags().Changed("override") {
			override = &approveOverride
		}

		s, err := env.Pipeline.ApproveScore(ctx, args[0], approveBy, override)
		if err != nil {
			return err
		}
		return printScores(cmd, []model.SynergyScore{*s})
	},
}

func init() {
	scoreSuggestCmd.Flags().BoolVar(&suggestAll, "all", false, "suggest scores for every application")
	scoreSuggestCmd.Flags().BoolVar(&suggestForce, "force", false, "replace pending suggestions")

	scoreApproveCmd.Flags().StringVar(&approveBy, "by", "", "approver name (required)")
	scoreApproveCmd.Flags().IntVar(&approveOverride, "override", 0, "manual score (1-5) replacing the suggestion")
	_ = scoreApproveCmd.MarkFlagRequired("by")

	scoreCmd.AddCommand(scoreSuggestCmd, scoreApproveCmd)
	rootCmd.AddCommand(scoreCmd)
}

func printScores(cmd *cobra.Command, scores []model.SynergyScore) error {
	w := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(w, scores)
	}
	rows := make([][]string, 0, len(scores))
	for _, s := range scores {
		approved := "pending"
		if s.Approved {
			approved = "approved by " + s.ApprovedBy
		}
		rows = append(rows, []string{
			s.ID,
			string(s.Block),
			fmt.Sprintf("%d", s.Score),
			string(s.SuggestedBy),
			fmt.Sprintf("%.2f", s.Confidence),
			approved,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "Block", "Score", "Source", "Confidence", "Approval"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	))
	return nil
}
