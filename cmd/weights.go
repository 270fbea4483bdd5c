package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/apm-cli/internal/model"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Show the effective block weights",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		weights, err := env.Pipeline.BlockWeights(ctx)
		if err != nil {
			return err
		}
		return printWeights(cmd, weights)
	},
}

var weightsSetCmd = &cobra.Command{
	Use:   "set <block=weight>...",
	Short: "Persist custom block weights",
	Long: `Stores custom weights that override the configured ones, e.g.

  weights set architecture=40 "support quality=5"

Block names are matched case-insensitively; underscores stand for spaces.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		weights, err := parseWeights(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initPipeline(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.SetBlockWeights(ctx, weights); err != nil {
			return err
		}
		effective, err := env.Pipeline.BlockWeights(ctx)
		if err != nil {
			return err
		}
		return printWeights(cmd, effective)
	},
}

func init() {
	weightsCmd.AddCommand(weightsSetCmd)
	rootCmd.AddCommand(weightsCmd)
}

func parseWeights(args []string) ([]model.BlockWeight, error) {
	out := make([]model.BlockWeight, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, eris.Errorf("invalid weight %q, want block=weight", arg)
		}
		b, ok := model.ParseBlock(name)
		if !ok {
			return nil, eris.Errorf("unknown block %q", name)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "weight for %s", b)
		}
		out = append(out, model.BlockWeight{Block: b, Weight: w})
	}
	return out, nil
}

func printWeights(cmd *cobra.Command, weights map[model.Block]float64) error {
	w := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(w, weights)
	}
	rows := make([][]string, 0, len(model.AllBlocks))
	for _, b := range model.AllBlocks {
		rows = append(rows, []string{string(b.Group()), string(b), fmt.Sprintf("%g", weights[b])})
	}
	fmt.Fprintln(w, renderTable([]string{"Group", "Block", "Weight"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	return nil
}
