package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Run the classification cascade",
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "Classify pending transactions that have no prediction",
		Long: `Re-run rules, merchant mappings and the AI tier over transactions still
awaiting review. Confident matches are staged for you to commit; weaker ones
become predictions. Nothing is confirmed without review.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			reset, _ := cmd.Flags().GetBool("clear")
			out := cmd.OutOrStdout()

			return withApp(cmd.Context(), func(a *app) error {
				if reset {
					n, err := a.cascade.ClearPredictions(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Cleared %d predictions", n)))
				}
				result, err := a.cascade.ClassifyPending(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf(
					"Processed %d: %d staged, %d predicted, %d unmatched",
					result.Processed, result.Staged, result.Predicted, result.Unmatched)))
				return nil
			})
		},
	}
	pending.Flags().Int("limit", 0, "maximum transactions to classify (0 for all)")
	pending.Flags().Bool("clear", false, "drop existing predictions first so every pending row is reclassified")

	cmd.AddCommand(pending)
	return cmd
}
