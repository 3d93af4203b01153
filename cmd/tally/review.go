package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/review"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Stage, commit and confirm transactions",
		Long: `Review moves transactions from pending_review to confirmed. Stage a
category first and commit when satisfied, or confirm directly.`,
	}

	cmd.AddCommand(listTxnsCmd("pending", "List transactions awaiting review", func(a *app, cmd *cobra.Command, limit int) ([]model.Transaction, error) {
		return a.review.ListPending(cmd.Context(), limit)
	}))
	cmd.AddCommand(listTxnsCmd("staged", "List staged transactions", func(a *app, cmd *cobra.Command, limit int) ([]model.Transaction, error) {
		return a.review.ListStaged(cmd.Context(), limit)
	}))
	cmd.AddCommand(stageCmd())
	cmd.AddCommand(unstageCmd())
	cmd.AddCommand(commitCmd())
	cmd.AddCommand(confirmCmd())
	cmd.AddCommand(bulkConfirmCmd())
	cmd.AddCommand(bulkDeleteCmd())
	cmd.AddCommand(revertStagedCmd())
	return cmd
}

func listTxnsCmd(use, short string, list func(*app, *cobra.Command, int) ([]model.Transaction, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd.Context(), func(a *app) error {
				txns, err := list(a, cmd, limit)
				if err != nil {
					return err
				}
				if len(txns) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing to show"))
					return nil
				}
				names, err := a.categoryNames(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable(cli.TransactionRows(txns, names)))
				return nil
			})
		},
	}
	cmd.Flags().Int("limit", 50, "maximum rows (0 for all)")
	return cmd
}

func stageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage <id>...",
		Short: "Stage a category for one or more transactions",
		Long: `Stage a category without confirming it. Without --category each
transaction's prediction is staged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, _ := cmd.Flags().GetString("category")
			return withApp(cmd.Context(), func(a *app) error {
				var categoryID *int64
				if ref != "" {
					id, err := a.resolveCategory(cmd.Context(), ref)
					if err != nil {
						return err
					}
					categoryID = &id
				}
				result := a.review.BulkStage(cmd.Context(), args, categoryID)
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBatch("Staged", &result))
				return nil
			})
		},
	}
	cmd.Flags().String("category", "", "category id or name")
	return cmd
}

func unstageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unstage <id>",
		Short: "Return a staged transaction to pending_review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.review.Unstage(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Unstaged "+args[0]))
				return nil
			})
		},
	}
}

func commitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit [id...]",
		Short: "Confirm staged transactions (all of them when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				result, err := a.review.CommitStaged(cmd.Context(), args)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBatch("Committed", &result))
				return nil
			})
		},
	}
}

func confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <id> <category>",
		Short: "Confirm a transaction directly, skipping the staged step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				categoryID, err := a.resolveCategory(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				txn, err := a.review.ConfirmDirect(cmd.Context(), args[0], categoryID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Confirmed %s (%s)", txn.ID, txn.Description)))
				return nil
			})
		},
	}
}

func bulkConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk-confirm <id>...",
		Short: "Confirm many transactions into one category",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, _ := cmd.Flags().GetString("category")
			return withApp(cmd.Context(), func(a *app) error {
				categoryID, err := a.resolveCategory(cmd.Context(), ref)
				if err != nil {
					return err
				}
				result, err := a.review.Bulk(cmd.Context(), review.BulkRequest{
					Action:     review.ActionConfirm,
					CategoryID: &categoryID,
					IDs:        args,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBatch("Confirmed", &result))
				return nil
			})
		},
	}
	cmd.Flags().String("category", "", "category id or name")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func bulkDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-delete <id>...",
		Short: "Soft delete many transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				result, err := a.review.Bulk(cmd.Context(), review.BulkRequest{Action: review.ActionDelete, IDs: args})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBatch("Deleted", &result))
				return nil
			})
		},
	}
}

func revertStagedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revert-staged",
		Short: "Unstage every staged transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				n, err := a.review.RevertAllStaged(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Reverted %d staged transactions", n)))
				return nil
			})
		},
	}
}
