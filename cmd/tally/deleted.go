package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/model"
)

func deletedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deleted",
		Short: "Soft delete, restore and purge transactions",
		Long: `Deleted transactions keep a full snapshot until purged, so they can be
restored exactly. Purging is permanent.`,
	}
	cmd.PersistentFlags().BoolP("yes", "y", false, "skip confirmation prompts")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List soft-deleted transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				deleted, err := a.review.ListDeleted(cmd.Context())
				if err != nil {
					return err
				}
				if len(deleted) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No deleted transactions"))
					return nil
				}
				rows := make([][]string, 0, len(deleted))
				for _, d := range deleted {
					rows = append(rows, []string{
						d.Transaction.ID,
						d.Transaction.Date.Format("2006-01-02"),
						d.Transaction.Amount.String(),
						d.Transaction.Description,
						d.Reason,
						d.DeletedAt.Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable(
					[]string{"ID", "DATE", "AMOUNT", "DESCRIPTION", "REASON", "DELETED"}, rows))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>...",
		Short: "Soft delete transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				for _, id := range args {
					if err := a.review.SoftDelete(cmd.Context(), id, model.ReasonUser); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted "+id))
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a soft-deleted transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				txn, err := a.review.Restore(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Restored %s as %s", txn.ID, txn.Status)))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge <id>",
		Short: "Permanently remove one soft-deleted transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirmed(cmd, fmt.Sprintf("Permanently purge %s?", args[0]))
			if err != nil || !ok {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.review.Purge(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Purged "+args[0]))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge-all",
		Short: "Permanently remove every soft-deleted transaction",
		Long:  "Purge every soft-deleted transaction. The database is backed up first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ok, err := confirmed(cmd, "Permanently purge all deleted transactions?")
			if err != nil || !ok {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				n, err := a.review.PurgeAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Purged %d transactions", n)))
				return nil
			})
		},
	})

	return cmd
}

// confirmed asks before a destructive action unless --yes was passed.
func confirmed(cmd *cobra.Command, question string) (bool, error) {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}
	return confirm(cmd.Context(), cmd, question)
}

func confirm(ctx context.Context, cmd *cobra.Command, question string) (bool, error) {
	ok, err := cli.Confirm(ctx, cli.NewNonBlockingReader(cmd.InOrStdin()), cmd.OutOrStdout(), question)
	if err != nil {
		return false, err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Cancelled"))
	}
	return ok, nil
}
