package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/model"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage exact-amount rules",
		Long: `A rule matches a merchant pattern and an exact amount, and always wins
over learned mappings. Use it for merchants that sell different things at
known prices.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				rules, err := a.taxonomy.Rules(cmd.Context())
				if err != nil {
					return err
				}
				names, err := a.categoryNames(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(rules))
				for _, r := range rules {
					rows = append(rows, []string{
						strconv.FormatInt(r.ID, 10), r.Pattern, r.Amount.String(), names[r.CategoryID], r.Notes,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"ID", "PATTERN", "AMOUNT", "CATEGORY", "NOTES"}, rows))
				return nil
			})
		},
	})

	add := &cobra.Command{
		Use:   "add <pattern> <amount> <category>",
		Short: "Add a rule",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, _ := cmd.Flags().GetString("notes")
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				categoryID, err := a.resolveCategory(cmd.Context(), args[2])
				if err != nil {
					return err
				}
				rule, err := a.taxonomy.AddRule(cmd.Context(), model.AmountRule{
					Pattern:    args[0],
					Amount:     amount,
					CategoryID: categoryID,
					Notes:      notes,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Added rule #%d", rule.ID)))
				return nil
			})
		},
	}
	add.Flags().String("notes", "", "free-form note")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.taxonomy.DeleteRule(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted rule #"+args[0]))
				return nil
			})
		},
	})
	return cmd
}

func mappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect learned merchant mappings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List merchant mappings with their confidence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				mappings, err := a.taxonomy.Mappings(cmd.Context())
				if err != nil {
					return err
				}
				names, err := a.categoryNames(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(mappings))
				for _, m := range mappings {
					rows = append(rows, []string{
						strconv.FormatInt(m.ID, 10), m.Pattern, names[m.CategoryID],
						strconv.Itoa(m.Confidence), m.UpdatedAt.Format("2006-01-02"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"ID", "PATTERN", "CATEGORY", "CONFIDENCE", "UPDATED"}, rows))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Forget a learned mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.taxonomy.DeleteMapping(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted mapping #"+args[0]))
				return nil
			})
		},
	})
	return cmd
}

func budgetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budgets",
		Short: "Set and list monthly budgets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <category> <amount> [month]",
		Short: "Set a category budget for a month (default: the current month)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			month := time.Now().Format("2006-01")
			if len(args) == 3 {
				month = args[2]
			}
			return withApp(cmd.Context(), func(a *app) error {
				categoryID, err := a.resolveCategory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				b, err := a.taxonomy.SetBudget(cmd.Context(), model.Budget{CategoryID: categoryID, Amount: amount, Month: month})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Budget for %s in %s is %s", args[0], b.Month, b.Amount)))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list [month]",
		Short: "Compare budgets with confirmed spending",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			month := time.Now().Format("2006-01")
			if len(args) == 1 {
				month = args[0]
			}
			start, err := time.Parse("2006-01", month)
			if err != nil {
				return fmt.Errorf("month must be YYYY-MM: %w", err)
			}
			return withApp(cmd.Context(), func(a *app) error {
				budgets, err := a.taxonomy.Budgets(cmd.Context(), month)
				if err != nil {
					return err
				}
				spending, err := a.taxonomy.Spending(cmd.Context(), start, start.AddDate(0, 1, 0))
				if err != nil {
					return err
				}
				names, err := a.categoryNames(cmd.Context())
				if err != nil {
					return err
				}
				spent := make(map[int64]model.Cents, len(spending))
				for _, s := range spending {
					spent[s.CategoryID] = s.Total
				}
				rows := make([][]string, 0, len(budgets))
				for _, b := range budgets {
					rows = append(rows, []string{
						names[b.CategoryID], b.Amount.String(), spent[b.CategoryID].String(), (b.Amount - spent[b.CategoryID]).String(),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatTitle("Budgets for "+month))
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"CATEGORY", "BUDGET", "SPENT", "REMAINING"}, rows))
				return nil
			})
		},
	})
	return cmd
}
