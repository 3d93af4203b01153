package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/taxonomy"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage the two-level category tree",
		Long: `Categories form a tree at most two levels deep. Transactions may use any
category; a parent with children cannot be deleted, only merged.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "tree",
		Short: "Show the category tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				nodes, err := a.taxonomy.Tree(cmd.Context())
				if err != nil {
					return err
				}
				if len(nodes) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No categories yet. Use 'tally categories create' to add one."))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTree(nodes))
				return nil
			})
		},
	})

	cmd.AddCommand(createCategoryCmd())
	cmd.AddCommand(renameCategoryCmd())
	cmd.AddCommand(moveCategoryCmd())

	cmd.AddCommand(&cobra.Command{
		Use:   "merge <from> <into>",
		Short: "Fold one category into another, moving every reference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				from, err := a.resolveCategory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				into, err := a.resolveCategory(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				result, err := a.taxonomy.Merge(cmd.Context(), from, into)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
					"Merged %s into %s: %d references moved, %d children reparented",
					args[0], result.Into.Name, result.References, result.Children)))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <category>",
		Short: "Delete an unused category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				id, err := a.resolveCategory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := a.taxonomy.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted category "+args[0]))
				return nil
			})
		},
	})

	return cmd
}

func createCategoryCmd() *cobra.Command {
	var req taxonomy.CreateRequest
	var parent string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			return withApp(cmd.Context(), func(a *app) error {
				if parent != "" {
					id, err := a.resolveCategory(cmd.Context(), parent)
					if err != nil {
						return err
					}
					req.ParentID = &id
				}
				cat, err := a.taxonomy.Create(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created %s (#%d)", cat.Label(), cat.ID)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent category id or name")
	cmd.Flags().StringVar(&req.DisplayName, "display-name", "", "display name (defaults to the name)")
	cmd.Flags().StringVar(&req.Color, "color", "", "display color")
	cmd.Flags().BoolVar(&req.IsIncome, "income", false, "mark as an income category")
	cmd.Flags().BoolVar(&req.IsRecurring, "recurring", false, "mark as a recurring category")
	return cmd
}

func renameCategoryCmd() *cobra.Command {
	var req taxonomy.RenameRequest

	cmd := &cobra.Command{
		Use:   "rename <category> [new-name]",
		Short: "Rename a category or change its display name",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				req.Name = args[1]
			}
			return withApp(cmd.Context(), func(a *app) error {
				id, err := a.resolveCategory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cat, err := a.taxonomy.Rename(cmd.Context(), id, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Renamed to "+cat.Label()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.DisplayName, "display-name", "", "new display name")
	cmd.Flags().StringVar(&req.Color, "color", "", "new display color")
	return cmd
}

func moveCategoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <category> [parent]",
		Short: "Move a category under a parent, or to the top level when no parent is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				id, err := a.resolveCategory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				var parentID *int64
				if len(args) == 2 {
					p, err := a.resolveCategory(cmd.Context(), args[1])
					if err != nil {
						return err
					}
					parentID = &p
				}
				cat, err := a.taxonomy.Move(cmd.Context(), id, parentID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Moved "+cat.Label()))
				return nil
			})
		},
	}
}
