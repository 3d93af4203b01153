package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/sheets"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summaries of confirmed transactions",
	}

	spending := &cobra.Command{
		Use:   "spending",
		Short: "Total confirmed spending per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := reportRange(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				rows, err := a.taxonomy.Spending(cmd.Context(), start, end)
				if err != nil {
					return err
				}
				var total model.Cents
				table := make([][]string, 0, len(rows)+1)
				for _, r := range rows {
					total += r.Total
					table = append(table, []string{r.CategoryName, strconv.Itoa(r.Count), r.Total.String()})
				}
				table = append(table, []string{"total", "", total.String()})

				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatTitle(fmt.Sprintf("Spending %s to %s",
					start.Format("2006-01-02"), end.AddDate(0, 0, -1).Format("2006-01-02"))))
				fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"CATEGORY", "COUNT", "TOTAL"}, table))
				return nil
			})
		},
	}
	export := &cobra.Command{
		Use:   "export",
		Short: "Write spending and confirmed transactions to Google Sheets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := reportRange(cmd)
			if err != nil {
				return err
			}
			if !cfg.Sheets.Enabled() {
				return fmt.Errorf("%w: configure sheets.service_account_path or sheets OAuth credentials", common.ErrMissingConfig)
			}
			return withApp(cmd.Context(), func(a *app) error {
				report, err := buildReport(cmd.Context(), a, start, end)
				if err != nil {
					return err
				}
				writer, err := sheets.NewWriter(cmd.Context(), cfg.Sheets, common.Component("sheets"))
				if err != nil {
					return err
				}
				id, err := writer.Write(cmd.Context(), report)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d categories and %d transactions to spreadsheet %s\n",
					len(report.Spending), len(report.Transactions), id)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{spending, export} {
		c.Flags().String("month", "", "month to report, YYYY-MM (default: the current month)")
		c.Flags().String("start", "", "first day, YYYY-MM-DD (overrides --month)")
		c.Flags().String("end", "", "last day inclusive, YYYY-MM-DD")
	}

	cmd.AddCommand(spending, export)
	return cmd
}

// buildReport gathers spending totals and final transactions for [start, end).
func buildReport(ctx context.Context, a *app, start, end time.Time) (sheets.Report, error) {
	report := sheets.Report{Start: start, End: end}
	var err error
	if report.Spending, err = a.taxonomy.Spending(ctx, start, end); err != nil {
		return report, err
	}
	report.Transactions, err = a.store.ListTransactions(ctx, service.TransactionFilter{
		StartDate: &start,
		EndDate:   &end,
		Statuses:  service.FinalStatuses,
	})
	if err != nil {
		return report, err
	}
	report.CategoryNames, err = a.categoryNames(ctx)
	return report, err
}

// reportRange resolves the flags to a half-open [start, end) date range.
func reportRange(cmd *cobra.Command) (time.Time, time.Time, error) {
	startRaw, _ := cmd.Flags().GetString("start")
	endRaw, _ := cmd.Flags().GetString("end")
	month, _ := cmd.Flags().GetString("month")

	if startRaw == "" {
		if month == "" {
			month = time.Now().Format("2006-01")
		}
		start, err := time.Parse("2006-01", month)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("month must be YYYY-MM: %w", err)
		}
		return start, start.AddDate(0, 1, 0), nil
	}

	start, err := time.Parse("2006-01-02", startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start must be YYYY-MM-DD: %w", err)
	}
	if endRaw == "" {
		return start, start.AddDate(0, 1, 0), nil
	}
	last, err := time.Parse("2006-01-02", endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be YYYY-MM-DD: %w", err)
	}
	return start, last.AddDate(0, 0, 1), nil
}
