package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/csvimport"
	"github.com/Veraticus/tally/internal/ingest"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/ofx"
	"github.com/Veraticus/tally/internal/service"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import transactions from CSV or OFX files",
		Long: `Import bank exports. Records are deduplicated by content, classified,
and stored; malformed rows are reported without stopping the rest.`,
	}
	cmd.AddCommand(importCSVCmd())
	cmd.AddCommand(importOFXCmd())
	return cmd
}

func importCSVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csv <file>",
		Short: "Import a CSV export",
		Long: fmt.Sprintf(`Import a CSV export. Supported formats: %s.

The generic format expects date, description and amount columns, with money
leaving the account negative.`, strings.Join(csvimport.Formats(), ", ")),
		Args: cobra.ExactArgs(1),
		RunE: runImportCSV,
	}
	cmd.Flags().String("account", "", "account the records belong to (required)")
	cmd.Flags().String("source", string(model.SourceCSV), "source tag: csv or archive")
	cmd.Flags().String("format", "generic", "bank format")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func runImportCSV(cmd *cobra.Command, args []string) error {
	account, _ := cmd.Flags().GetString("account")
	sourceName, _ := cmd.Flags().GetString("source")
	formatName, _ := cmd.Flags().GetString("format")

	source := model.Source(strings.ToLower(sourceName))
	if source != model.SourceCSV && source != model.SourceArchive {
		return fmt.Errorf("unknown source %q: use csv or archive", sourceName)
	}
	format, err := csvimport.Lookup(formatName)
	if err != nil {
		return err
	}

	f, err := os.Open(filepath.Clean(args[0]))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer func() { _ = f.Close() }()

	recs, err := csvimport.NewReader(format, account, source).Read(cmd.Context(), f)
	if err != nil {
		return err
	}
	return importRecords(cmd, recs)
}

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ofx <file>",
		Short: "Import an OFX or QFX statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, _ := cmd.Flags().GetString("account")

			f, err := os.Open(filepath.Clean(args[0]))
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			recs, err := ofx.NewParser(account).ParseFile(cmd.Context(), f)
			if err != nil {
				return err
			}
			return importRecords(cmd, recs)
		},
	}
	cmd.Flags().String("account", "", "account id (defaults to the statement's account)")
	return cmd
}

func importRecords(cmd *cobra.Command, recs []model.RawRecord) error {
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No transactions found"))
		return nil
	}

	handler := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx, cancel := handler.HandleInterrupts(cmd.Context(), "Stopping after the current batch; stored records are kept.")
	defer cancel()

	return withApp(ctx, func(a *app) error {
		result, err := runImport(ctx, a, recs, cmd.ErrOrStderr())
		if result != nil {
			printImport(cmd, result)
		}
		if err != nil {
			return err
		}
		return result.ImportError()
	})
}

func runImport(ctx context.Context, a *app, recs []model.RawRecord, w io.Writer) (*ingest.ImportResult, error) {
	bar := progressbar.NewOptions(len(recs),
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Importing transactions...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
	)
	return a.ingest.Import(ctx, recs, func(done int) {
		if err := bar.Set(done); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	})
}

func printImport(cmd *cobra.Command, result *ingest.ImportResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%d imported (%d auto-confirmed), %d duplicates skipped",
		result.Count(service.ItemAccepted), result.AutoConfirmed, result.Count(service.ItemSkipped))))
	for _, item := range result.Failed() {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("  %s: %s", item.ID, item.Reason)))
	}
}
