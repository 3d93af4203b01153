package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/ingest"
	"github.com/Veraticus/tally/internal/plaid"
	"github.com/Veraticus/tally/internal/simplefin"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [account]",
		Short: "Pull new, modified and removed transactions from the bank",
		Long: `Sync fetches every change since the stored cursor for one account, or for
all of them when no account is given.

With Plaid, accounts are the keys of plaid.access_tokens in the config file.
With SimpleFIN, accounts are the bridge's account ids; claim a setup token
first with 'tally simplefin claim'.

--reset-cursor replays an account's full history. Records already stored,
including soft-deleted ones, are skipped by their bank ids.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSync,
	}
	cmd.Flags().String("source", "", "plaid or simplefin (default: plaid when configured)")
	cmd.Flags().Bool("reset-cursor", false, "Forget the stored cursor and replay full history; stored transactions are skipped as duplicates")
	return cmd
}

// bankSource is a sync source that can list its accounts.
type bankSource interface {
	ingest.SyncSource
	accounts(ctx context.Context) ([]string, error)
}

type plaidSource struct{ *plaid.Client }

func (p plaidSource) accounts(context.Context) ([]string, error) { return p.Accounts(), nil }

type simplefinSource struct{ *simplefin.Client }

func (s simplefinSource) accounts(ctx context.Context) ([]string, error) { return s.Accounts(ctx) }

func openSource(name string) (bankSource, error) {
	if name == "" {
		name = "simplefin"
		if cfg.PlaidEnabled {
			name = "plaid"
		}
	}
	switch name {
	case "plaid":
		if !cfg.PlaidEnabled {
			return nil, fmt.Errorf("%w: plaid.client_id and plaid.secret are required for sync", common.ErrMissingConfig)
		}
		client, err := plaid.NewClient(&cfg.Plaid)
		if err != nil {
			return nil, err
		}
		return plaidSource{client}, nil
	case "simplefin":
		accessURL, err := simplefin.ResolveAccessURL(cfg.SimpleFIN)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no bank configured; set plaid credentials or run 'tally simplefin claim'", common.ErrMissingConfig)
		}
		if err != nil {
			return nil, err
		}
		sfCfg := cfg.SimpleFIN
		sfCfg.AccessURL = accessURL
		client, err := simplefin.NewClient(sfCfg, nil)
		if err != nil {
			return nil, err
		}
		return simplefinSource{client}, nil
	}
	return nil, fmt.Errorf("unknown source %q: use plaid or simplefin", name)
}

func runSync(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("source")
	reset, _ := cmd.Flags().GetBool("reset-cursor")
	src, err := openSource(name)
	if err != nil {
		return err
	}

	handler := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx, cancel := handler.HandleInterrupts(cmd.Context(), "Stopping after the current page; the cursor keeps everything already stored.")
	defer cancel()

	accounts := args
	if len(accounts) == 0 {
		if accounts, err = src.accounts(ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	return withApp(ctx, func(a *app) error {
		var failed []error
		for _, account := range accounts {
			if reset {
				if err := a.ingest.ResetCursor(ctx, account); err != nil {
					fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", account, err)))
					failed = append(failed, err)
					continue
				}
				fmt.Fprintln(out, cli.FormatInfo(account+": cursor reset"))
			}
			result, err := a.ingest.Sync(ctx, account, src)
			if err != nil {
				fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", account, err)))
				failed = append(failed, err)
				if handler.WasInterrupted() {
					break
				}
				continue
			}
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf(
				"%s: %d new (%d auto-confirmed), %d modified, %d removed, %d duplicates over %d pages",
				account, result.Accepted, result.AutoConfirmed, result.Modified,
				result.Removed, result.SkippedDuplicates, result.Pages)))
			for _, e := range result.Errors {
				fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("  %s: %s", e.ID, e.Error)))
			}
		}
		return errors.Join(failed...)
	})
}

func simplefinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simplefin",
		Short: "Connect a SimpleFIN Bridge",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "claim <setup-token>",
		Short: "Exchange a SimpleFIN setup token for an access URL and save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accessURL, err := simplefin.Claim(cmd.Context(), nil, args[0])
			if err != nil {
				return err
			}
			if err := simplefin.SaveAuth(cfg.SimpleFIN.AuthFile, accessURL, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Saved SimpleFIN access to "+cfg.SimpleFIN.AuthFile))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "accounts",
		Short: "List account ids available for sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := openSource("simplefin")
			if err != nil {
				return err
			}
			ids, err := src.accounts(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
	return cmd
}
