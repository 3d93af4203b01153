package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/storage"
	"github.com/Veraticus/tally/internal/taxonomy"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

An existing database is backed up before any migration is applied.`,
		RunE: runMigrate,
	}
	cmd.Flags().Bool("status", false, "Show schema version and backups without migrating")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	status, _ := cmd.Flags().GetBool("status")
	if status {
		store, err := storage.NewSQLiteStorage(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		store.SetBackupDir(cfg.Database.BackupDir)

		version, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, cli.FormatTitle("Database"))
		fmt.Fprintf(out, "path:    %s\nversion: %d of %d\n", cfg.Database.Path, version, storage.ExpectedSchemaVersion)

		backups, err := store.ListBackups()
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(backups))
		for _, b := range backups {
			rows = append(rows, []string{b.ID, b.Reason, b.CreatedAt.Format("2006-01-02 15:04"), fmt.Sprint(b.SchemaVersion)})
		}
		if len(rows) > 0 {
			fmt.Fprintln(out, cli.RenderTable([]string{"BACKUP", "REASON", "CREATED", "SCHEMA"}, rows))
		}
		return nil
	}

	slog.Info("Running database migrations", "database", cfg.Database.Path)
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = store.Close() }()

	fmt.Fprintln(out, cli.FormatSuccess("Database is at schema version "+fmt.Sprint(storage.ExpectedSchemaVersion)))
	return nil
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the starter category tree, amount rules and merchant mappings",
		Long: `Seed creates a starter taxonomy: parent categories with colors, their
children, amount rules for merchants that bill several products under one
name, and merchant mappings that auto-confirm from the first match.

Anything that already exists by category name or pattern is left alone, so
seed can be re-run safely and never overrides a learned mapping. Use --file
to load your own taxonomy in the same YAML format.`,
		Args: cobra.NoArgs,
		RunE: runSeed,
	}
	cmd.Flags().String("file", "", "YAML seed file (default: built-in starter taxonomy)")
	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	seed, err := taxonomy.DefaultSeed()
	if path != "" {
		seed, err = taxonomy.LoadSeedFile(path)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	return withApp(cmd.Context(), func(a *app) error {
		result, err := a.taxonomy.Seed(cmd.Context(), seed)
		if err != nil {
			return err
		}
		rows := [][]string{
			{"categories", fmt.Sprint(result.CategoriesCreated), fmt.Sprint(result.CategoriesSkipped)},
			{"amount rules", fmt.Sprint(result.RulesCreated), fmt.Sprint(result.RulesSkipped)},
			{"mappings", fmt.Sprint(result.MappingsCreated), fmt.Sprint(result.MappingsSkipped)},
		}
		fmt.Fprintln(out, cli.RenderTable([]string{"", "CREATED", "EXISTING"}, rows))
		created := result.CategoriesCreated + result.RulesCreated + result.MappingsCreated
		if created == 0 {
			fmt.Fprintln(out, cli.FormatInfo("Nothing to seed; everything already exists"))
			return nil
		}
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Seeded %d records", created)))
		return nil
	})
}
