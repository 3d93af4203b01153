package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/dedup"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/ingest"
	"github.com/Veraticus/tally/internal/learning"
	"github.com/Veraticus/tally/internal/llm"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/review"
	"github.com/Veraticus/tally/internal/storage"
	"github.com/Veraticus/tally/internal/taxonomy"
)

// app is every service a command needs, sharing one guard and one lock table.
type app struct {
	store    *storage.SQLiteStorage
	cascade  *engine.Cascade
	review   *review.Machine
	taxonomy *taxonomy.Service
	ingest   *ingest.Service
}

// openStore opens the database and brings its schema up to date, backing up
// an existing database before any migration runs.
func openStore(ctx context.Context, c *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(c.Database.Path)
	if err != nil {
		return nil, err
	}
	store.SetBackupDir(c.Database.BackupDir)

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if current > 0 && current < storage.ExpectedSchemaVersion {
		info, err := store.Backup(ctx, "migrate")
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to back up before migration: %w", err)
		}
		slog.Info("Backed up database before migration", "backup", info.ID, "from_version", current)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func openApp(ctx context.Context) (*app, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration not loaded", common.ErrMissingConfig)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	guard := &common.TaxonomyGuard{}
	locks := common.NewKeyedMutex()

	var ai engine.AIClassifier
	if cfg.LLMEnabled {
		classifier, err := llm.NewClassifier(cfg.LLM, slog.Default())
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		ai = classifier
	} else {
		slog.Debug("No LLM api key configured, AI tier disabled")
	}

	cascade, err := engine.New(store, ai, cfg.Cascade, engine.WithGuard(guard), engine.WithLocks(locks))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	resolver, err := dedup.NewResolver(cfg.Dedup)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	machine := review.New(store, learning.New(cfg.Learning.MaxConfidence),
		review.WithGuard(guard),
		review.WithLocks(locks),
		review.WithBackups(store))

	return &app{
		store:    store,
		cascade:  cascade,
		review:   machine,
		taxonomy: taxonomy.New(store, guard),
		ingest:   ingest.New(store, resolver, cascade, machine, ingest.WithConfig(cfg.Ingest)),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// resolveCategory accepts a category id or name.
func (a *app) resolveCategory(ctx context.Context, ref string) (int64, error) {
	cat, err := a.taxonomy.Resolve(ctx, ref)
	if err != nil {
		return 0, err
	}
	return cat.ID, nil
}

// categoryNames maps ids to labels for table output.
func (a *app) categoryNames(ctx context.Context) (map[int64]string, error) {
	cats, err := a.taxonomy.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Label()
	}
	return names, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, common.Validationf("parse", raw, "expected a numeric id")
	}
	return id, nil
}

func parseAmount(raw string) (model.Cents, error) {
	cents, err := model.ParseCents(raw)
	if err != nil {
		return 0, &common.ValidationError{Op: "parse", ID: raw, Reason: "expected an amount such as 12.34", Err: err}
	}
	return cents, nil
}
