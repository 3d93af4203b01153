package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

// transactionTableColumns is shared by the active and soft-deleted tables so a
// snapshot round-trips column for column.
const transactionTableColumns = `
	id TEXT PRIMARY KEY,
	dedup_key TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	date DATETIME NOT NULL,
	amount_cents INTEGER NOT NULL,
	description TEXT NOT NULL,
	merchant_name TEXT NOT NULL DEFAULT '',
	account_id TEXT NOT NULL,
	category_id INTEGER,
	predicted_category_id INTEGER,
	staged_category_id INTEGER,
	confidence REAL NOT NULL DEFAULT 0,
	tier TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source TEXT NOT NULL,
	is_pending BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL`

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT UNIQUE NOT NULL,
					display_name TEXT NOT NULL DEFAULT '',
					parent_id INTEGER,
					color TEXT NOT NULL DEFAULT '',
					is_income BOOLEAN NOT NULL DEFAULT 0,
					is_recurring BOOLEAN NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_categories_parent ON categories(parent_id)`,

				`CREATE TABLE IF NOT EXISTS transactions (`+transactionTableColumns+`,
					UNIQUE(dedup_key)
				)`,
				`CREATE INDEX idx_transactions_status ON transactions(status)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE INDEX idx_transactions_account ON transactions(account_id, amount_cents)`,

				`CREATE TABLE IF NOT EXISTS amount_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					pattern TEXT NOT NULL,
					amount_cents INTEGER NOT NULL,
					category_id INTEGER NOT NULL,
					notes TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(pattern, amount_cents)
				)`,

				`CREATE TABLE IF NOT EXISTS merchant_mappings (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					pattern TEXT UNIQUE NOT NULL,
					category_id INTEGER NOT NULL,
					confidence INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_merchant_mappings_category ON merchant_mappings(category_id)`,

				`CREATE TABLE IF NOT EXISTS budgets (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					category_id INTEGER NOT NULL,
					month TEXT NOT NULL,
					amount_cents INTEGER NOT NULL,
					UNIQUE(category_id, month)
				)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Add soft-deleted transactions table",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS deleted_transactions (`+transactionTableColumns+`,
					deleted_at DATETIME NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					UNIQUE(dedup_key)
				)`,
				`CREATE INDEX idx_deleted_transactions_deleted_at ON deleted_transactions(deleted_at)`,
				`CREATE INDEX idx_deleted_transactions_account ON deleted_transactions(account_id, amount_cents)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add per-account sync cursors",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS sync_cursors (
					account_id TEXT PRIMARY KEY,
					cursor TEXT NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// SchemaVersion returns the database's current user_version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate runs all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Debug("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
