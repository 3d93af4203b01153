package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Backup errors.
var (
	ErrBackupUnsupported = errors.New("in-memory databases cannot be backed up")
	ErrInvalidBackupTag  = errors.New("invalid backup tag")
)

const maxAutoBackups = 5

// BackupInfo describes one backup file.
type BackupInfo struct {
	CreatedAt     time.Time      `json:"created_at"`
	RowCounts     map[string]int `json:"row_counts"`
	ID            string         `json:"id"`
	Reason        string         `json:"reason"`
	Path          string         `json:"-"`
	SchemaVersion int            `json:"schema_version"`
}

// BackupDir is where backups of this database are written. It defaults to
// a backups directory next to the database file.
func (s *SQLiteStorage) BackupDir() string {
	if s.backupDir != "" {
		return s.backupDir
	}
	return filepath.Join(filepath.Dir(s.dbPath), "backups")
}

// SetBackupDir overrides where backups are written.
func (s *SQLiteStorage) SetBackupDir(dir string) {
	s.backupDir = dir
}

// Backup writes a consistent copy of the database before an irreversible
// operation such as a migration or purge. Only the newest automatic backups are kept.
func (s *SQLiteStorage) Backup(ctx context.Context, reason string) (*BackupInfo, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if s.dbPath == ":memory:" {
		return nil, ErrBackupUnsupported
	}
	if strings.ContainsAny(reason, `/\'";`) || strings.Contains(reason, "..") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackupTag, reason)
	}

	dir := s.BackupDir()
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := time.Now().UTC()
	id := fmt.Sprintf("auto-%s-%s", reason, now.Format("20060102-150405.000"))
	dest, err := filepath.Abs(filepath.Join(dir, id+".db"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup path: %w", err)
	}
	if strings.ContainsAny(dest, `'";`) {
		return nil, fmt.Errorf("%w: backup path contains forbidden characters", ErrInvalidBackupTag)
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.rowCounts(ctx, version)
	if err != nil {
		return nil, err
	}

	// #nosec G201 - dest is validated above
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return nil, fmt.Errorf("failed to back up database: %w", err)
	}

	info := &BackupInfo{
		ID:            id,
		CreatedAt:     now,
		Reason:        reason,
		RowCounts:     counts,
		SchemaVersion: version,
		Path:          dest,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup metadata: %w", err)
	}
	if err := os.WriteFile(strings.TrimSuffix(dest, ".db")+".meta.json", data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write backup metadata: %w", err)
	}

	if err := s.pruneBackups(); err != nil {
		slog.Warn("failed to prune old backups", "error", err)
	}
	return info, nil
}

// ListBackups returns backups newest first.
func (s *SQLiteStorage) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.BackupDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		path := filepath.Join(s.BackupDir(), entry.Name())
		data, err := os.ReadFile(path) // #nosec G304 - path is inside the backup directory
		if err != nil {
			slog.Debug("skipping unreadable backup metadata", "path", path, "error", err)
			continue
		}
		var info BackupInfo
		if err := json.Unmarshal(data, &info); err != nil {
			slog.Debug("skipping corrupt backup metadata", "path", path, "error", err)
			continue
		}
		info.Path = strings.TrimSuffix(path, ".meta.json") + ".db"
		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

func (s *SQLiteStorage) pruneBackups() error {
	backups, err := s.ListBackups()
	if err != nil {
		return err
	}
	for i, b := range backups {
		if i < maxAutoBackups {
			continue
		}
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := os.Remove(strings.TrimSuffix(b.Path, ".db") + ".meta.json"); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) rowCounts(ctx context.Context, version int) (map[string]int, error) {
	tables := map[int][]string{
		1: {"categories", "transactions", "amount_rules", "merchant_mappings", "budgets"},
		2: {"deleted_transactions"},
		3: {"sync_cursors"},
	}
	counts := make(map[string]int)
	for v := 1; v <= version; v++ {
		for _, table := range tables[v] {
			var n int
			// #nosec G201 - table names are constants
			if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
				return nil, fmt.Errorf("failed to count %s: %w", table, err)
			}
			counts[table] = n
		}
	}
	return counts, nil
}
