package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyiu/sats-price/internal/domain"

	_ "github.com/glebarez/go-sqlite"
)

// migrations[i] upgrades the schema from version i to i+1.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS selected_currency (
		code TEXT PRIMARY KEY,
		added_at INTEGER NOT NULL
	);`,
	// Key-value settings such as the last active price source.
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
}

// SelectionStore persists watched currencies and settings in SQLite.
type SelectionStore struct {
	db *sql.DB
}

var (
	_ domain.SelectionStore = (*SelectionStore)(nil)
	_ domain.SettingsStore  = (*SelectionStore)(nil)
)

// NewSelectionStore opens (or creates) the database at dbPath and migrates
// it to the latest schema.
func NewSelectionStore(dbPath string) (*SelectionStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// Writes arrive from background goroutines; one connection keeps them
	// serialised without SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	s := &SelectionStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SelectionStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		if _, err := s.db.ExecContext(ctx, migrations[v]); err != nil {
			return fmt.Errorf("failed to migrate schema to v%d: %w", v+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			return fmt.Errorf("failed to record schema v%d: %w", v+1, err)
		}
	}
	return nil
}

// SchemaVersion returns the applied schema version.
func (s *SelectionStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	return version, err
}

// List returns the stored codes in insertion order.
func (s *SelectionStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT code FROM selected_currency ORDER BY added_at, code")
	if err != nil {
		return nil, fmt.Errorf("failed to query currencies: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan currency: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return codes, nil
}

// Insert stores code. Inserting an existing code is a no-op.
func (s *SelectionStore) Insert(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO selected_currency (code, added_at) VALUES (?, ?)",
		strings.ToUpper(code), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert currency %s: %w", code, err)
	}
	return nil
}

// Delete removes code. Deleting a missing code is a no-op.
func (s *SelectionStore) Delete(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM selected_currency WHERE code = ?", strings.ToUpper(code))
	if err != nil {
		return fmt.Errorf("failed to delete currency %s: %w", code, err)
	}
	return nil
}

// UpsertSetting saves a key-value pair to the settings table.
func (s *SelectionStore) UpsertSetting(ctx context.Context, setting domain.AppConfig) error {
	ts := setting.UpdatedAtUnixM
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		setting.Key, setting.Value, ts,
	)
	return err
}

// GetSetting retrieves a setting. The bool is false when key is absent.
func (s *SelectionStore) GetSetting(ctx context.Context, key string) (domain.AppConfig, bool, error) {
	setting := domain.AppConfig{Key: key}
	err := s.db.QueryRowContext(ctx,
		"SELECT value, updated_at FROM settings WHERE key = ?", key,
	).Scan(&setting.Value, &setting.UpdatedAtUnixM)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AppConfig{}, false, nil
	}
	if err != nil {
		return domain.AppConfig{}, false, err
	}
	return setting, true, nil
}

// Close closes the database connection.
func (s *SelectionStore) Close() error {
	return s.db.Close()
}
