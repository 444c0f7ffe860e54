package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite persists items in a single sqlite table so they survive restarts.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the sqlite file at filename and
// applies the embedded migrations.
func OpenSQLite(filename string) (*SQLite, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", ensureBusyTimeoutDSN(filename))
	if err != nil {
		return nil, fmt.Errorf("error opening storage database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// ensureBusyTimeoutDSN adds a busy timeout so concurrent writers wait instead of failing with SQLITE_BUSY.
func ensureBusyTimeoutDSN(dataSourceName string) string {
	if strings.Contains(dataSourceName, "_busy_timeout=") {
		return dataSourceName
	}
	if strings.Contains(dataSourceName, "?") {
		return dataSourceName + "&_busy_timeout=5000"
	}
	return dataSourceName + "?_busy_timeout=5000"
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not create source: %w", err)
	}

	m, err := migrate.NewWithInstance(
		"iofs", source,
		"sqlite3", driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (s *SQLite) GetItem(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT item_value FROM local_storage WHERE item_key = ?", key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get item %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLite) SetItem(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO local_storage (item_key, item_value, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(item_key) DO UPDATE SET
		   item_value = excluded.item_value,
		   updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set item %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) RemoveItem(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM local_storage WHERE item_key = ?", key); err != nil {
		return fmt.Errorf("remove item %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
