package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrDirtyMigration reports a schema left half-applied by an earlier run.
var ErrDirtyMigration = errors.New("platform/db: dirty migration")

// Migrate applies every pending up migration found in dir.
func Migrate(dsn, dir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("platform/db: open: %w", err)
	}
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{MultiStatementEnabled: true})
	if err != nil {
		return fmt.Errorf("platform/db: migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationSource(dir), "postgres", driver)
	if err != nil {
		return fmt.Errorf("platform/db: migrate source: %w", err)
	}

	if err := m.Up(); err != nil {
		var dirty migrate.ErrDirty
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			logger.Info("schema up to date")
			return nil
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("no migration files found", slog.String("dir", dir))
			return nil
		case errors.As(err, &dirty):
			return fmt.Errorf("%w: version %d", ErrDirtyMigration, dirty.Version)
		}
		return fmt.Errorf("platform/db: migrate up: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("platform/db: migrate version: %w", err)
	}
	logger.Info("schema migrated", slog.Uint64("version", uint64(version)))
	return nil
}

func migrationSource(dir string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}
	return u.String()
}
