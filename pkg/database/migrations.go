package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// RunMigrations applies any pending SQL migrations from migrationsPath.
// Idempotent: an up-to-date schema is not an error.
func RunMigrations(db *sql.DB, migrationsPath string, logger *zap.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("close migration database", zap.Error(dbErr))
		}
	}()

	switch err := m.Up(); {
	case err == nil:
		version, dirty, _ := m.Version()
		logger.Info("migrations applied",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty))
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("schema up to date")
		return nil
	default:
		return fmt.Errorf("run migrations: %w", err)
	}
}
