package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	goose "github.com/pressly/goose/v3"
)

// Schema migrations of the definition store, one directory per engine.
//
//go:embed migrations/**/*.sql
var migrationsFS embed.FS

// runMigrations applies all pending up migrations of engine.
func runMigrations(ctx context.Context, db *sql.DB, engine string) error {
	var dialect, dir string
	switch engine {
	case "postgres", string(PostGreSQL):
		dialect, dir = "postgres", "migrations/postgresql"
	case "sqlite3", string(SQLite):
		// goose names the dialect sqlite3 whatever the driver
		dialect, dir = "sqlite3", "migrations/sqlite"
	default:
		return fmt.Errorf("unsupported database engine for migrations: %s", engine)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
