package db

import (
	"context"
	"database/sql"
	"flag"

	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	_ "modernc.org/sqlite"

	"github.com/metricboost/metric-engine/internal/config"
)

type SQLiteProvider struct {
	store
}

const configureSqliteStmt = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = normal;
	PRAGMA journal_size_limit = 6144000;
	PRAGMA busy_timeout = 5000;
`

func RegisterSqliteFlags(flagSet *flag.FlagSet) {
	flagSet.StringVar(&config.DefaultConfig.Database.SQLite.DatabasePath, "sqlite-database-path", "metric-engine.db", "Path to the sqlite database holding the metric definitions.")
}

func newSqliteProvider(ctx context.Context) (Provider, error) {
	return openSqlite(ctx, config.DefaultConfig.Database.SQLite.DatabasePath)
}

func openSqlite(ctx context.Context, path string) (*SQLiteProvider, error) {
	db, err := otelsql.Open("sqlite", path, otelsql.WithAttributes(semconv.DBSystemSqlite))
	if err != nil {
		return nil, ConnectionError(err, "SQLite", "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, ConnectionError(err, "SQLite", "failed to ping database")
	}

	if _, err := db.ExecContext(ctx, configureSqliteStmt); err != nil {
		_ = db.Close()
		return nil, ErrorWithOperation(err, "configure sqlite database")
	}

	if err := runMigrations(ctx, db, "sqlite"); err != nil {
		_ = db.Close()
		return nil, SchemaError(err, "migration", "sqlite")
	}

	return newSQLiteStore(db), nil
}

func newSQLiteStore(db *sql.DB) *SQLiteProvider {
	return &SQLiteProvider{store: store{db: db, qc: NewSQLiteQueryContext()}}
}
