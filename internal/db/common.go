package db

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// QueryBuildingContext holds the dialect specific parts of the definition queries.
type QueryBuildingContext struct {
	Dialect       string
	PlaceholderFn func(int) string
}

func NewPostgreSQLQueryContext() *QueryBuildingContext {
	return &QueryBuildingContext{
		Dialect: "postgresql",
		PlaceholderFn: func(i int) string {
			return "$" + strconv.Itoa(i)
		},
	}
}

func NewSQLiteQueryContext() *QueryBuildingContext {
	return &QueryBuildingContext{
		Dialect: "sqlite",
		PlaceholderFn: func(int) string {
			return "?"
		},
	}
}

// Rebind rewrites the ? placeholders of query into the dialect's form.
// Placeholders inside single quoted literals are left alone.
func (qc *QueryBuildingContext) Rebind(query string) string {
	var (
		b      strings.Builder
		n      int
		quoted bool
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteString(qc.PlaceholderFn(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizePage clamps page and size to the supported range.
func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

func totalPages(total, size int) int {
	if total == 0 {
		return 0
	}
	return (total + size - 1) / size
}

// ExecuteQuery is a helper function to execute a query with error handling
func ExecuteQuery(ctx context.Context, db *sql.DB, query string, args ...any) (*sql.Rows, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, QueryError(err, "executing query", query)
	}
	return rows, nil
}

// CloseResource safely closes a resource and logs any errors
func CloseResource(closer io.Closer) {
	if err := closer.Close(); err != nil {
		slog.Error("Error closing resource", "error", err)
	}
}

// ScanSingleRow scans a single row with proper error handling
func ScanSingleRow(rows *sql.Rows, dest ...any) error {
	defer CloseResource(rows)

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ErrorWithOperation(err, "row iteration")
		}
		return ErrNoResults
	}

	if err := rows.Scan(dest...); err != nil {
		return ErrorWithOperation(err, "scanning row")
	}

	return rows.Err()
}
