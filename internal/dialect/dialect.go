// Package dialect holds what differs between the SQL engines a data source can
// point at: identifier quoting, placeholders, date bucketing and catalog
// queries.
package dialect

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
	sb "github.com/metricboost/metric-engine/internal/sqlbuilder"
)

type Dialect interface {
	sb.Dialect

	Name() model.DataSourceType
	// Bucket formats the date column as the label of its period.
	Bucket(col sb.Expr, b period.Bucket) sb.Expr
	// TablesQuery lists (name, comment) of the tables in database.
	TablesQuery(database string) (string, []any)
	// ColumnsQuery lists (name, type, comment) of the columns of table.
	ColumnsQuery(database, table string) (string, []any)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[model.DataSourceType]Dialect)
)

// Register makes a dialect available under name.
func Register(name model.DataSourceType, d Dialect) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = d
}

func init() {
	Register(model.DataSourceMySQL, MySQL{})
	Register(model.DataSourcePostgreSQL, PostgreSQL{})
	Register(model.DataSourceSQLite, SQLite{})
	Register(model.DataSourceClickHouse, ClickHouse{})
}

// For resolves the dialect of a data source type.
func For(t model.DataSourceType) (Dialect, error) {
	registryMu.RLock()
	d, ok := registry[t.Canonical()]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownDialectError{Type: string(t), Available: List()}
	}
	return d, nil
}

// List returns the registered dialect names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

type UnknownDialectError struct {
	Type      string
	Available []string
}

func (e *UnknownDialectError) Error() string {
	return fmt.Sprintf("unknown data source type %q, available: %v", e.Type, e.Available)
}

func quoteWith(name, q string) string {
	return q + strings.ReplaceAll(name, q, q+q) + q
}
