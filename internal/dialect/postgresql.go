package dialect

import (
	"fmt"

	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
	sb "github.com/metricboost/metric-engine/internal/sqlbuilder"
)

type PostgreSQL struct{}

func (PostgreSQL) Name() model.DataSourceType { return model.DataSourcePostgreSQL }

func (PostgreSQL) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (PostgreSQL) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (PostgreSQL) Bucket(col sb.Expr, b period.Bucket) sb.Expr {
	var layout string
	switch b {
	case period.BucketWeek:
		layout = "IYYY-IW"
	case period.BucketMonth:
		layout = "YYYY-MM"
	case period.BucketYear:
		layout = "YYYY"
	default:
		layout = "YYYY-MM-DD"
	}
	return sb.Func("to_char", col, sb.String(layout))
}

// The connection already selects the database; tables come from the current
// schema.
func (PostgreSQL) TablesQuery(string) (string, []any) {
	return `SELECT c.relname, COALESCE(obj_description(c.oid, 'pg_class'), '') ` +
		`FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace ` +
		`WHERE c.relkind IN ('r', 'v', 'm', 'p') AND n.nspname = current_schema() ORDER BY c.relname`, nil
}

func (PostgreSQL) ColumnsQuery(_, table string) (string, []any) {
	return `SELECT a.attname, format_type(a.atttypid, a.atttypmod), COALESCE(col_description(a.attrelid, a.attnum), '') ` +
		`FROM pg_attribute a JOIN pg_class c ON c.oid = a.attrelid JOIN pg_namespace n ON n.oid = c.relnamespace ` +
		`WHERE n.nspname = current_schema() AND c.relname = $1 AND a.attnum > 0 AND NOT a.attisdropped ORDER BY a.attnum`, []any{table}
}
