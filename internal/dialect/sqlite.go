package dialect

import (
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
	sb "github.com/metricboost/metric-engine/internal/sqlbuilder"
)

type SQLite struct{}

func (SQLite) Name() model.DataSourceType { return model.DataSourceSQLite }

func (SQLite) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) Bucket(col sb.Expr, b period.Bucket) sb.Expr {
	var layout string
	switch b {
	case period.BucketWeek:
		layout = "%G-%V"
	case period.BucketMonth:
		layout = "%Y-%m"
	case period.BucketYear:
		layout = "%Y"
	default:
		layout = "%Y-%m-%d"
	}
	return sb.Func("strftime", sb.String(layout), col)
}

func (SQLite) TablesQuery(string) (string, []any) {
	return "SELECT name, '' FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name", nil
}

func (SQLite) ColumnsQuery(_, table string) (string, []any) {
	return "SELECT name, type, '' FROM pragma_table_info(?) ORDER BY cid", []any{table}
}
