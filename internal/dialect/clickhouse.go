package dialect

import (
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
	sb "github.com/metricboost/metric-engine/internal/sqlbuilder"
)

type ClickHouse struct{}

func (ClickHouse) Name() model.DataSourceType { return model.DataSourceClickHouse }

func (ClickHouse) QuoteIdent(name string) string { return quoteWith(name, "`") }

func (ClickHouse) Placeholder(int) string { return "?" }

func (ClickHouse) Bucket(col sb.Expr, b period.Bucket) sb.Expr {
	switch b {
	case period.BucketWeek:
		return sb.Func("concat",
			sb.Func("toString", sb.Func("toISOYear", col)),
			sb.String("-"),
			sb.Func("leftPad", sb.Func("toString", sb.Func("toISOWeek", col)), sb.Raw("2"), sb.String("0")),
		)
	case period.BucketMonth:
		return sb.Func("formatDateTime", col, sb.String("%Y-%m"))
	case period.BucketYear:
		return sb.Func("formatDateTime", col, sb.String("%Y"))
	default:
		return sb.Func("formatDateTime", col, sb.String("%Y-%m-%d"))
	}
}

func (ClickHouse) TablesQuery(database string) (string, []any) {
	return "SELECT name, comment FROM system.tables WHERE database = ? ORDER BY name", []any{database}
}

func (ClickHouse) ColumnsQuery(database, table string) (string, []any) {
	return "SELECT name, type, comment FROM system.columns WHERE database = ? AND table = ? ORDER BY position", []any{database, table}
}
