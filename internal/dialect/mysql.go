package dialect

import (
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
	sb "github.com/metricboost/metric-engine/internal/sqlbuilder"
)

type MySQL struct{}

func (MySQL) Name() model.DataSourceType { return model.DataSourceMySQL }

func (MySQL) QuoteIdent(name string) string { return quoteWith(name, "`") }

func (MySQL) Placeholder(int) string { return "?" }

// %x-%v is the ISO year and ISO week (Monday first).
func (MySQL) Bucket(col sb.Expr, b period.Bucket) sb.Expr {
	var layout string
	switch b {
	case period.BucketWeek:
		layout = "%x-%v"
	case period.BucketMonth:
		layout = "%Y-%m"
	case period.BucketYear:
		layout = "%Y"
	default:
		layout = "%Y-%m-%d"
	}
	return sb.Func("DATE_FORMAT", col, sb.String(layout))
}

func (MySQL) TablesQuery(database string) (string, []any) {
	return "SELECT TABLE_NAME, TABLE_COMMENT FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME", []any{database}
}

func (MySQL) ColumnsQuery(database, table string) (string, []any) {
	return "SELECT COLUMN_NAME, COLUMN_TYPE, COLUMN_COMMENT FROM INFORMATION_SCHEMA.COLUMNS " +
		"WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION", []any{database, table}
}
