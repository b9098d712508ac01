package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/metricboost/metric-engine/internal/model"
)

// Provider is the definition store of metrics, data models and data sources.
type Provider interface {
	WithDB(func(db *sql.DB))

	GetMetric(ctx context.Context, id int64) (*model.Metric, error)
	ListMetrics(ctx context.Context, params MetricListParams) (*PagedResult[model.Metric], error)

	GetDataSource(ctx context.Context, id int64) (*model.DataSource, error)
	ListDataSources(ctx context.Context) ([]model.DataSource, error)

	GetDataModel(ctx context.Context, id int64) (*model.DataModel, error)
	FindDataModel(ctx context.Context, dataSourceID int64, table string) (*model.DataModel, error)
	ListDataModelTables(ctx context.Context, dataSourceID int64) ([]string, error)

	UpsertDataSource(ctx context.Context, ds *model.DataSource) error
	UpsertDataModel(ctx context.Context, dm *model.DataModel) error
	UpsertMetric(ctx context.Context, m *model.Metric) error

	Close() error
}

func GetDbProvider(ctx context.Context, dbProvider DatabaseProvider) (Provider, error) {
	switch dbProvider {
	case PostGreSQL:
		return newPostGreSQLProvider(ctx)
	case SQLite:
		return newSqliteProvider(ctx)
	default:
		return nil, ValidationError("database provider", fmt.Sprintf("invalid type %q, only %q and %q are supported", dbProvider, PostGreSQL, SQLite))
	}
}
