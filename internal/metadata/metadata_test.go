package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/metricboost/metric-engine/internal/config"
	"github.com/metricboost/metric-engine/internal/connector"
	"github.com/metricboost/metric-engine/internal/db"
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/query"
)

type fakeStore struct {
	sources map[int64]model.DataSource
	models  []model.DataModel
}

func (s *fakeStore) GetDataSource(_ context.Context, id int64) (*model.DataSource, error) {
	ds, ok := s.sources[id]
	if !ok {
		return nil, db.NotFoundError("data source", id)
	}
	return &ds, nil
}

func (s *fakeStore) GetDataModel(_ context.Context, id int64) (*model.DataModel, error) {
	for _, dm := range s.models {
		if dm.ID == id {
			return &dm, nil
		}
	}
	return nil, db.NotFoundError("data model", id)
}

func (s *fakeStore) FindDataModel(_ context.Context, dsID int64, table string) (*model.DataModel, error) {
	for _, dm := range s.models {
		if dm.DataSource.ID == dsID && dm.TableName == table {
			return &dm, nil
		}
	}
	return nil, db.NotFoundError("data model of table", table)
}

func (s *fakeStore) ListDataModelTables(_ context.Context, dsID int64) ([]string, error) {
	var out []string
	for _, dm := range s.models {
		if dm.DataSource.ID == dsID {
			out = append(out, dm.TableName)
		}
	}
	return out, nil
}

func newService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer conn.Close()

	for _, stmt := range []string{
		`CREATE TABLE orders (created_at TEXT, region TEXT, amount REAL)`,
		`CREATE TABLE customers (id INTEGER, name TEXT)`,
	} {
		_, err := conn.Exec(stmt)
		require.NoError(t, err)
	}
	for i := range 25 {
		_, err := conn.Exec(`INSERT INTO orders VALUES (?, ?, ?)`, fmt.Sprintf("2024-01-%02d", i+1), "north", float64(i))
		require.NoError(t, err)
	}

	ds := model.DataSource{ID: 1, Name: "warehouse", Type: model.DataSourceSQLite, Database: path, Status: model.StatusEnabled}
	store := &fakeStore{
		sources: map[int64]model.DataSource{
			1: ds,
			2: {ID: 2, Name: "gone", Type: model.DataSourceSQLite, Database: filepath.Join(t.TempDir(), "missing", "x.db"), Status: model.StatusDisabled},
		},
		models: []model.DataModel{{
			ID:          7,
			TableName:   "orders",
			DataSource:  ds,
			ColumnsConf: `[{"columnName":"created_at","staticType":"date"},{"columnName":"amount","staticType":"metric","aggMethod":"sum","format":"currency"},{"columnName":"dropped","staticType":"dim"}]`,
		}},
	}

	c := connector.New(config.ConnectorConfig{}, prometheus.NewRegistry())
	t.Cleanup(func() { _ = c.Close() })
	return NewService(store, c), store
}

func TestService_ListTables(t *testing.T) {
	s, _ := newService(t)

	tables, err := s.ListTables(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []Table{
		{Name: "customers"},
		{Name: "orders", Disabled: true},
	}, tables)

	_, err = s.ListTables(context.Background(), 99)
	assert.True(t, db.IsNoResults(err))
}

func TestService_ColumnMetadata(t *testing.T) {
	s, store := newService(t)
	ctx := context.Background()

	cols, err := s.ColumnMetadata(ctx, 1, "orders", 0)
	require.NoError(t, err)
	assert.Equal(t, []model.ColumnDescriptor{
		{ColumnName: "created_at", ColumnType: "TEXT", Role: model.RoleDate},
		{ColumnName: "region", ColumnType: "TEXT"},
		{ColumnName: "amount", ColumnType: "REAL", Role: model.RoleMetric, AggMethod: model.AggSum, Format: "currency"},
	}, cols)

	cols, err = s.ColumnMetadata(ctx, 1, "customers", 0)
	require.NoError(t, err)
	assert.Equal(t, []model.ColumnDescriptor{
		{ColumnName: "id", ColumnType: "INTEGER"},
		{ColumnName: "name", ColumnType: "TEXT"},
	}, cols, "no data model means bare catalog columns")

	_, err = s.ColumnMetadata(ctx, 1, "customers", 7)
	assert.ErrorIs(t, err, ErrModelMismatch)

	_, err = s.ColumnMetadata(ctx, 1, "nope", 0)
	assert.ErrorIs(t, err, ErrTableNotFound)

	_, err = s.ColumnMetadata(ctx, 1, "orders; DROP TABLE orders", 0)
	var verr *query.ValidationError
	assert.ErrorAs(t, err, &verr)

	store.models[0].ColumnsConf = `{"broken"`
	_, err = s.ColumnMetadata(ctx, 1, "orders", 0)
	assert.Error(t, err)
}

func TestService_Preview(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	p, err := s.Preview(ctx, 1, "orders", 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 25, p.Total)
	assert.Equal(t, []string{"created_at", "region", "amount"}, p.Columns)
	require.Len(t, p.Records, 5)
	assert.Equal(t, "2024-01-21", p.Records[0]["created_at"])

	p, err = s.Preview(ctx, 1, "customers", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Total)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, db.DefaultPageSize, p.PageSize)
	assert.Empty(t, p.Records)
}

func TestService_TestConnection(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	status, err := s.TestConnection(ctx, 1)
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Empty(t, status.Message)

	status, err = s.TestConnection(ctx, 2)
	require.NoError(t, err)
	assert.False(t, status.Connected, "disabled sources are still tested")
	assert.NotEmpty(t, status.Message)
	assert.NotEmpty(t, status.Kind)

	_, err = s.TestConnection(ctx, 404)
	assert.True(t, db.IsNoResults(err))
}
