package db

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/metricboost/metric-engine/internal/config"
)

func newMockPostgres(t *testing.T) (*PostGreSQLProvider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &PostGreSQLProvider{store: store{db: db, qc: NewPostgreSQLQueryContext()}}, mock
}

func TestPostGreSQLProvider_ListMetrics(t *testing.T) {
	tests := []struct {
		name          string
		params        MetricListParams
		expectedError bool
		setupFunc     func(mock sqlmock.Sqlmock)
	}{
		{
			name:   "filters are numbered placeholders",
			params: MetricListParams{Sensitivity: "3", NameOrDesc: "GMV"},
			setupFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM metrics m WHERE (LOWER(m.metric_name) LIKE $1 OR LOWER(m.metric_desc) LIKE $2) AND m.sensitivity = $3`)).
					WithArgs("%gmv%", "%gmv%", "3").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY m.id DESC LIMIT $4 OFFSET $5`)).
					WithArgs("%gmv%", "%gmv%", "3", 10, 0).
					WillReturnRows(sqlmock.NewRows(nil))
			},
		},
		{
			name:          "count failure",
			params:        MetricListParams{},
			expectedError: true,
			setupFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM metrics m`)).WillReturnError(errors.New("relation \"metrics\" does not exist"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, mock := newMockPostgres(t)
			tt.setupFunc(mock)

			result, err := provider.ListMetrics(context.Background(), tt.params)
			if tt.expectedError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Empty(t, result.Data)
				assert.Equal(t, 0, result.TotalPages)
				assert.Equal(t, 1, result.Page)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostGreSQLProvider_GetMetricNotFound(t *testing.T) {
	provider, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE m.id = $1`)).WithArgs(int64(42)).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := provider.GetMetric(context.Background(), 42)
	assert.True(t, IsNoResults(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostGreSQLProvider_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgc, err := postgres.Run(ctx, "postgres:16",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Skipping postgres integration (Docker not available): %v", err)
	}
	t.Cleanup(func() { _ = pgc.Terminate(ctx) })

	host, err := pgc.Host(ctx)
	require.NoError(t, err)
	port, err := pgc.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	previous := config.DefaultConfig.Database.PostgreSQL
	t.Cleanup(func() { config.DefaultConfig.Database.PostgreSQL = previous })

	config.DefaultConfig.Database.PostgreSQL.Addr = host
	config.DefaultConfig.Database.PostgreSQL.Port = port.Int()
	config.DefaultConfig.Database.PostgreSQL.User = "testuser"
	config.DefaultConfig.Database.PostgreSQL.Password = "testpass"
	config.DefaultConfig.Database.PostgreSQL.Database = "testdb"
	config.DefaultConfig.Database.PostgreSQL.SSLMode = "disable"
	config.DefaultConfig.Database.PostgreSQL.DialTimeout = 5 * time.Second

	prov, err := GetDbProvider(ctx, PostGreSQL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = prov.Close() })

	runStoreSuite(t, prov)
}
