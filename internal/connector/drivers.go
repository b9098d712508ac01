package connector

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	_ "modernc.org/sqlite"

	"github.com/metricboost/metric-engine/internal/model"
)

var defaultPorts = map[model.DataSourceType]int{
	model.DataSourceMySQL:      3306,
	model.DataSourcePostgreSQL: 5432,
	model.DataSourceClickHouse: 9000,
}

func hostPort(ds model.DataSource) string {
	port := ds.Port
	if port == 0 {
		port = defaultPorts[ds.Type.Canonical()]
	}
	return net.JoinHostPort(ds.Host, strconv.Itoa(port))
}

func mysqlDSN(ds model.DataSource, dialTimeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = ds.Username
	cfg.Passwd = ds.Password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(ds)
	cfg.DBName = ds.Database
	cfg.Timeout = dialTimeout
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func postgresDSN(ds model.DataSource, dialTimeout time.Duration) string {
	q := url.Values{}
	q.Set("sslmode", "disable")
	q.Set("application_name", "metric-engine")
	if dialTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(max(1, int(dialTimeout.Seconds()))))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(ds.Username, ds.Password),
		Host:     hostPort(ds),
		Path:     "/" + ds.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func clickhouseOptions(ds model.DataSource, dialTimeout time.Duration) *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{hostPort(ds)},
		Auth: clickhouse.Auth{
			Database: ds.Database,
			Username: ds.Username,
			Password: ds.Password,
		},
		DialTimeout: dialTimeout,
	}
}

// openDriver opens a *sql.DB for the data source without touching the network.
func openDriver(_ context.Context, ds model.DataSource, dialTimeout time.Duration) (*sql.DB, error) {
	dbName := semconv.DBNameKey.String(ds.Database)

	switch ds.Type.Canonical() {
	case model.DataSourceMySQL:
		return otelsql.Open("mysql", mysqlDSN(ds, dialTimeout), otelsql.WithAttributes(semconv.DBSystemMySQL, dbName))
	case model.DataSourcePostgreSQL:
		return otelsql.Open("postgres", postgresDSN(ds, dialTimeout), otelsql.WithAttributes(semconv.DBSystemPostgreSQL, dbName))
	case model.DataSourceSQLite:
		return otelsql.Open("sqlite", ds.Database, otelsql.WithAttributes(semconv.DBSystemSqlite, dbName))
	case model.DataSourceClickHouse:
		return otelsql.OpenDB(
			clickhouse.Connector(clickhouseOptions(ds, dialTimeout)),
			otelsql.WithAttributes(attribute.String("db.system", "clickhouse"), dbName),
		), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ds.Type)
}
