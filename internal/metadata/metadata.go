// Package metadata browses the catalog of a data source: its tables, their
// columns merged with a stored role configuration, and paged row previews.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/metricboost/metric-engine/internal/connector"
	"github.com/metricboost/metric-engine/internal/db"
	"github.com/metricboost/metric-engine/internal/dialect"
	"github.com/metricboost/metric-engine/internal/fieldrole"
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/query"
	sb "github.com/metricboost/metric-engine/internal/sqlbuilder"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrModelMismatch = errors.New("data model does not belong to this table")
)

type Store interface {
	GetDataSource(ctx context.Context, id int64) (*model.DataSource, error)
	GetDataModel(ctx context.Context, id int64) (*model.DataModel, error)
	FindDataModel(ctx context.Context, dataSourceID int64, table string) (*model.DataModel, error)
	ListDataModelTables(ctx context.Context, dataSourceID int64) ([]string, error)
}

type Conn interface {
	Execute(ctx context.Context, ds model.DataSource, query string, args ...any) (*connector.Result, error)
	Ping(ctx context.Context, ds model.DataSource) error
}

type Service struct {
	store Store
	conn  Conn
}

func NewService(store Store, conn Conn) *Service {
	return &Service{store: store, conn: conn}
}

type Table struct {
	Name    string `json:"tableName"`
	Comment string `json:"tableComment"`
	// Disabled marks tables that already back a data model.
	Disabled bool `json:"disabled"`
}

// ConnectionStatus is the outcome of a connection test.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

type Preview struct {
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Columns  []string         `json:"columns"`
	Records  []map[string]any `json:"records"`
}

func (s *Service) source(ctx context.Context, id int64) (model.DataSource, dialect.Dialect, error) {
	ds, err := s.store.GetDataSource(ctx, id)
	if err != nil {
		return model.DataSource{}, nil, err
	}
	d, err := dialect.For(ds.Type)
	if err != nil {
		return model.DataSource{}, nil, err
	}
	return *ds, d, nil
}

// TestConnection pings a data source. Disabled data sources are tested too.
// Only a failure to load the data source is returned as error.
func (s *Service) TestConnection(ctx context.Context, id int64) (*ConnectionStatus, error) {
	ds, err := s.store.GetDataSource(ctx, id)
	if err != nil {
		return nil, err
	}
	ds.Status = model.StatusEnabled

	start := time.Now()
	err = s.conn.Ping(ctx, *ds)
	status := &ConnectionStatus{Connected: err == nil, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		status.Kind = connector.KindOf(err).String()
		status.Message = err.Error()
		slog.WarnContext(ctx, "metadata: connection test failed", "datasource", id, "kind", status.Kind, "err", err)
	}
	return status, nil
}

func (s *Service) ListTables(ctx context.Context, id int64) ([]Table, error) {
	ds, d, err := s.source(ctx, id)
	if err != nil {
		return nil, err
	}

	stmt, args := d.TablesQuery(ds.Database)
	res, err := s.conn.Execute(ctx, ds, stmt, args...)
	if err != nil {
		return nil, err
	}

	modeled, err := s.store.ListDataModelTables(ctx, id)
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool, len(modeled))
	for _, t := range modeled {
		used[t] = true
	}

	tables := make([]Table, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) < 2 {
			continue
		}
		name := text(row[0])
		tables = append(tables, Table{Name: name, Comment: text(row[1]), Disabled: used[name]})
	}
	return tables, nil
}

// ColumnMetadata lists the catalog columns of table. When a data model exists
// for the table (or dataModelID names one) its stored roles are merged in by
// column name; columns dropped from the table are not reported.
func (s *Service) ColumnMetadata(ctx context.Context, id int64, table string, dataModelID int64) ([]model.ColumnDescriptor, error) {
	if _, err := query.Table(table); err != nil {
		return nil, err
	}
	ds, d, err := s.source(ctx, id)
	if err != nil {
		return nil, err
	}

	stmt, args := d.ColumnsQuery(ds.Database, table)
	res, err := s.conn.Execute(ctx, ds, stmt, args...)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("%s: %w", table, ErrTableNotFound)
	}

	stored, err := s.storedColumns(ctx, id, table, dataModelID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]model.ColumnDescriptor, len(stored))
	for _, c := range stored {
		byName[c.ColumnName] = c
	}

	cols := make([]model.ColumnDescriptor, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) < 3 {
			continue
		}
		c := model.ColumnDescriptor{ColumnName: text(row[0]), ColumnType: text(row[1]), ColumnComment: text(row[2])}
		if conf, ok := byName[c.ColumnName]; ok {
			c.Role = conf.Role
			c.AggMethod = conf.AggMethod
			c.Format = conf.Format
			c.ExtraCalculation = conf.ExtraCalculation
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func (s *Service) storedColumns(ctx context.Context, id int64, table string, dataModelID int64) ([]model.ColumnDescriptor, error) {
	var (
		dm  *model.DataModel
		err error
	)
	if dataModelID > 0 {
		dm, err = s.store.GetDataModel(ctx, dataModelID)
		if err != nil {
			return nil, err
		}
		if dm.DataSource.ID != id || dm.TableName != table {
			return nil, ErrModelMismatch
		}
	} else {
		dm, err = s.store.FindDataModel(ctx, id, table)
		if db.IsNoResults(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
	if dm.ColumnsConf == "" || dm.ColumnsConf == "[]" {
		return nil, nil
	}
	return fieldrole.Parse(dm.ColumnsConf)
}

// Preview returns one page of the rows of table with the total row count.
func (s *Service) Preview(ctx context.Context, id int64, table string, page, pageSize int) (*Preview, error) {
	from, err := query.Table(table)
	if err != nil {
		return nil, err
	}
	ds, d, err := s.source(ctx, id)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = db.DefaultPageSize
	}
	if pageSize > db.MaxPageSize {
		pageSize = db.MaxPageSize
	}

	countSQL, _ := sb.Render(d, &sb.Select{
		Columns: []sb.Column{{Expr: sb.Func("COUNT", sb.Raw("*")), Alias: "total"}},
		From:    from,
	})
	count, err := s.conn.Execute(ctx, ds, countSQL)
	if err != nil {
		return nil, err
	}
	total := 0
	if len(count.Rows) > 0 && len(count.Rows[0]) > 0 {
		total, err = strconv.Atoi(text(count.Rows[0][0]))
		if err != nil {
			return nil, fmt.Errorf("row count of %s: %w", table, err)
		}
	}

	rowsSQL, _ := sb.Render(d, &sb.Select{
		Columns: []sb.Column{{Expr: sb.Raw("*")}},
		From:    from,
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	})
	rows, err := s.conn.Execute(ctx, ds, rowsSQL)
	if err != nil {
		return nil, err
	}

	return &Preview{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Columns:  rows.Columns,
		Records:  rows.Maps(),
	}, nil
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}
