package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/metricboost/metric-engine/internal/model"
)

// store implements Provider on top of database/sql. The SQL is written with
// ? placeholders and rebound for the dialect.
type store struct {
	mu sync.RWMutex
	db *sql.DB
	qc *QueryBuildingContext
}

const (
	dataSourceColumns = `ds.id, ds.name, ds.type, ds.host, ds.port, ds.username, ds.password, ds.database_name, ds.status, ds.description`
	dataModelColumns  = `dm.id, dm.name, dm.description, dm.table_name, dm.columns_conf, dm.status`
	metricColumns     = `m.id, m.metric_name, m.metric_desc, m.statistical_period, m.statistic_scope, m.chart_type, m.sensitivity, m.create_time, m.update_time`

	selectMetricStmt = `SELECT ` + metricColumns + `, ` + dataModelColumns + `, ` + dataSourceColumns + `
		FROM metrics m
		JOIN data_models dm ON dm.id = m.data_model_id
		JOIN data_sources ds ON ds.id = dm.data_source_id`

	selectDataModelStmt = `SELECT ` + dataModelColumns + `, ` + dataSourceColumns + `
		FROM data_models dm
		JOIN data_sources ds ON ds.id = dm.data_source_id`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *store) WithDB(f func(db *sql.DB)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f(s.db)
}

func (s *store) Close() error {
	return s.db.Close()
}

func scanDataSource(ds *model.DataSource) []any {
	return []any{&ds.ID, &ds.Name, &ds.Type, &ds.Host, &ds.Port, &ds.Username, &ds.Password, &ds.Database, &ds.Status, &ds.Description}
}

func scanDataModel(dm *model.DataModel) []any {
	return append(
		[]any{&dm.ID, &dm.Name, &dm.Description, &dm.TableName, &dm.ColumnsConf, &dm.Status},
		scanDataSource(&dm.DataSource)...,
	)
}

func scanMetric(r rowScanner) (model.Metric, error) {
	var m model.Metric
	dest := append(
		[]any{&m.ID, &m.MetricName, &m.MetricDesc, &m.StatisticalPeriod, &m.StatisticScope, &m.ChartType, &m.Sensitivity, &m.CreateTime, &m.UpdateTime},
		scanDataModel(&m.DataModel)...,
	)
	if err := r.Scan(dest...); err != nil {
		return model.Metric{}, err
	}
	return m, nil
}

func (s *store) GetMetric(ctx context.Context, id int64) (*model.Metric, error) {
	row := s.db.QueryRowContext(ctx, s.qc.Rebind(selectMetricStmt+` WHERE m.id = ?`), id)
	m, err := scanMetric(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundError("metric", id)
	}
	if err != nil {
		return nil, QueryError(err, "get metric", fmt.Sprintf("id=%d", id))
	}

	tags, err := s.tagsOf(ctx, []int64{m.ID})
	if err != nil {
		return nil, err
	}
	m.Tags = tags[m.ID]
	return &m, nil
}

func (s *store) ListMetrics(ctx context.Context, params MetricListParams) (*PagedResult[model.Metric], error) {
	page, size := normalizePage(params.Page, params.PageSize)

	var (
		where []string
		args  []any
	)
	if params.NameOrDesc != "" {
		where = append(where, `(LOWER(m.metric_name) LIKE ? OR LOWER(m.metric_desc) LIKE ?)`)
		like := "%" + strings.ToLower(params.NameOrDesc) + "%"
		args = append(args, like, like)
	}
	if params.Sensitivity != "" {
		where = append(where, `m.sensitivity = ?`)
		args = append(args, params.Sensitivity)
	}
	if params.StatisticalPeriod != "" {
		where = append(where, `m.statistical_period = ?`)
		args = append(args, params.StatisticalPeriod)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.qc.Rebind(`SELECT COUNT(*) FROM metrics m`+clause), args...).Scan(&total); err != nil {
		return nil, QueryError(err, "count metrics", "")
	}

	query := s.qc.Rebind(selectMetricStmt + clause + ` ORDER BY m.id DESC LIMIT ? OFFSET ?`)
	rows, err := ExecuteQuery(ctx, s.db, query, append(args, size, (page-1)*size)...)
	if err != nil {
		return nil, err
	}
	defer CloseResource(rows)

	metrics := make([]model.Metric, 0, size)
	ids := make([]int64, 0, size)
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, ErrorWithOperation(err, "scanning metric")
		}
		metrics = append(metrics, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, ErrorWithOperation(err, "row iteration")
	}

	tags, err := s.tagsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range metrics {
		metrics[i].Tags = tags[metrics[i].ID]
	}

	return &PagedResult[model.Metric]{
		TotalPages: totalPages(total, size),
		Total:      total,
		Page:       page,
		PageSize:   size,
		Data:       metrics,
	}, nil
}

func (s *store) tagsOf(ctx context.Context, ids []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := s.qc.Rebind(`SELECT metric_id, tag FROM metric_tags WHERE metric_id IN (` + placeholders + `) ORDER BY metric_id, tag`)

	rows, err := ExecuteQuery(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer CloseResource(rows)

	for rows.Next() {
		var (
			id  int64
			tag string
		)
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, ErrorWithOperation(err, "scanning tag")
		}
		out[id] = append(out[id], tag)
	}
	return out, rows.Err()
}

func (s *store) GetDataSource(ctx context.Context, id int64) (*model.DataSource, error) {
	var ds model.DataSource
	query := s.qc.Rebind(`SELECT ` + dataSourceColumns + ` FROM data_sources ds WHERE ds.id = ?`)
	err := s.db.QueryRowContext(ctx, query, id).Scan(scanDataSource(&ds)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundError("data source", id)
	}
	if err != nil {
		return nil, QueryError(err, "get data source", fmt.Sprintf("id=%d", id))
	}
	return &ds, nil
}

func (s *store) ListDataSources(ctx context.Context) ([]model.DataSource, error) {
	rows, err := ExecuteQuery(ctx, s.db, `SELECT `+dataSourceColumns+` FROM data_sources ds ORDER BY ds.id`)
	if err != nil {
		return nil, err
	}
	defer CloseResource(rows)

	var out []model.DataSource
	for rows.Next() {
		var ds model.DataSource
		if err := rows.Scan(scanDataSource(&ds)...); err != nil {
			return nil, ErrorWithOperation(err, "scanning data source")
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func (s *store) GetDataModel(ctx context.Context, id int64) (*model.DataModel, error) {
	var dm model.DataModel
	err := s.db.QueryRowContext(ctx, s.qc.Rebind(selectDataModelStmt+` WHERE dm.id = ?`), id).Scan(scanDataModel(&dm)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundError("data model", id)
	}
	if err != nil {
		return nil, QueryError(err, "get data model", fmt.Sprintf("id=%d", id))
	}
	return &dm, nil
}

// FindDataModel returns the most recent data model of a table.
func (s *store) FindDataModel(ctx context.Context, dataSourceID int64, table string) (*model.DataModel, error) {
	var dm model.DataModel
	query := s.qc.Rebind(selectDataModelStmt + ` WHERE dm.data_source_id = ? AND dm.table_name = ? ORDER BY dm.id DESC LIMIT 1`)
	err := s.db.QueryRowContext(ctx, query, dataSourceID, table).Scan(scanDataModel(&dm)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundError("data model of table", table)
	}
	if err != nil {
		return nil, QueryError(err, "find data model", table)
	}
	return &dm, nil
}

// ListDataModelTables returns the tables of a data source that already have a data model.
func (s *store) ListDataModelTables(ctx context.Context, dataSourceID int64) ([]string, error) {
	query := s.qc.Rebind(`SELECT DISTINCT table_name FROM data_models WHERE data_source_id = ? ORDER BY table_name`)
	rows, err := ExecuteQuery(ctx, s.db, query, dataSourceID)
	if err != nil {
		return nil, err
	}
	defer CloseResource(rows)

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, ErrorWithOperation(err, "scanning table name")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertDataSource inserts ds when its ID is zero and updates it otherwise.
func (s *store) UpsertDataSource(ctx context.Context, ds *model.DataSource) error {
	if ds.Status == "" {
		ds.Status = model.StatusEnabled
	}
	args := []any{ds.Name, string(ds.Type), ds.Host, ds.Port, ds.Username, ds.Password, ds.Database, string(ds.Status), ds.Description}

	if ds.ID == 0 {
		query := s.qc.Rebind(`INSERT INTO data_sources (name, type, host, port, username, password, database_name, status, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&ds.ID); err != nil {
			return QueryError(err, "insert data source", ds.Name)
		}
		return nil
	}

	query := s.qc.Rebind(`UPDATE data_sources SET name = ?, type = ?, host = ?, port = ?, username = ?, password = ?,
		database_name = ?, status = ?, description = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`)
	return s.update(ctx, "data source", ds.ID, query, append(args, ds.ID)...)
}

// UpsertDataModel stores dm. Columns are encoded into ColumnsConf when no raw
// configuration is set.
func (s *store) UpsertDataModel(ctx context.Context, dm *model.DataModel) error {
	if dm.DataSource.ID == 0 {
		return ValidationError("data model", "data source id is required")
	}
	if dm.ColumnsConf == "" {
		columns := dm.Columns
		if columns == nil {
			columns = []model.ColumnDescriptor{}
		}
		b, err := json.Marshal(columns)
		if err != nil {
			return ErrorWithOperation(err, "encoding column configuration")
		}
		dm.ColumnsConf = string(b)
	}
	if dm.Status == "" {
		dm.Status = model.StatusEnabled
	}
	args := []any{dm.DataSource.ID, dm.Name, dm.Description, dm.TableName, dm.ColumnsConf, string(dm.Status)}

	if dm.ID == 0 {
		query := s.qc.Rebind(`INSERT INTO data_models (data_source_id, name, description, table_name, columns_conf, status)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&dm.ID); err != nil {
			return QueryError(err, "insert data model", dm.Name)
		}
		return nil
	}

	query := s.qc.Rebind(`UPDATE data_models SET data_source_id = ?, name = ?, description = ?, table_name = ?,
		columns_conf = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`)
	return s.update(ctx, "data model", dm.ID, query, append(args, dm.ID)...)
}

// UpsertMetric stores m and replaces its tags in one transaction.
func (s *store) UpsertMetric(ctx context.Context, m *model.Metric) error {
	if m.DataModel.ID == 0 {
		return ValidationError("metric", "data model id is required")
	}
	if m.StatisticalPeriod == "" {
		m.StatisticalPeriod = model.PeriodDaily
	}
	if !m.StatisticalPeriod.Valid() {
		return ValidationError("metric", fmt.Sprintf("unknown statistical period %q", m.StatisticalPeriod))
	}
	if m.Sensitivity == "" {
		m.Sensitivity = model.SensitivityLow
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ErrorWithOperation(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{m.DataModel.ID, m.MetricName, m.MetricDesc, string(m.StatisticalPeriod), m.StatisticScope, string(m.ChartType), string(m.Sensitivity)}
	if m.ID == 0 {
		query := s.qc.Rebind(`INSERT INTO metrics (data_model_id, metric_name, metric_desc, statistical_period, statistic_scope, chart_type, sensitivity)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&m.ID); err != nil {
			return QueryError(err, "insert metric", m.MetricName)
		}
	} else {
		query := s.qc.Rebind(`UPDATE metrics SET data_model_id = ?, metric_name = ?, metric_desc = ?, statistical_period = ?,
			statistic_scope = ?, chart_type = ?, sensitivity = ?, update_time = CURRENT_TIMESTAMP WHERE id = ?`)
		res, err := tx.ExecContext(ctx, query, append(args, m.ID)...)
		if err != nil {
			return QueryError(err, "update metric", m.MetricName)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return NotFoundError("metric", m.ID)
		}
	}

	if _, err := tx.ExecContext(ctx, s.qc.Rebind(`DELETE FROM metric_tags WHERE metric_id = ?`), m.ID); err != nil {
		return QueryError(err, "delete metric tags", "")
	}
	seen := make(map[string]struct{}, len(m.Tags))
	for _, tag := range m.Tags {
		if _, dup := seen[tag]; dup || tag == "" {
			continue
		}
		seen[tag] = struct{}{}
		if _, err := tx.ExecContext(ctx, s.qc.Rebind(`INSERT INTO metric_tags (metric_id, tag) VALUES (?, ?)`), m.ID, tag); err != nil {
			return QueryError(err, "insert metric tag", tag)
		}
	}

	if err := tx.Commit(); err != nil {
		return ErrorWithOperation(err, "commit transaction")
	}
	return nil
}

func (s *store) update(ctx context.Context, entity string, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return QueryError(err, "update "+entity, fmt.Sprintf("id=%d", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ErrorWithOperation(err, "update "+entity)
	}
	if n == 0 {
		return NotFoundError(entity, id)
	}
	return nil
}
