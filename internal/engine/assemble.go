package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/metricboost/metric-engine/internal/cache"
	"github.com/metricboost/metric-engine/internal/connector"
	"github.com/metricboost/metric-engine/internal/dialect"
	"github.com/metricboost/metric-engine/internal/fieldrole"
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
	"github.com/metricboost/metric-engine/internal/query"
	"github.com/metricboost/metric-engine/internal/topn"
)

const (
	kindData       = "data"
	kindDimensions = "dims"
)

// AssembleList assembles every metric concurrently. The result has the order
// of metrics; a metric that fails is marked failed and never affects the
// others.
func (e *Engine) AssembleList(ctx context.Context, metrics []model.Metric, params Params) []MetricResult {
	out := make([]MetricResult, len(metrics))

	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for i, m := range metrics {
		g.Go(func() error {
			res, err := e.assemble(ctx, m, params, e.listTopN, false)
			if err != nil {
				e.recordFailure(ctx, m, err)
				res.fail(err)
			}
			out[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// AssembleDetail loads and assembles one metric including the values of its
// dimensions. Missing metrics and invalid requests are returned as errors;
// any other failure is carried inside the result.
func (e *Engine) AssembleDetail(ctx context.Context, id int64, params Params) (*MetricResult, error) {
	m, err := e.store.GetMetric(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := e.assemble(ctx, *m, params, e.detailTopN, true)
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		e.recordFailure(ctx, *m, err)
		res.fail(err)
	}
	return &res, nil
}

// plan is the resolved form of one metric request.
type plan struct {
	metric  model.Metric
	source  model.DataSource
	dialect dialect.Dialect
	columns []model.ColumnDescriptor
	roles   fieldrole.FieldRoles
	sort    model.Sort
}

func (e *Engine) resolve(m model.Metric, params Params) (*plan, error) {
	if m.DataModel.Status == model.StatusDisabled {
		return nil, ErrDataModelDisabled
	}
	cols, err := fieldrole.Parse(m.DataModel.ColumnsConf)
	if err != nil {
		return nil, err
	}
	roles, err := fieldrole.Resolve(cols)
	if err != nil {
		return nil, err
	}
	d, err := dialect.For(m.DataModel.DataSource.Type)
	if err != nil {
		return nil, err
	}
	sort := params.Sort
	if sort == "" {
		sort = model.SortDesc
	}
	return &plan{
		metric:  m,
		source:  m.DataModel.DataSource,
		dialect: d,
		columns: cols,
		roles:   roles,
		sort:    sort,
	}, nil
}

func (e *Engine) assemble(ctx context.Context, m model.Metric, params Params, topN int, detail bool) (MetricResult, error) {
	ctx, span := e.tracer.Start(ctx, "assemble-metric", trace.WithAttributes(
		attribute.Int64("metric.id", m.ID),
		attribute.Int64("datasource.id", m.DataModel.DataSource.ID),
		attribute.Bool("metric.detail", detail),
	))
	defer span.End()

	res := newResult(m)
	err := e.assembleInto(ctx, &res, m, params, topN, detail)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (e *Engine) assembleInto(ctx context.Context, res *MetricResult, m model.Metric, params Params, topN int, detail bool) error {
	p, err := e.resolve(m, params)
	if err != nil {
		return err
	}
	res.MetricFormat = p.roles.MetricFormat
	if len(p.roles.Dimensions) > 0 {
		res.DimCols = p.roles.Dimensions
	}

	statisticalPeriod := params.StatisticalPeriod
	if statisticalPeriod == "" {
		statisticalPeriod = m.StatisticalPeriod
	}
	w := e.planner.Plan(statisticalPeriod, m.StatisticScope, params.DateRange)

	compiled, err := e.compiler.Compile(query.Spec{
		Dialect:   p.dialect,
		Table:     m.DataModel.TableName,
		Window:    w,
		Roles:     p.roles,
		Columns:   p.columns,
		Dimension: params.Dimension,
		Filters:   params.Filters,
		Sort:      p.sort,
	})
	if err != nil {
		return err
	}

	start, end := windowKey(w)
	key := cache.Key(cache.KeyParts{
		MetricID:    m.ID,
		Kind:        kindData,
		Fingerprint: dataModelFingerprint(m.DataModel),
		Dialect:     string(p.dialect.Name()),
		Period:      string(w.Period),
		WindowStart: start,
		WindowEnd:   end,
		Dimension:   params.Dimension,
		Filters:     compiled.Filters,
		Sort:        string(p.sort),
		RankLimit:   e.compiler.RankLimit(),
	})

	rows, err := e.loadRows(ctx, key, p.source, compiled)
	if err != nil {
		return err
	}
	if params.Dimension != "" {
		rows = topn.Truncate(rows, topN, p.sort)
	}
	if !w.Cumulative() {
		rows = fillGaps(rows, w.Labels)
	}
	res.Data = points(rows, params.Dimension)

	if detail {
		dims, err := e.dimensionValues(ctx, p, params.DateRange)
		if err != nil {
			return err
		}
		res.DimData = dims
	}
	return nil
}

func (e *Engine) loadRows(ctx context.Context, key string, ds model.DataSource, c *query.Compiled) ([]topn.Row, error) {
	b, err := e.loader.Load(ctx, key, func(ctx context.Context) ([]byte, error) {
		res, err := e.exec.Execute(ctx, ds, c.SQL, c.Args...)
		if err != nil {
			return nil, err
		}
		rows, err := resultRows(res)
		if err != nil {
			return nil, err
		}
		return json.Marshal(rows)
	})
	if err != nil {
		return nil, err
	}
	return decodeRows(b)
}

func resultRows(res *connector.Result) ([]cachedRow, error) {
	periodIdx, dimIdx, valueIdx := res.Index(query.ColPeriod), res.Index(query.ColDimension), res.Index(query.ColValue)
	if periodIdx < 0 || valueIdx < 0 {
		return nil, fmt.Errorf("result is missing the %s or %s column", query.ColPeriod, query.ColValue)
	}

	rows := make([]cachedRow, 0, len(res.Rows))
	for _, r := range res.Rows {
		v, err := toFloat(r[valueIdx])
		if err != nil {
			return nil, fmt.Errorf("value of period %v: %w", r[periodIdx], err)
		}
		row := cachedRow{Period: toLabel(r[periodIdx]), Value: v}
		if dimIdx >= 0 {
			row.Dimension = r[dimIdx]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// dimensionValues lists the selectable values of every dimension within the
// last dimensionScope days or the requested range.
func (e *Engine) dimensionValues(ctx context.Context, p *plan, r *period.DateRange) ([]map[string][]any, error) {
	w := e.planner.Plan(model.PeriodDaily, dimensionScope, r)
	start, end := windowKey(w)
	fingerprint := dataModelFingerprint(p.metric.DataModel)

	out := make([]map[string][]any, 0, len(p.roles.Dimensions))
	for _, dim := range p.roles.Dimensions {
		c, err := e.compiler.CompileDistinct(p.dialect, p.metric.DataModel.TableName, w, p.roles, dim.Value)
		if err != nil {
			return nil, err
		}
		key := cache.Key(cache.KeyParts{
			MetricID:    p.metric.ID,
			Kind:        kindDimensions,
			Fingerprint: fingerprint,
			Dialect:     string(p.dialect.Name()),
			Period:      string(w.Period),
			WindowStart: start,
			WindowEnd:   end,
			Dimension:   dim.Value,
		})

		b, err := e.loader.Load(ctx, key, func(ctx context.Context) ([]byte, error) {
			res, err := e.exec.Execute(ctx, p.source, c.SQL, c.Args...)
			if err != nil {
				return nil, err
			}
			values := []any{}
			for _, row := range res.Rows {
				if len(row) == 0 || blankDimensionValue(row[0]) {
					continue
				}
				values = append(values, row[0])
			}
			return json.Marshal(values)
		})
		if err != nil {
			return nil, err
		}
		values, err := decodeValues(b)
		if err != nil {
			return nil, err
		}
		out = append(out, map[string][]any{dim.Value: values})
	}
	return out, nil
}

func windowKey(w period.Window) (string, string) {
	if w.Bound.Kind == period.BoundAll {
		if len(w.Labels) > 0 {
			return "", w.Labels[0]
		}
		return "", ""
	}
	return w.Bound.Start.Format(period.DateLayout), w.Bound.End.Format(period.DateLayout)
}

// dataModelFingerprint changes whenever the table, the column configuration or
// the connection of a data model changes.
func dataModelFingerprint(dm model.DataModel) string {
	h := xxhash.New()
	for _, part := range []string{strconv.FormatInt(dm.ID, 10), dm.TableName, dm.ColumnsConf, dm.DataSource.Fingerprint()} {
		_, _ = h.WriteString(part)
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func (e *Engine) recordFailure(ctx context.Context, m model.Metric, err error) {
	reason := Reason(err)
	e.failures.WithLabelValues(reason).Inc()
	slog.ErrorContext(ctx, "engine: metric failed",
		"metric", m.ID,
		"datasource", m.DataModel.DataSource.ID,
		"reason", reason,
		"err", err,
	)
}

// IsValidation reports whether err is caused by an invalid request.
func IsValidation(err error) bool {
	var qerr *query.ValidationError
	return errors.As(err, &qerr)
}
