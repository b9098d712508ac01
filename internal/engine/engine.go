// Package engine turns metric definitions into chart-ready series: it plans
// the period window, compiles and executes the aggregate query through the
// result cache, and shapes the rows for the dashboard.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/metricboost/metric-engine/internal/cache"
	"github.com/metricboost/metric-engine/internal/config"
	"github.com/metricboost/metric-engine/internal/connector"
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
	"github.com/metricboost/metric-engine/internal/query"
)

const (
	defaultMaxConcurrency = 8
	defaultListTopN       = 30
	defaultDetailTopN     = 10

	// dimensionScope is the daily look-back of dimension value lookups
	// without an explicit range.
	dimensionScope = 30
)

// Store loads metric definitions.
type Store interface {
	GetMetric(ctx context.Context, id int64) (*model.Metric, error)
}

// Executor runs a statement against a data source.
type Executor interface {
	Execute(ctx context.Context, ds model.DataSource, query string, args ...any) (*connector.Result, error)
}

// Params are the caller supplied overrides of one request.
type Params struct {
	// DateRange replaces the metric's default look-back when set.
	DateRange         *period.DateRange
	StatisticalPeriod model.StatisticalPeriod
	Dimension         string
	Filters           []string
	Sort              model.Sort
}

type Engine struct {
	store    Store
	exec     Executor
	loader   *cache.Loader
	planner  *period.Planner
	compiler *query.Compiler
	tracer   trace.Tracer

	maxConcurrency int
	listTopN       int
	detailTopN     int

	failures *prometheus.CounterVec
}

type Option func(*engineOptions)

type engineOptions struct {
	clock clockwork.Clock
	reg   prometheus.Registerer
}

// WithClock replaces the wall clock that decides "today".
func WithClock(c clockwork.Clock) Option {
	return func(o *engineOptions) { o.clock = c }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *engineOptions) { o.reg = reg }
}

func New(cfg config.EngineConfig, store Store, exec Executor, loader *cache.Loader, opts ...Option) (*Engine, error) {
	if store == nil || exec == nil {
		return nil, errors.New("engine: store and executor are required")
	}
	o := engineOptions{clock: clockwork.NewRealClock(), reg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if loader == nil {
		loader = cache.NewLoader(cache.Noop{}, o.reg)
	}

	e := &Engine{
		store:          store,
		exec:           exec,
		loader:         loader,
		planner:        period.NewPlanner(o.clock, loc),
		compiler:       query.NewCompiler(cfg.RankLimit),
		tracer:         otel.Tracer("metric-engine"),
		maxConcurrency: orDefault(cfg.MaxConcurrency, defaultMaxConcurrency),
		listTopN:       orDefault(cfg.ListTopN, defaultListTopN),
		detailTopN:     orDefault(cfg.DetailTopN, defaultDetailTopN),
		failures: promauto.With(o.reg).NewCounterVec(prometheus.CounterOpts{
			Name: "metric_engine_metric_failures_total",
			Help: "Total number of metrics that could not be assembled by reason",
		}, []string{"reason"}),
	}
	return e, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Location is the time zone calendar dates are computed in.
func (e *Engine) Location() *time.Location {
	return e.planner.Location()
}
