// Package connector runs read-only statements against the data sources a
// metric is defined on.
package connector

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/metricboost/metric-engine/internal/config"
	"github.com/metricboost/metric-engine/internal/model"
)

// Opener creates a database handle for a data source. It must not assume the
// data source is reachable; the connector pings every fresh handle.
type Opener func(ctx context.Context, ds model.DataSource) (*sql.DB, error)

// Result is the materialized output of a statement. Driver byte slices are
// converted to strings.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Index returns the position of the named column, or -1.
func (r *Result) Index(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Maps returns every row keyed by column name.
func (r *Result) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, c := range r.Columns {
			m[c] = row[i]
		}
		out = append(out, m)
	}
	return out
}

type pool struct {
	fingerprint string
	db          *sql.DB
	// refs counts in-flight users; a retired pool closes when it drops to zero.
	refs    int
	retired bool
}

type Connector struct {
	cfg          config.ConnectorConfig
	open         Opener
	queryTimeout time.Duration

	mu    sync.Mutex
	pools map[int64]*pool

	queryDuration *prometheus.HistogramVec
}

type Option func(*Connector)

// WithOpener replaces the driver based opener.
func WithOpener(open Opener) Option {
	return func(c *Connector) {
		c.open = open
	}
}

func WithQueryTimeout(d time.Duration) Option {
	return func(c *Connector) {
		c.queryTimeout = d
	}
}

func New(cfg config.ConnectorConfig, reg prometheus.Registerer, opts ...Option) *Connector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Connector{
		cfg:   cfg,
		pools: make(map[int64]*pool),
	}
	c.open = func(ctx context.Context, ds model.DataSource) (*sql.DB, error) {
		return openDriver(ctx, ds, c.cfg.DialTimeout)
	}
	for _, opt := range opts {
		opt(c)
	}

	c.queryDuration = promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metric_engine_query_duration_seconds",
		Help:    "Duration of data source queries in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"dialect", "status"})

	return c
}

func (c *Connector) pooled() bool {
	return c.cfg.Mode == config.ConnectorModePooled
}

func closeDB(db io.Closer, ds model.DataSource) {
	if err := db.Close(); err != nil {
		slog.Warn("connector: error closing connection", "datasource", ds.ID, "err", err)
	}
}

func (c *Connector) dial(ctx context.Context, ds model.DataSource) (*sql.DB, error) {
	db, err := c.open(ctx, ds)
	if err != nil {
		return nil, &ConnectionError{DataSource: ds.ID, Type: ds.Type, Op: "open", Err: err}
	}
	if c.pooled() {
		if c.cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(c.cfg.MaxOpenConns)
		}
		if c.cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(c.cfg.MaxIdleConns)
		}
		if c.cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(c.cfg.ConnMaxLifetime)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		closeDB(db, ds)
		return nil, &ConnectionError{DataSource: ds.ID, Type: ds.Type, Op: "ping", Err: err}
	}
	return db, nil
}

// acquire returns a handle and the function that releases it. In ephemeral
// mode the release closes the handle. Pooled handles are dialed outside the
// lock; a replaced pool is closed once its last user releases it.
func (c *Connector) acquire(ctx context.Context, ds model.DataSource) (*sql.DB, func(), error) {
	if !c.pooled() {
		db, err := c.dial(ctx, ds)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { closeDB(db, ds) }, nil
	}

	fp := ds.Fingerprint()

	c.mu.Lock()
	if p, ok := c.pools[ds.ID]; ok && p.fingerprint == fp {
		p.refs++
		c.mu.Unlock()
		return p.db, c.releaser(p, ds), nil
	}
	c.mu.Unlock()

	db, err := c.dial(ctx, ds)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	var stale *pool
	if p, ok := c.pools[ds.ID]; ok {
		if p.fingerprint == fp {
			p.refs++
			c.mu.Unlock()
			closeDB(db, ds)
			return p.db, c.releaser(p, ds), nil
		}
		slog.Info("connector: data source changed, replacing pool", "datasource", ds.ID)
		p.retired = true
		if p.refs == 0 {
			stale = p
		}
	}
	p := &pool{fingerprint: fp, db: db, refs: 1}
	c.pools[ds.ID] = p
	c.mu.Unlock()

	if stale != nil {
		closeDB(stale.db, ds)
	}
	return db, c.releaser(p, ds), nil
}

func (c *Connector) releaser(p *pool, ds model.DataSource) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			p.refs--
			closeNow := p.retired && p.refs == 0
			c.mu.Unlock()
			if closeNow {
				closeDB(p.db, ds)
			}
		})
	}
}

// WithConnection runs fn with a connection to the data source. The
// connection is released on every exit path.
func (c *Connector) WithConnection(ctx context.Context, ds model.DataSource, fn func(db *sql.DB) error) error {
	if !ds.Enabled() {
		return &ConnectionError{DataSource: ds.ID, Type: ds.Type, Op: "open", Err: ErrDataSourceDisabled}
	}

	db, release, err := c.acquire(ctx, ds)
	if err != nil {
		return err
	}
	defer release()

	return fn(db)
}

// Execute runs a read-only statement and materializes its rows.
func (c *Connector) Execute(ctx context.Context, ds model.DataSource, query string, args ...any) (*Result, error) {
	start := time.Now()

	var res *Result
	err := c.WithConnection(ctx, ds, func(db *sql.DB) error {
		qctx := ctx
		if c.queryTimeout > 0 {
			var cancel context.CancelFunc
			qctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
			defer cancel()
		}

		rows, err := db.QueryContext(qctx, query, args...)
		if err != nil {
			if ctxErr := qctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = errors.Join(err, ctxErr)
			}
			return &QueryError{DataSource: ds.ID, SQL: query, Err: err}
		}
		defer func() {
			if err := rows.Close(); err != nil {
				slog.Warn("connector: error closing rows", "datasource", ds.ID, "err", err)
			}
		}()

		res, err = scan(rows)
		if err != nil {
			return &QueryError{DataSource: ds.ID, SQL: query, Err: err}
		}
		return nil
	})

	status := "success"
	if err != nil {
		status = "failure"
		slog.ErrorContext(ctx, "connector: query failed", "datasource", ds.ID, "type", ds.Type, "kind", KindOf(err), "err", err)
	}
	c.queryDuration.WithLabelValues(string(ds.Type.Canonical()), status).Observe(time.Since(start).Seconds())

	return res, err
}

// Ping checks that the data source accepts connections.
func (c *Connector) Ping(ctx context.Context, ds model.DataSource) error {
	return c.WithConnection(ctx, ds, func(db *sql.DB) error {
		if err := db.PingContext(ctx); err != nil {
			return &ConnectionError{DataSource: ds.ID, Type: ds.Type, Op: "ping", Err: err}
		}
		return nil
	})
}

// Close releases every pooled handle.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for id, p := range c.pools {
		delete(c.pools, id)
		p.retired = true
		if p.refs > 0 {
			continue
		}
		if err := p.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func scan(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
