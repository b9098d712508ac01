// Package probe periodically checks that data sources accept connections.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/metricboost/metric-engine/internal/config"
	"github.com/metricboost/metric-engine/internal/model"
)

const maxParallelPings = 4

type Store interface {
	ListDataSources(ctx context.Context) ([]model.DataSource, error)
}

type Pinger interface {
	Ping(ctx context.Context, ds model.DataSource) error
}

type Worker struct {
	store      Store
	pinger     Pinger
	interval   time.Duration
	runTimeout time.Duration

	up          *prometheus.GaugeVec
	runDuration *prometheus.HistogramVec
	seen        map[string]struct{}
}

func NewWorker(store Store, pinger Pinger, cfg config.ProbeConfig, reg prometheus.Registerer) (*Worker, error) {
	if store == nil || pinger == nil {
		return nil, fmt.Errorf("store and pinger are required")
	}

	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("probe.interval must be positive (got: %v)", cfg.Interval)
	}

	if cfg.RunTimeout <= 0 {
		return nil, fmt.Errorf("probe.run_timeout must be positive (got: %v)", cfg.RunTimeout)
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	w := &Worker{
		store:      store,
		pinger:     pinger,
		interval:   cfg.Interval,
		runTimeout: cfg.RunTimeout,
		seen:       make(map[string]struct{}),
	}

	w.up = promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "datasource_up",
		Help: "Whether the last probe of the data source succeeded (1) or failed (0).",
	}, []string{"datasource"})

	w.runDuration = promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "probe_run_duration_seconds",
		Help:    "Duration of data source probe runs in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	return w, nil
}

func (w *Worker) RunLeaderless(ctx context.Context) {
	w.runLoop(ctx)
}

func (w *Worker) RunWithLeader(ctx context.Context, isLeader func(context.Context) bool) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if isLeader(ctx) {
			w.runLoop(ctx)
		} else {
			j := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(backoff + j):
			case <-ctx.Done():
				return
			}
			if backoff < 10*time.Second {
				backoff *= 2
			}
		}
	}
}

func (w *Worker) runLoop(ctx context.Context) {
	// 20% jitter, at least 1ns so rand.Int63n does not panic
	jitterBase := w.interval / 5
	if jitterBase == 0 {
		jitterBase = 1
	}
	jitter := time.Duration(rand.Int63n(int64(jitterBase)))
	ticker := time.NewTicker(w.interval + jitter)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, w.runTimeout)
	defer cancel()

	sources, err := w.store.ListDataSources(runCtx)
	if err != nil {
		slog.ErrorContext(ctx, "probe: failed to list data sources", "err", err)
		w.runDuration.WithLabelValues("failure").Observe(time.Since(start).Seconds())
		return
	}

	enabled := make([]model.DataSource, 0, len(sources))
	for _, ds := range sources {
		if ds.Enabled() {
			enabled = append(enabled, ds)
		}
	}

	results := make([]bool, len(enabled))
	g := new(errgroup.Group)
	g.SetLimit(maxParallelPings)
	for i, ds := range enabled {
		g.Go(func() error {
			if err := w.pinger.Ping(runCtx, ds); err != nil {
				slog.WarnContext(ctx, "probe: data source unreachable", "datasource", ds.Name, "type", ds.Type, "err", err)
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	current := make(map[string]struct{}, len(enabled))
	failed := 0
	for i, ds := range enabled {
		current[ds.Name] = struct{}{}
		if results[i] {
			w.up.WithLabelValues(ds.Name).Set(1)
			continue
		}
		failed++
		w.up.WithLabelValues(ds.Name).Set(0)
	}
	// disabled or deleted sources stop being reported
	for name := range w.seen {
		if _, ok := current[name]; !ok {
			w.up.DeleteLabelValues(name)
		}
	}
	w.seen = current

	slog.InfoContext(ctx, "probe: run complete", "sources", len(enabled), "failed", failed)
	w.runDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
}
