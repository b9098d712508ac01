package cache

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// Loader reads through a Cache and collapses concurrent loads of one key.
type Loader struct {
	cache    Cache
	group    singleflight.Group
	requests *prometheus.CounterVec
}

func NewLoader(c Cache, reg prometheus.Registerer) *Loader {
	if c == nil {
		c = Noop{}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Loader{
		cache: c,
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "metric_engine_cache_requests_total",
			Help: "Total number of result cache lookups by result",
		}, []string{"result"}),
	}
}

// Load returns the cached value of key, or runs load and caches its result.
// Failed loads are not cached. A cache that cannot be read is treated as a
// miss. A shared load is detached from the cancellation of the caller that
// started it; each caller stops waiting when its own context is done.
func (l *Loader) Load(ctx context.Context, key string, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	v, ok, err := l.cache.Get(ctx, key)
	switch {
	case err != nil:
		l.requests.WithLabelValues("error").Inc()
		slog.WarnContext(ctx, "cache: get failed", "key", key, "err", err)
	case ok:
		l.requests.WithLabelValues("hit").Inc()
		return v, nil
	default:
		l.requests.WithLabelValues("miss").Inc()
	}

	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		b, err := load(shared)
		if err != nil {
			return nil, err
		}
		if err := l.cache.Set(shared, key, b); err != nil {
			slog.WarnContext(shared, "cache: set failed", "key", key, "err", err)
		}
		return b, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (l *Loader) Close() error {
	return l.cache.Close()
}
