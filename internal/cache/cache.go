// Package cache stores serialized metric query results.
package cache

import (
	"context"
	"fmt"

	"github.com/metricboost/metric-engine/internal/config"
)

// Cache is a byte-oriented result cache. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// New builds the cache selected by configuration. A disabled cache never hits.
func New(cfg config.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	switch cfg.Backend {
	case "", config.CacheBackendMemory:
		return NewMemory(cfg.Size, cfg.TTL), nil
	case config.CacheBackendRedis:
		return NewRedis(cfg.Redis, cfg.TTL)
	}
	return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
}

type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte) error         { return nil }
func (Noop) Close() error                                      { return nil }
