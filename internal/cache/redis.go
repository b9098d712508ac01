package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/metricboost/metric-engine/internal/config"
)

// Redis shares cached results between replicas.
type Redis struct {
	client rueidis.Client
	ttl    time.Duration
	prefix string
}

func NewRedis(cfg config.RedisConfig, ttl time.Duration) (*Redis, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis addrs are required when the redis cache backend is selected")
	}

	opts := rueidis.ClientOption{
		InitAddress: cfg.Addrs,
	}
	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.SelectDB = cfg.DB
	}

	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl, prefix: cfg.KeyPrefix}, nil
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Do(ctx, r.client.B().Get().Key(r.key(key)).Build()).AsBytes()
	if rueidis.IsRedisNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	ttlSeconds := max(int64(r.ttl.Seconds()), 1)
	cmd := r.client.B().Set().Key(r.key(key)).Value(rueidis.BinaryString(value)).ExSeconds(ttlSeconds).Build()
	return r.client.Do(ctx, cmd).Error()
}

func (r *Redis) Close() error {
	if r.client != nil {
		r.client.Close()
	}
	return nil
}
