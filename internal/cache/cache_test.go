package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/metricboost/metric-engine/internal/config"
)

func TestNew(t *testing.T) {
	c, err := New(config.CacheConfig{})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, c)

	c, err = New(config.CacheConfig{Enabled: true})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	_, err = New(config.CacheConfig{Enabled: true, Backend: config.CacheBackendRedis})
	assert.Error(t, err, "redis without addresses")

	_, err = New(config.CacheConfig{Enabled: true, Backend: "memcached"})
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2, time.Minute)

	_, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "a", []byte("1")))
	require.NoError(t, m.Set(ctx, "b", []byte("2")))
	require.NoError(t, m.Set(ctx, "c", []byte("3")))

	assert.Equal(t, 2, m.Len(), "bounded")
	_, ok, _ = m.Get(ctx, "a")
	assert.False(t, ok, "least recently used entry is evicted")

	v, ok, _ := m.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), v)

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Len())
}

func TestMemory_Expires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, 20*time.Millisecond)
	require.NoError(t, m.Set(ctx, "a", []byte("1")))

	assert.Eventually(t, func() bool {
		_, ok, _ := m.Get(ctx, "a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestKey(t *testing.T) {
	base := KeyParts{
		MetricID:    42,
		Kind:        "data",
		Fingerprint: "abc",
		Dialect:     "mysql",
		Period:      "daily",
		WindowStart: "2024-01-01",
		WindowEnd:   "2024-01-10",
		Filters:     []string{"b = 2", "a = 1"},
		Sort:        "desc",
		RankLimit:   10,
	}

	k := Key(base)
	assert.Regexp(t, `^metric:42:data:[0-9a-f]{16}$`, k)

	reordered := base
	reordered.Filters = []string{"a = 1", "b = 2"}
	assert.Equal(t, k, Key(reordered), "filter order is irrelevant")
	assert.Equal(t, []string{"b = 2", "a = 1"}, base.Filters, "input is not mutated")

	for name, mutate := range map[string]func(*KeyParts){
		"dimension":   func(p *KeyParts) { p.Dimension = "region" },
		"window":      func(p *KeyParts) { p.WindowEnd = "2024-01-11" },
		"fingerprint": func(p *KeyParts) { p.Fingerprint = "def" },
		"sort":        func(p *KeyParts) { p.Sort = "asc" },
		"filters":     func(p *KeyParts) { p.Filters = []string{"a = 1"} },
		"rank":        func(p *KeyParts) { p.RankLimit = 5 },
	} {
		t.Run(name, func(t *testing.T) {
			p := base
			mutate(&p)
			assert.NotEqual(t, k, Key(p))
		})
	}
}

type failingCache struct{ Noop }

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("redis down")
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	l := NewLoader(NewMemory(10, time.Minute), reg)

	var calls atomic.Int32
	load := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(`[{"date":"2024-01-01","value":1}]`), nil
	}

	first, err := l.Load(ctx, "k", load)
	require.NoError(t, err)
	second, err := l.Load(ctx, "k", load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	requests := testutil.ToFloat64
	assert.Equal(t, 1.0, requests(l.requests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, requests(l.requests.WithLabelValues("miss")))
}

func TestLoader_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemory(10, time.Minute), prometheus.NewRegistry())

	_, err := l.Load(ctx, "k", func(context.Context) ([]byte, error) { return nil, errors.New("boom") })
	require.Error(t, err)

	v, err := l.Load(ctx, "k", func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
}

func TestLoader_CacheFailureFallsBackToLoad(t *testing.T) {
	l := NewLoader(failingCache{}, prometheus.NewRegistry())

	v, err := l.Load(context.Background(), "k", func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
	assert.Equal(t, 1.0, testutil.ToFloat64(l.requests.WithLabelValues("error")))
}

func TestLoader_SharedLoadSurvivesStarterCancellation(t *testing.T) {
	l := NewLoader(NewMemory(10, time.Minute), prometheus.NewRegistry())

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []byte("v"), nil
	}

	starterCtx, cancel := context.WithCancel(context.Background())
	starterDone := make(chan error, 1)
	go func() {
		_, err := l.Load(starterCtx, "k", load)
		starterDone <- err
	}()
	<-started

	cancel()
	assert.ErrorIs(t, <-starterDone, context.Canceled)

	joinerDone := make(chan []byte, 1)
	go func() {
		v, err := l.Load(context.Background(), "k", load)
		assert.NoError(t, err)
		joinerDone <- v
	}()

	close(release)
	assert.Equal(t, []byte("v"), <-joinerDone)
	assert.Equal(t, int32(1), calls.Load())

	v, err := l.Load(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestLoader_CollapsesConcurrentMisses(t *testing.T) {
	l := NewLoader(Noop{}, prometheus.NewRegistry())

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Load(context.Background(), "k", load)
			assert.NoError(t, err)
			assert.Equal(t, []byte("v"), v)
		}()
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	r, err := NewRedis(config.RedisConfig{Addrs: []string{endpoint}, KeyPrefix: "test:"}, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	payload := []byte{0x00, 0xff, '"', 'x'}
	require.NoError(t, r.Set(ctx, "k", payload))

	v, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, v)
}
