package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/metricboost/metric-engine/internal/cache"
	"github.com/metricboost/metric-engine/internal/config"
	"github.com/metricboost/metric-engine/internal/connector"
	"github.com/metricboost/metric-engine/internal/db"
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
)

var now = time.Date(2024, 3, 16, 12, 0, 0, 0, time.UTC)

const ordersColumns = `[
	{"columnName":"created_at","staticType":"date","format":"%Y-%m-%d"},
	{"columnName":"region","columnComment":"Region","staticType":"dim"},
	{"columnName":"channel","staticType":"dim"},
	{"columnName":"amount","staticType":"metric","aggMethod":"sum","format":"currency"},
	{"columnName":"status","staticType":"filter","extraCaculate":"= 1"}
]`

// newWarehouse creates a sqlite data source with an orders table.
func newWarehouse(t *testing.T, rows ...string) model.DataSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")

	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(`CREATE TABLE orders (created_at TEXT, region TEXT, channel TEXT, amount REAL, status INTEGER)`)
	require.NoError(t, err)
	for _, r := range rows {
		_, err = conn.Exec(`INSERT INTO orders (created_at, region, channel, amount, status) VALUES ` + r)
		require.NoError(t, err)
	}

	return model.DataSource{ID: 1, Name: "warehouse", Type: model.DataSourceSQLite, Database: path, Status: model.StatusEnabled}
}

func ordersMetric(id int64, ds model.DataSource, p model.StatisticalPeriod, scope int) model.Metric {
	return model.Metric{
		ID:                id,
		MetricName:        fmt.Sprintf("metric %d", id),
		StatisticalPeriod: p,
		StatisticScope:    scope,
		Sensitivity:       model.SensitivityLow,
		DataModel: model.DataModel{
			ID:          10,
			TableName:   "orders",
			Status:      model.StatusEnabled,
			ColumnsConf: ordersColumns,
			DataSource:  ds,
		},
	}
}

type fakeStore map[int64]model.Metric

func (s fakeStore) GetMetric(_ context.Context, id int64) (*model.Metric, error) {
	m, ok := s[id]
	if !ok {
		return nil, db.NotFoundError("metric", id)
	}
	return &m, nil
}

type countingExecutor struct {
	Executor
	calls atomic.Int32
}

func (c *countingExecutor) Execute(ctx context.Context, ds model.DataSource, query string, args ...any) (*connector.Result, error) {
	c.calls.Add(1)
	return c.Executor.Execute(ctx, ds, query, args...)
}

type testEngine struct {
	*Engine
	exec *countingExecutor
	reg  *prometheus.Registry
}

func newTestEngine(t *testing.T, store fakeStore, c cache.Cache) *testEngine {
	t.Helper()
	reg := prometheus.NewRegistry()
	conn := connector.New(config.ConnectorConfig{Mode: config.ConnectorModeEphemeral}, reg)
	t.Cleanup(func() { _ = conn.Close() })

	exec := &countingExecutor{Executor: conn}
	e, err := New(
		config.EngineConfig{Timezone: "UTC"},
		store, exec, cache.NewLoader(c, reg),
		WithClock(clockwork.NewFakeClockAt(now)),
		WithRegisterer(reg),
	)
	require.NoError(t, err)
	return &testEngine{Engine: e, exec: exec, reg: reg}
}

func dates(points []Point) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.Date
	}
	return out
}

func TestAssembleList_FillsEveryExpectedDay(t *testing.T) {
	ds := newWarehouse(t)
	e := newTestEngine(t, nil, cache.Noop{})

	got := e.AssembleList(context.Background(), []model.Metric{ordersMetric(1, ds, model.PeriodDaily, 10)}, Params{})
	require.Len(t, got, 1)
	require.False(t, got[0].Failed, got[0].Error)

	want := []string{
		"2024-03-06", "2024-03-07", "2024-03-08", "2024-03-09", "2024-03-10",
		"2024-03-11", "2024-03-12", "2024-03-13", "2024-03-14", "2024-03-15",
	}
	assert.Equal(t, want, dates(got[0].Data))
	for _, p := range got[0].Data {
		assert.Zero(t, p.Value)
	}
	assert.Equal(t, model.FormatCurrency, got[0].MetricFormat)
	assert.Equal(t, "Region", got[0].DimCols[0].Label)
}

func TestAssembleList_AggregatesWithStandingFilter(t *testing.T) {
	ds := newWarehouse(t,
		`('2024-03-14', 'north', 'web', 10, 1)`,
		`('2024-03-14', 'south', 'app', 5, 1)`,
		`('2024-03-14', 'south', 'app', 100, 0)`,
		`('2024-03-15', 'north', 'web', 7, 1)`,
		`('2024-03-16', 'north', 'web', 1000, 1)`,
	)
	e := newTestEngine(t, nil, cache.Noop{})

	got := e.AssembleList(context.Background(), []model.Metric{ordersMetric(1, ds, model.PeriodDaily, 3)}, Params{})
	require.False(t, got[0].Failed, got[0].Error)

	assert.Equal(t, []Point{
		{Date: "2024-03-13", Value: 0},
		{Date: "2024-03-14", Value: 15},
		{Date: "2024-03-15", Value: 7},
	}, got[0].Data, "today and cancelled orders are excluded")
}

func TestAssembleList_WeeklyRange(t *testing.T) {
	ds := newWarehouse(t, `('2024-01-16', 'north', 'web', 3, 1)`)
	e := newTestEngine(t, nil, cache.Noop{})

	params := Params{
		StatisticalPeriod: model.PeriodWeekly,
		DateRange: &period.DateRange{
			Start: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC),
		},
	}
	got := e.AssembleList(context.Background(), []model.Metric{ordersMetric(1, ds, model.PeriodDaily, 7)}, params)
	require.False(t, got[0].Failed, got[0].Error)

	assert.Equal(t, []Point{
		{Date: "2024-02", Value: 0},
		{Date: "2024-03", Value: 3},
		{Date: "2024-04", Value: 0},
	}, got[0].Data)
	assert.Equal(t, model.PeriodDaily, got[0].StatisticalPeriod, "the stored period is reported")
}

func TestAssembleList_CumulativeHasOneLabel(t *testing.T) {
	ds := newWarehouse(t,
		`('2020-01-01', 'north', 'web', 1, 1)`,
		`('2024-03-15', 'north', 'web', 2, 1)`,
	)
	e := newTestEngine(t, nil, cache.Noop{})

	for _, params := range []Params{
		{},
		{DateRange: &period.DateRange{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}},
	} {
		got := e.AssembleList(context.Background(), []model.Metric{ordersMetric(1, ds, model.PeriodCumulative, 99)}, params)
		require.False(t, got[0].Failed, got[0].Error)
		assert.Equal(t, []Point{{Date: "2024-03-16", Value: 3}}, got[0].Data)
	}
}

func TestAssembleList_IsolatesFailures(t *testing.T) {
	ds := newWarehouse(t, `('2024-03-15', 'north', 'web', 4, 1)`)
	e := newTestEngine(t, nil, cache.Noop{})

	broken := ordersMetric(2, ds, model.PeriodDaily, 1)
	broken.DataModel.ColumnsConf = `[{"columnName":"created_at","staticType":"date"},{"columnName":"region","staticType":"dim"}]`

	got := e.AssembleList(context.Background(), []model.Metric{
		ordersMetric(1, ds, model.PeriodDaily, 1),
		broken,
		ordersMetric(3, ds, model.PeriodDaily, 1),
	}, Params{})
	require.Len(t, got, 3)

	assert.Equal(t, int64(1), got[0].ID)
	assert.False(t, got[0].Failed)
	assert.Equal(t, []Point{{Date: "2024-03-15", Value: 4}}, got[0].Data)

	assert.Equal(t, int64(2), got[1].ID)
	assert.True(t, got[1].Failed)
	assert.Equal(t, "no metric field", got[1].Error)
	assert.Empty(t, got[1].Data)

	assert.Equal(t, int64(3), got[2].ID)
	assert.False(t, got[2].Failed)
	assert.Equal(t, []Point{{Date: "2024-03-15", Value: 4}}, got[2].Data)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.failures.WithLabelValues("configuration")))
}

func TestAssembleList_QueryFailureIsNotZeroRows(t *testing.T) {
	ds := newWarehouse(t)
	e := newTestEngine(t, nil, cache.Noop{})

	m := ordersMetric(1, ds, model.PeriodDaily, 3)
	m.DataModel.TableName = "missing_table"

	got := e.AssembleList(context.Background(), []model.Metric{m}, Params{})
	assert.True(t, got[0].Failed)
	assert.Contains(t, got[0].Error, "missing_table")
	assert.Empty(t, got[0].Data)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.failures.WithLabelValues("query")))
}

func TestAssembleList_DisabledSources(t *testing.T) {
	ds := newWarehouse(t)
	e := newTestEngine(t, nil, cache.Noop{})

	offline := ds
	offline.Status = model.StatusDisabled
	disabledModel := ordersMetric(2, ds, model.PeriodDaily, 3)
	disabledModel.DataModel.Status = model.StatusDisabled

	got := e.AssembleList(context.Background(), []model.Metric{ordersMetric(1, offline, model.PeriodDaily, 3), disabledModel}, Params{})
	assert.True(t, got[0].Failed)
	assert.Contains(t, got[0].Error, "disabled")
	assert.True(t, got[1].Failed)
	assert.Equal(t, ErrDataModelDisabled.Error(), got[1].Error)
}

func TestAssembleDetail_Drilldown(t *testing.T) {
	ds := newWarehouse(t,
		`('2024-03-14', 'north', 'web', 10, 1)`,
		`('2024-03-14', 'south', 'app', 5, 1)`,
		`('2024-03-14', 'east', 'app', 8, 1)`,
		`('2024-03-15', 'north', 'web', 7, 1)`,
		`('2024-03-15', NULL, 'web', 1, 1)`,
		`('2024-03-15', '-99', 'None', 1, 1)`,
		`('2024-03-15', 'NULL', '', 1, 1)`,
	)
	store := fakeStore{1: ordersMetric(1, ds, model.PeriodDaily, 3)}
	e := newTestEngine(t, store, cache.Noop{})

	got, err := e.AssembleDetail(context.Background(), 1, Params{Dimension: "region", Sort: model.SortDesc})
	require.NoError(t, err)
	require.False(t, got.Failed, got.Error)

	require.Len(t, got.Data, 8)
	assert.Equal(t, Point{Date: "2024-03-13", DimensionColumn: "region"}, got.Data[0])
	assert.Equal(t, Point{Date: "2024-03-14", DimensionColumn: "region", Dimension: "north", Value: 10}, got.Data[1])
	assert.Equal(t, Point{Date: "2024-03-14", DimensionColumn: "region", Dimension: "east", Value: 8}, got.Data[2])
	assert.Equal(t, Point{Date: "2024-03-14", DimensionColumn: "region", Dimension: "south", Value: 5}, got.Data[3])
	assert.Equal(t, Point{Date: "2024-03-15", DimensionColumn: "region", Dimension: "north", Value: 7}, got.Data[4])

	assert.Equal(t, []map[string][]any{
		{"region": {"east", "north", "south"}},
		{"channel": {"app", "web"}},
	}, got.DimData)
}

func TestAssembleDetail_TopN(t *testing.T) {
	var rows []string
	for i := range 15 {
		rows = append(rows, fmt.Sprintf(`('2024-03-15', 'r%02d', 'web', %d, 1)`, i, i+1))
	}
	ds := newWarehouse(t, rows...)
	e := newTestEngine(t, fakeStore{1: ordersMetric(1, ds, model.PeriodDaily, 1)}, cache.Noop{})

	got, err := e.AssembleDetail(context.Background(), 1, Params{Dimension: "region", Sort: model.SortAsc})
	require.NoError(t, err)
	require.Len(t, got.Data, 10)
	assert.Equal(t, "r00", got.Data[0].Dimension)
	assert.Equal(t, 1.0, got.Data[0].Value)
	assert.Equal(t, 10.0, got.Data[9].Value)
}

func TestAssembleDetail_Errors(t *testing.T) {
	ds := newWarehouse(t)
	e := newTestEngine(t, fakeStore{1: ordersMetric(1, ds, model.PeriodDaily, 3)}, cache.Noop{})
	ctx := context.Background()

	_, err := e.AssembleDetail(ctx, 404, Params{})
	assert.True(t, db.IsNoResults(err))

	_, err = e.AssembleDetail(ctx, 1, Params{Dimension: "amount"})
	assert.True(t, IsValidation(err))

	_, err = e.AssembleDetail(ctx, 1, Params{Filters: []string{"region = 'north'; DROP TABLE orders"}})
	assert.True(t, IsValidation(err))
	assert.Equal(t, "validation", Reason(err))

	got, err := e.AssembleDetail(ctx, 1, Params{Filters: []string{"region = 'north'"}})
	require.NoError(t, err)
	assert.False(t, got.Failed, got.Error)
}

func TestAssembleDetail_CachedResultsAreIdentical(t *testing.T) {
	ds := newWarehouse(t,
		`('2024-03-14', 'north', 'web', 10, 1)`,
		`('2024-03-15', 'south', 'app', 2, 1)`,
	)
	e := newTestEngine(t, fakeStore{1: ordersMetric(1, ds, model.PeriodDaily, 3)}, cache.NewMemory(100, time.Minute))
	ctx := context.Background()

	first, err := e.AssembleDetail(ctx, 1, Params{})
	require.NoError(t, err)
	executed := e.exec.calls.Load()
	assert.Equal(t, int32(3), executed, "one data query and one per dimension")

	second, err := e.AssembleDetail(ctx, 1, Params{})
	require.NoError(t, err)
	assert.Equal(t, executed, e.exec.calls.Load())

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	_, err = e.AssembleDetail(ctx, 1, Params{Sort: model.SortAsc})
	require.NoError(t, err)
	assert.Equal(t, executed+1, e.exec.calls.Load(), "a different sort is a different data query")
}

func TestPoint_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		point Point
		want  string
	}{
		{"plain", Point{Date: "2024-01-01", Value: 1.5}, `{"date":"2024-01-01","value":1.5}`},
		{"dimension", Point{Date: "2024-01", DimensionColumn: "region", Dimension: "north", Value: 2}, `{"date":"2024-01","region":"north","value":2}`},
		{"numeric dimension", Point{Date: "2024", DimensionColumn: "shop_id", Dimension: json.Number("42"), Value: 0}, `{"date":"2024","shop_id":42,"value":0}`},
		{"gap row", Point{Date: "2024-01-02", DimensionColumn: "region"}, `{"date":"2024-01-02","value":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.point)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
		})
	}
}
