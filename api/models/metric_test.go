package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricboost/metric-engine/internal/model"
)

func TestDateRange_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    *[2]int64
		wantErr bool
	}{
		{name: "absent", body: `{}`},
		{name: "null", body: `{"dateRange":null}`},
		{name: "blank string", body: `{"dateRange":[""]}`},
		{name: "blank null", body: `{"dateRange":[null]}`},
		{name: "numbers", body: `{"dateRange":[1704844800000,1706140800000]}`, want: &[2]int64{1704844800000, 1706140800000}},
		{name: "numeric strings", body: `{"dateRange":["1704844800000","1706140800000"]}`, want: &[2]int64{1704844800000, 1706140800000}},
		{name: "empty array", body: `{"dateRange":[]}`, wantErr: true},
		{name: "single value", body: `{"dateRange":[1704844800000]}`, wantErr: true},
		{name: "three values", body: `{"dateRange":[1,2,3]}`, wantErr: true},
		{name: "not a number", body: `{"dateRange":["yesterday","today"]}`, wantErr: true},
		{name: "object", body: `{"dateRange":{"start":1}}`, wantErr: true},
		{name: "reversed", body: `{"dateRange":[1706140800000,1704844800000]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req MetricDetailRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDateRange)
				return
			}
			require.NoError(t, err)
			r := req.DateRange.Range()
			if tt.want == nil {
				assert.Nil(t, r)
				return
			}
			require.NotNil(t, r)
			assert.Equal(t, tt.want[0], r.Start.UnixMilli())
			assert.Equal(t, tt.want[1], r.End.UnixMilli())
		})
	}
}

func TestDateRange_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(MetricDetailRequest{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dateRange":null}`, string(b))

	b, err = json.Marshal(MetricDetailRequest{DateRange: NewDateRange(time.UnixMilli(1000), time.UnixMilli(2000))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dateRange":[1000,2000]}`, string(b))
}

func TestMetricDetailRequest_Params(t *testing.T) {
	p := MetricDetailRequest{
		StatisticalPeriod: "weekly",
		DimSelect:         " region ",
		DimFilter:         []string{"region = 'north'", " ", ""},
		Sort:              "asc",
	}.Params()
	assert.Equal(t, model.PeriodWeekly, p.StatisticalPeriod)
	assert.Equal(t, "region", p.Dimension)
	assert.Equal(t, []string{"region = 'north'"}, p.Filters)
	assert.Equal(t, model.SortAsc, p.Sort)
	assert.Nil(t, p.DateRange)

	p = MetricDetailRequest{}.Params()
	assert.Equal(t, model.SortDesc, p.Sort)
	assert.Empty(t, p.StatisticalPeriod)

	p = MetricDetailRequest{StatisticalPeriod: " Hourly "}.Params()
	assert.Equal(t, model.StatisticalPeriod("hourly"), p.StatisticalPeriod, "unknown periods are left to the planner")
}
