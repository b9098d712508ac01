package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/metricboost/metric-engine/internal/fieldrole"
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
	"github.com/metricboost/metric-engine/internal/topn"
)

const timestampLayout = "2006-01-02 15:04:05"

// MetricResult is one assembled metric as rendered to the dashboard.
type MetricResult struct {
	ID                int64                   `json:"id"`
	MetricName        string                  `json:"metricName"`
	MetricDesc        string                  `json:"metricDesc"`
	StatisticalPeriod model.StatisticalPeriod `json:"statisticalPeriod"`
	StatisticScope    int                     `json:"statisticScope"`
	Sensitivity       model.Sensitivity       `json:"sensitivity"`
	ChartType         model.ChartType         `json:"chartType"`
	MetricFormat      model.MetricFormat      `json:"metricFormat"`
	Tags              []string                `json:"tags"`
	DataModelID       int64                   `json:"dataModelId"`
	CreateTime        string                  `json:"createTime"`
	UpdateTime        string                  `json:"updateTime"`
	DimCols           []fieldrole.Dimension   `json:"dimCols"`
	Data              []Point                 `json:"data"`
	DimData           []map[string][]any      `json:"dimData,omitempty"`
	Failed            bool                    `json:"failed,omitempty"`
	Error             string                  `json:"error,omitempty"`
}

func newResult(m model.Metric) MetricResult {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return MetricResult{
		ID:                m.ID,
		MetricName:        m.MetricName,
		MetricDesc:        m.MetricDesc,
		StatisticalPeriod: m.StatisticalPeriod,
		StatisticScope:    m.StatisticScope,
		Sensitivity:       m.Sensitivity,
		ChartType:         m.ChartType,
		Tags:              tags,
		DataModelID:       m.DataModel.ID,
		CreateTime:        formatTimestamp(m.CreateTime),
		UpdateTime:        formatTimestamp(m.UpdateTime),
		DimCols:           []fieldrole.Dimension{},
		Data:              []Point{},
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timestampLayout)
}

func (r *MetricResult) fail(err error) {
	r.Failed = true
	r.Error = err.Error()
	r.Data = []Point{}
	r.DimData = nil
}

// Point is one value of a series. It renders as
// {"date": ..., "<dimension column>": ..., "value": ...}.
type Point struct {
	Date            string
	DimensionColumn string
	Dimension       any
	Value           float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`{"date":`)
	if err := writeJSON(&b, p.Date); err != nil {
		return nil, err
	}
	if p.DimensionColumn != "" && p.Dimension != nil {
		b.WriteByte(',')
		if err := writeJSON(&b, p.DimensionColumn); err != nil {
			return nil, err
		}
		b.WriteByte(':')
		if err := writeJSON(&b, p.Dimension); err != nil {
			return nil, err
		}
	}
	b.WriteString(`,"value":`)
	if err := writeJSON(&b, p.Value); err != nil {
		return nil, err
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func writeJSON(b *bytes.Buffer, v any) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Write(enc)
	return nil
}

func points(rows []topn.Row, dimension string) []Point {
	out := make([]Point, 0, len(rows))
	for _, r := range rows {
		out = append(out, Point{Date: r.Period, DimensionColumn: dimension, Dimension: r.Dimension, Value: r.Value})
	}
	return out
}

// fillGaps orders rows by the expected labels and adds a zero row for every
// label without data. Rows of unexpected labels follow in label order.
func fillGaps(rows []topn.Row, labels []string) []topn.Row {
	byLabel := make(map[string][]topn.Row, len(labels))
	var extra []string
	expected := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		expected[l] = struct{}{}
	}
	for _, r := range rows {
		if _, ok := expected[r.Period]; !ok {
			if _, seen := byLabel[r.Period]; !seen {
				extra = append(extra, r.Period)
			}
		}
		byLabel[r.Period] = append(byLabel[r.Period], r)
	}
	slices.Sort(extra)

	out := make([]topn.Row, 0, len(rows)+len(labels))
	for _, l := range labels {
		if got := byLabel[l]; len(got) > 0 {
			out = append(out, got...)
			continue
		}
		out = append(out, topn.Row{Period: l})
	}
	for _, l := range extra {
		out = append(out, byLabel[l]...)
	}
	return out
}

// cachedRow is the cache encoding of a result row.
type cachedRow struct {
	Period    string  `json:"p"`
	Dimension any     `json:"d,omitempty"`
	Value     float64 `json:"v"`
}

func decodeRows(b []byte) ([]topn.Row, error) {
	var cached []cachedRow
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&cached); err != nil {
		return nil, fmt.Errorf("decode cached rows: %w", err)
	}
	rows := make([]topn.Row, len(cached))
	for i, c := range cached {
		rows[i] = topn.Row{Period: c.Period, Dimension: c.Dimension, Value: c.Value}
	}
	return rows, nil
}

func decodeValues(b []byte) ([]any, error) {
	values := []any{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("decode cached values: %w", err)
	}
	return values, nil
}

// toFloat converts an aggregated driver value. SQL NULL is zero.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	case json.Number:
		return x.Float64()
	case fmt.Stringer:
		return strconv.ParseFloat(x.String(), 64)
	}
	return 0, fmt.Errorf("unsupported value type %T", v)
}

func toLabel(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(period.DateLayout)
	}
	return fmt.Sprint(v)
}

// blankDimensionValue reports the placeholder values dashboards must not offer
// as drill-down choices.
func blankDimensionValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		switch x {
		case "", "null", "NULL", "None", "-99":
			return true
		}
	}
	return false
}
