package topn

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricboost/metric-engine/internal/model"
)

func TestTruncate_KeepsLargestPerPeriod(t *testing.T) {
	var rows []Row
	for i := range 50 {
		rows = append(rows, Row{Period: "2024-01-02", Dimension: fmt.Sprintf("d%02d", i), Value: float64(i)})
	}
	rows = append(rows,
		Row{Period: "2024-01-01", Dimension: "x", Value: 1},
		Row{Period: "2024-01-01", Dimension: "y", Value: 2},
	)

	got := Truncate(rows, 30, model.SortDesc)
	require.Len(t, got, 32)

	assert.Equal(t, []Row{
		{Period: "2024-01-01", Dimension: "y", Value: 2},
		{Period: "2024-01-01", Dimension: "x", Value: 1},
	}, got[:2], "other periods are untouched apart from ordering")

	busy := got[2:]
	for i, r := range busy {
		assert.Equal(t, "2024-01-02", r.Period)
		assert.Equal(t, float64(49-i), r.Value)
	}
}

func TestTruncate(t *testing.T) {
	rows := []Row{
		{Period: "b", Dimension: "1", Value: 5},
		{Period: "a", Dimension: "1", Value: 3},
		{Period: "b", Dimension: "2", Value: 5},
		{Period: "b", Dimension: "3", Value: 1},
		{Period: "a", Dimension: "2", Value: 9},
	}

	tests := []struct {
		name  string
		limit int
		sort  model.Sort
		want  []Row
	}{
		{
			name:  "asc",
			limit: 1,
			sort:  model.SortAsc,
			want: []Row{
				{Period: "a", Dimension: "1", Value: 3},
				{Period: "b", Dimension: "3", Value: 1},
			},
		},
		{
			name:  "desc ties are stable",
			limit: 2,
			sort:  model.SortDesc,
			want: []Row{
				{Period: "a", Dimension: "2", Value: 9},
				{Period: "a", Dimension: "1", Value: 3},
				{Period: "b", Dimension: "1", Value: 5},
				{Period: "b", Dimension: "2", Value: 5},
			},
		},
		{
			name:  "no limit",
			limit: 0,
			sort:  model.SortDesc,
			want: []Row{
				{Period: "a", Dimension: "2", Value: 9},
				{Period: "a", Dimension: "1", Value: 3},
				{Period: "b", Dimension: "1", Value: 5},
				{Period: "b", Dimension: "2", Value: 5},
				{Period: "b", Dimension: "3", Value: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(rows, tt.limit, tt.sort))
		})
	}

	assert.Empty(t, Truncate(nil, 10, model.SortDesc))
}
