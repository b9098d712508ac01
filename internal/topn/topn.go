// Package topn keeps the highest (or lowest) ranked rows of every period.
package topn

import (
	"cmp"
	"slices"

	"github.com/metricboost/metric-engine/internal/model"
)

// Row is one aggregated value of a drill-down.
type Row struct {
	Period    string
	Dimension any
	Value     float64
}

// Truncate groups rows by period, orders every group by value in the sort
// direction and keeps at most limit rows per group. Groups are returned in
// ascending period order. Ties keep their input order. A limit <= 0 keeps all
// rows.
func Truncate(rows []Row, limit int, sort model.Sort) []Row {
	groups := make(map[string][]Row)
	var periods []string
	for _, r := range rows {
		if _, ok := groups[r.Period]; !ok {
			periods = append(periods, r.Period)
		}
		groups[r.Period] = append(groups[r.Period], r)
	}
	slices.Sort(periods)

	out := make([]Row, 0, len(rows))
	for _, p := range periods {
		g := groups[p]
		slices.SortStableFunc(g, func(a, b Row) int {
			if sort == model.SortAsc {
				return cmp.Compare(a.Value, b.Value)
			}
			return cmp.Compare(b.Value, a.Value)
		})
		if limit > 0 && len(g) > limit {
			g = g[:limit]
		}
		out = append(out, g...)
	}
	return out
}
