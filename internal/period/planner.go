// Package period turns a statistical period, a look-back scope and an optional
// date range into a bucketing scheme, a date bound and the full sequence of
// expected period labels.
package period

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/metricboost/metric-engine/internal/model"
)

// DateLayout is the layout of date bounds and daily labels.
const DateLayout = "2006-01-02"

type Bucket int

const (
	BucketDay Bucket = iota
	BucketWeek
	BucketMonth
	BucketYear
)

func (b Bucket) String() string {
	switch b {
	case BucketWeek:
		return "week"
	case BucketMonth:
		return "month"
	case BucketYear:
		return "year"
	default:
		return "day"
	}
}

// Label formats t as the label of the bucket containing it. Weeks are ISO
// weeks labelled YYYY-WW with the ISO year.
func (b Bucket) Label(t time.Time) string {
	switch b {
	case BucketWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-%02d", year, week)
	case BucketMonth:
		return t.Format("2006-01")
	case BucketYear:
		return t.Format("2006")
	default:
		return t.Format(DateLayout)
	}
}

// Align rewinds t to the first day of its bucket.
func (b Bucket) Align(t time.Time) time.Time {
	switch b {
	case BucketWeek:
		offset := (int(t.Weekday()) + 6) % 7
		return t.AddDate(0, 0, -offset)
	case BucketMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case BucketYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	default:
		return t
	}
}

func (b Bucket) next(t time.Time) time.Time {
	switch b {
	case BucketWeek:
		return t.AddDate(0, 0, 7)
	case BucketMonth:
		return t.AddDate(0, 1, 0)
	case BucketYear:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

func (b Bucket) back(t time.Time, n int) time.Time {
	switch b {
	case BucketWeek:
		return t.AddDate(0, 0, -7*n)
	case BucketMonth:
		return t.AddDate(0, -n, 0)
	case BucketYear:
		return t.AddDate(-n, 0, 0)
	default:
		return t.AddDate(0, 0, -n)
	}
}

type BoundKind int

const (
	// BoundAll leaves the date column unconstrained.
	BoundAll BoundKind = iota
	// BoundSince keeps Start <= date < End.
	BoundSince
	// BoundBetween keeps Start <= date <= End.
	BoundBetween
)

type Bound struct {
	Kind  BoundKind
	Start time.Time
	End   time.Time
}

// DateRange is an inclusive, caller supplied range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Window is the result of planning one metric request.
type Window struct {
	Period model.StatisticalPeriod
	Bucket Bucket
	Bound  Bound
	Labels []string
	Today  time.Time
}

func (w Window) Cumulative() bool {
	return w.Period == model.PeriodCumulative
}

type Planner struct {
	clock clockwork.Clock
	loc   *time.Location
}

func NewPlanner(clock clockwork.Clock, loc *time.Location) *Planner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Planner{clock: clock, loc: loc}
}

func (p *Planner) Location() *time.Location {
	return p.loc
}

// Today is the current calendar date at midnight in the planner's location.
func (p *Planner) Today() time.Time {
	return midnight(p.clock.Now().In(p.loc))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func bucketOf(period model.StatisticalPeriod) (model.StatisticalPeriod, Bucket) {
	switch period {
	case model.PeriodWeekly:
		return period, BucketWeek
	case model.PeriodMonthly:
		return period, BucketMonth
	case model.PeriodYearly:
		return period, BucketYear
	case model.PeriodCumulative:
		return period, BucketDay
	default:
		// quarterly and anything unknown use daily settings
		return model.PeriodDaily, BucketDay
	}
}

// Plan computes the window of a request. Without an explicit range the window
// covers the last scope periods up to yesterday.
func (p *Planner) Plan(period model.StatisticalPeriod, scope int, r *DateRange) Window {
	today := p.Today()
	effective, bucket := bucketOf(period)

	w := Window{Period: effective, Bucket: bucket, Today: today}

	if effective == model.PeriodCumulative {
		w.Bound = Bound{Kind: BoundAll}
		w.Labels = []string{bucket.Label(today)}
		return w
	}

	var first, last time.Time
	if r != nil {
		start, end := midnight(r.Start.In(p.loc)), midnight(r.End.In(p.loc))
		w.Bound = Bound{Kind: BoundBetween, Start: start, End: end}
		first, last = bucket.Align(start), end
	} else {
		if scope < 0 {
			scope = 0
		}
		start := bucket.Align(bucket.back(today, scope))
		w.Bound = Bound{Kind: BoundSince, Start: start, End: today}
		first, last = start, today.AddDate(0, 0, -1)
	}

	w.Labels = Labels(bucket, first, last)
	return w
}

// Labels walks from first to last inclusive and returns the unique bucket
// labels in order. An inverted range yields no labels.
func Labels(bucket Bucket, first, last time.Time) []string {
	labels := []string{}
	seen := make(map[string]struct{})
	for cur := first; !cur.After(last); cur = bucket.next(cur) {
		l := bucket.Label(cur)
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		labels = append(labels, l)
	}
	return labels
}
