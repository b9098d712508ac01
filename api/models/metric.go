package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/metricboost/metric-engine/internal/engine"
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
)

var ErrInvalidDateRange = errors.New("invalid date range")

// DateRange is a pair of epoch milliseconds. A null value, an absent field
// and the single element forms [""] and [null] all mean "no range".
type DateRange struct {
	Start, End time.Time
	set        bool
}

func (d *DateRange) UnmarshalJSON(b []byte) error {
	*d = DateRange{}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: expected an array of two epoch milliseconds", ErrInvalidDateRange)
	}

	switch len(raw) {
	case 1:
		if isBlank(raw[0]) {
			return nil
		}
	case 2:
		start, err := epochMillis(raw[0])
		if err != nil {
			return err
		}
		end, err := epochMillis(raw[1])
		if err != nil {
			return err
		}
		if end < start {
			return fmt.Errorf("%w: end is before start", ErrInvalidDateRange)
		}
		*d = DateRange{Start: time.UnixMilli(start), End: time.UnixMilli(end), set: true}
		return nil
	}
	return fmt.Errorf("%w: expected an array of two epoch milliseconds", ErrInvalidDateRange)
}

func (d DateRange) MarshalJSON() ([]byte, error) {
	if !d.set {
		return []byte("null"), nil
	}
	return json.Marshal([2]int64{d.Start.UnixMilli(), d.End.UnixMilli()})
}

// Range returns nil when no range was supplied.
func (d DateRange) Range() *period.DateRange {
	if !d.set {
		return nil
	}
	return &period.DateRange{Start: d.Start, End: d.End}
}

func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: start, End: end, set: true}
}

func isBlank(b json.RawMessage) bool {
	s := string(bytes.TrimSpace(b))
	return s == "null" || s == `""`
}

func epochMillis(b json.RawMessage) (int64, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDateRange, err)
	}

	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, fmt.Errorf("%w: %s is not an epoch millisecond", ErrInvalidDateRange, b)
	}

	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("%w: %s is not an epoch millisecond", ErrInvalidDateRange, b)
		}
		ms = int64(f)
	}
	return ms, nil
}

// MetricDetailRequest is the body of a metric detail request.
type MetricDetailRequest struct {
	DateRange         DateRange `json:"dateRange"`
	StatisticalPeriod string    `json:"statisticalPeriod,omitempty"`
	DimSelect         string    `json:"dimSelect,omitempty"`
	DimFilter         []string  `json:"dimFilter,omitempty"`
	Sort              string    `json:"sort,omitempty"`
}

// Params converts the request into engine parameters. Periods the planner
// does not know are passed through and planned as daily.
func (r MetricDetailRequest) Params() engine.Params {
	p := engine.Params{
		DateRange:         r.DateRange.Range(),
		StatisticalPeriod: model.StatisticalPeriod(strings.ToLower(strings.TrimSpace(r.StatisticalPeriod))),
		Dimension:         strings.TrimSpace(r.DimSelect),
		Sort:              model.ParseSort(r.Sort),
	}
	for _, f := range r.DimFilter {
		if f = strings.TrimSpace(f); f != "" {
			p.Filters = append(p.Filters, f)
		}
	}
	return p
}
