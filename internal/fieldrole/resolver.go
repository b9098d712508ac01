// Package fieldrole parses a data model's column configuration and resolves
// which columns play the date, metric, dimension and filter roles.
package fieldrole

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/metricboost/metric-engine/internal/model"
)

var (
	ErrNoDateField   = errors.New("no date field")
	ErrNoMetricField = errors.New("no metric field")
)

// ConfigurationError reports a malformed or incomplete column configuration.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil && e.Reason != "" {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can be used as an unqualified column or
// table name.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

type rawColumn struct {
	ColumnName       string `json:"columnName"`
	ColumnType       string `json:"columnType"`
	ColumnComment    string `json:"columnComment"`
	StaticType       string `json:"staticType"`
	AggMethod        string `json:"aggMethod"`
	Format           string `json:"format"`
	ExtraCaculate    string `json:"extraCaculate"`
	ExtraCalculation string `json:"extraCalculation"`
}

// Parse decodes the stored column configuration. Unknown keys, unknown roles
// and unknown aggregation methods are rejected.
func Parse(text string) ([]model.ColumnDescriptor, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ConfigurationError{Reason: "empty column configuration"}
	}

	dec := json.NewDecoder(bytes.NewBufferString(text))
	dec.DisallowUnknownFields()

	var raw []rawColumn
	if err := dec.Decode(&raw); err != nil {
		return nil, &ConfigurationError{Reason: "invalid column configuration", Err: err}
	}
	if dec.More() {
		return nil, &ConfigurationError{Reason: "invalid column configuration: trailing data"}
	}

	cols := make([]model.ColumnDescriptor, 0, len(raw))
	for i, r := range raw {
		if !ValidIdentifier(r.ColumnName) {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("column %d: invalid column name %q", i, r.ColumnName)}
		}

		role := model.Role(r.StaticType)
		switch role {
		case model.RoleNone, model.RoleDate, model.RoleDimension, model.RoleMetric, model.RoleFilter:
		default:
			return nil, &ConfigurationError{Reason: fmt.Sprintf("column %s: unknown role %q", r.ColumnName, r.StaticType)}
		}

		agg := model.AggMethod(strings.ToLower(r.AggMethod))
		switch agg {
		case model.AggNone, model.AggCount, model.AggSum, model.AggAvg, model.AggMax, model.AggMin:
		default:
			return nil, &ConfigurationError{Reason: fmt.Sprintf("column %s: unknown aggregation method %q", r.ColumnName, r.AggMethod)}
		}

		extra := r.ExtraCaculate
		if extra == "" {
			extra = r.ExtraCalculation
		}

		cols = append(cols, model.ColumnDescriptor{
			ColumnName:       r.ColumnName,
			ColumnType:       r.ColumnType,
			ColumnComment:    r.ColumnComment,
			Role:             role,
			AggMethod:        agg,
			Format:           r.Format,
			ExtraCalculation: strings.TrimSpace(extra),
		})
	}
	return cols, nil
}

// Dimension is a drill-down column, labelled with its comment.
type Dimension struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// FieldRoles is the role assignment derived from a column configuration.
type FieldRoles struct {
	DateColumn       string
	DateFormat       string
	MetricColumn     string
	AggMethod        model.AggMethod
	ExtraCalculation string
	MetricFormat     model.MetricFormat
	Dimensions       []Dimension
	Filters          []model.ColumnDescriptor

	// Ignored lists later date/metric columns shadowed by the first match.
	Ignored []string
}

func (r FieldRoles) HasDimension(name string) bool {
	for _, d := range r.Dimensions {
		if d.Value == name {
			return true
		}
	}
	return false
}

// Resolve assigns roles in declaration order. The first date column and the
// first metric column win.
func Resolve(cols []model.ColumnDescriptor) (FieldRoles, error) {
	var (
		roles            FieldRoles
		seenDate, seenMx bool
	)

	for _, c := range cols {
		switch c.Role {
		case model.RoleDate:
			if seenDate {
				roles.Ignored = append(roles.Ignored, c.ColumnName)
				continue
			}
			seenDate = true
			roles.DateColumn = c.ColumnName
			roles.DateFormat = c.Format
		case model.RoleMetric:
			if seenMx {
				roles.Ignored = append(roles.Ignored, c.ColumnName)
				continue
			}
			seenMx = true
			roles.MetricColumn = c.ColumnName
			roles.AggMethod = c.AggMethod
			roles.ExtraCalculation = c.ExtraCalculation
			roles.MetricFormat = model.MetricFormat(c.Format)
		case model.RoleDimension:
			label := c.ColumnComment
			if label == "" {
				label = c.ColumnName
			}
			roles.Dimensions = append(roles.Dimensions, Dimension{Label: label, Value: c.ColumnName})
		case model.RoleFilter:
			roles.Filters = append(roles.Filters, c)
		}
	}

	if !seenDate {
		return FieldRoles{}, &ConfigurationError{Err: ErrNoDateField}
	}
	if !seenMx {
		return FieldRoles{}, &ConfigurationError{Err: ErrNoMetricField}
	}
	if roles.AggMethod == model.AggNone {
		roles.AggMethod = model.AggSum
	}
	if len(roles.Ignored) > 0 {
		slog.Warn("fieldrole: duplicate date or metric columns ignored", "columns", roles.Ignored)
	}
	return roles, nil
}

// ParseAndResolve is Parse followed by Resolve.
func ParseAndResolve(text string) (FieldRoles, error) {
	cols, err := Parse(text)
	if err != nil {
		return FieldRoles{}, err
	}
	return Resolve(cols)
}
