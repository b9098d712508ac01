// Package query compiles a metric request into an aggregate SELECT statement
// for the data source's dialect.
package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/metricboost/metric-engine/internal/dialect"
	"github.com/metricboost/metric-engine/internal/fieldrole"
	"github.com/metricboost/metric-engine/internal/model"
	"github.com/metricboost/metric-engine/internal/period"
	"github.com/metricboost/metric-engine/internal/predicate"
	sb "github.com/metricboost/metric-engine/internal/sqlbuilder"
)

// Output column aliases shared by every compiled statement.
const (
	ColPeriod    = "period"
	ColDimension = "dimension"
	ColValue     = "value"
	colRowNum    = "row_num"
	cteRanked    = "ranked"
)

const DefaultRankLimit = 10

// ValidationError reports a request that cannot be compiled safely.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Spec is everything needed to compile one metric data query.
type Spec struct {
	Dialect dialect.Dialect
	Table   string
	Window  period.Window
	Roles   fieldrole.FieldRoles
	// Columns are all configured columns. Filters may only reference these.
	Columns   []model.ColumnDescriptor
	Dimension string
	Filters   []string
	Sort      model.Sort
}

type Compiled struct {
	SQL    string
	Args   []any
	Ranked bool
	// Filters holds the canonical form of every applied predicate, sorted.
	Filters     []string
	Calculation string
}

type Compiler struct {
	rankLimit int
}

func NewCompiler(rankLimit int) *Compiler {
	if rankLimit <= 0 {
		rankLimit = DefaultRankLimit
	}
	return &Compiler{rankLimit: rankLimit}
}

func (c *Compiler) RankLimit() int {
	return c.rankLimit
}

func aggFunc(m model.AggMethod) (string, error) {
	switch m {
	case model.AggCount:
		return "COUNT", nil
	case model.AggSum, model.AggNone:
		return "SUM", nil
	case model.AggAvg:
		return "AVG", nil
	case model.AggMax:
		return "MAX", nil
	case model.AggMin:
		return "MIN", nil
	}
	return "", &ValidationError{Field: "aggMethod", Reason: fmt.Sprintf("unsupported aggregation %q", m)}
}

func validTable(name string) bool {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !fieldrole.ValidIdentifier(p) {
			return false
		}
	}
	return true
}

// Table is the quoted, optionally schema qualified table reference.
func Table(name string) (sb.Expr, error) {
	if !validTable(name) {
		return nil, &ValidationError{Field: "table", Reason: fmt.Sprintf("%q is not a valid table name", name)}
	}
	return sb.Ident(strings.Split(name, ".")...), nil
}

// DateBound renders the window's bound on the date column.
func DateBound(col sb.Expr, b period.Bound) sb.Expr {
	switch b.Kind {
	case period.BoundSince:
		return sb.And(
			sb.Gte(col, sb.Param(b.Start.Format(period.DateLayout))),
			sb.Lt(col, sb.Param(b.End.Format(period.DateLayout))),
		)
	case period.BoundBetween:
		return sb.Between(col, sb.Param(b.Start.Format(period.DateLayout)), sb.Param(b.End.Format(period.DateLayout)))
	default:
		return sb.Eq(sb.Raw("1"), sb.Raw("1"))
	}
}

type filterSet struct {
	exprs     []sb.Expr
	canonical []string
}

func (c *Compiler) filters(s Spec) (filterSet, error) {
	// The parser folds unquoted identifiers to lower case.
	allowed := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		allowed[strings.ToLower(col.ColumnName)] = true
	}

	var fs filterSet
	add := func(field, text string) error {
		p, err := predicate.ParsePredicate(text)
		if err != nil {
			return &ValidationError{Field: field, Err: err}
		}
		if len(allowed) > 0 {
			for _, col := range p.Columns {
				if !allowed[strings.ToLower(col)] {
					return &ValidationError{Field: field, Reason: fmt.Sprintf("unknown column %q", col)}
				}
			}
		}
		fs.exprs = append(fs.exprs, sb.Paren(sb.Raw(p.Text)))
		fs.canonical = append(fs.canonical, p.Canonical)
		return nil
	}

	for _, f := range s.Roles.Filters {
		if f.ExtraCalculation == "" {
			continue
		}
		if err := add("filter column "+f.ColumnName, f.ColumnName+" "+f.ExtraCalculation); err != nil {
			return filterSet{}, err
		}
	}
	for _, f := range s.Filters {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := add("dimFilter", f); err != nil {
			return filterSet{}, err
		}
	}
	slices.Sort(fs.canonical)
	return fs, nil
}

// Compile builds the metric data query. A dimension selects the ranked
// variant that keeps the top rows of every period.
func (c *Compiler) Compile(s Spec) (*Compiled, error) {
	if s.Dialect == nil {
		return nil, &ValidationError{Field: "dialect", Reason: "missing"}
	}
	table, err := Table(s.Table)
	if err != nil {
		return nil, err
	}
	if !fieldrole.ValidIdentifier(s.Roles.DateColumn) {
		return nil, &ValidationError{Field: "date column", Reason: fmt.Sprintf("%q is not a valid column", s.Roles.DateColumn)}
	}
	if !fieldrole.ValidIdentifier(s.Roles.MetricColumn) {
		return nil, &ValidationError{Field: "metric column", Reason: fmt.Sprintf("%q is not a valid column", s.Roles.MetricColumn)}
	}
	if s.Dimension != "" && !s.Roles.HasDimension(s.Dimension) {
		return nil, &ValidationError{Field: "dimSelect", Reason: fmt.Sprintf("%q is not a dimension of this metric", s.Dimension)}
	}

	fn, err := aggFunc(s.Roles.AggMethod)
	if err != nil {
		return nil, err
	}
	value := sb.Func(fn, sb.Ident(s.Roles.MetricColumn))

	out := &Compiled{}
	if s.Roles.ExtraCalculation != "" {
		calc, err := predicate.ParseCalculation(s.Roles.ExtraCalculation)
		if err != nil {
			return nil, &ValidationError{Field: "extraCalculation", Err: err}
		}
		value = sb.Concat(value, sb.Raw(calc.Text))
		out.Calculation = calc.Canonical
	}

	fs, err := c.filters(s)
	if err != nil {
		return nil, err
	}
	out.Filters = fs.canonical

	dateCol := sb.Ident(s.Roles.DateColumn)
	where := sb.And(append([]sb.Expr{DateBound(dateCol, s.Window.Bound)}, fs.exprs...)...)
	desc := s.Sort != model.SortAsc

	var stmt *sb.Select
	switch {
	case s.Window.Cumulative():
		if len(s.Window.Labels) == 0 {
			return nil, &ValidationError{Field: "window", Reason: "cumulative window without a label"}
		}
		stmt = &sb.Select{
			Columns: []sb.Column{{Expr: sb.String(s.Window.Labels[0]), Alias: ColPeriod}},
			From:    table,
			Where:   where,
		}
		if s.Dimension != "" {
			dim := sb.Ident(s.Dimension)
			stmt.Columns = append(stmt.Columns, sb.Column{Expr: dim, Alias: ColDimension})
			stmt.GroupBy = []sb.Expr{dim}
			stmt.OrderBy = []sb.Order{{Expr: sb.Ident(ColValue), Desc: desc}}
		}
		stmt.Columns = append(stmt.Columns, sb.Column{Expr: value, Alias: ColValue})

	case s.Dimension != "":
		bucket := s.Dialect.Bucket(dateCol, s.Window.Bucket)
		dim := sb.Ident(s.Dimension)
		inner := &sb.Select{
			Columns: []sb.Column{
				{Expr: bucket, Alias: ColPeriod},
				{Expr: dim, Alias: ColDimension},
				{Expr: value, Alias: ColValue},
				{Expr: sb.Over(sb.Raw("ROW_NUMBER()"), []sb.Expr{bucket}, []sb.Order{{Expr: value, Desc: desc}}), Alias: colRowNum},
			},
			From:    table,
			Where:   where,
			GroupBy: []sb.Expr{bucket, dim},
		}
		stmt = &sb.Select{
			With: []sb.CTE{{Name: cteRanked, Query: inner}},
			Columns: []sb.Column{
				{Expr: sb.Ident(ColPeriod)},
				{Expr: sb.Ident(ColDimension)},
				{Expr: sb.Ident(ColValue)},
			},
			From:    sb.Ident(cteRanked),
			Where:   sb.Lte(sb.Ident(colRowNum), sb.Raw(fmt.Sprint(c.rankLimit))),
			OrderBy: []sb.Order{{Expr: sb.Ident(ColPeriod)}, {Expr: sb.Ident(ColValue), Desc: desc}},
		}
		out.Ranked = true

	default:
		bucket := s.Dialect.Bucket(dateCol, s.Window.Bucket)
		stmt = &sb.Select{
			Columns: []sb.Column{
				{Expr: bucket, Alias: ColPeriod},
				{Expr: value, Alias: ColValue},
			},
			From:    table,
			Where:   where,
			GroupBy: []sb.Expr{bucket},
			OrderBy: []sb.Order{{Expr: sb.Ident(ColPeriod)}, {Expr: sb.Ident(ColValue), Desc: desc}},
		}
	}

	out.SQL, out.Args = sb.Render(s.Dialect, stmt)
	return out, nil
}

// CompileDistinct lists the distinct values of a dimension column within the
// window's date bound.
func (c *Compiler) CompileDistinct(d dialect.Dialect, tableName string, w period.Window, roles fieldrole.FieldRoles, dimension string) (*Compiled, error) {
	table, err := Table(tableName)
	if err != nil {
		return nil, err
	}
	if !roles.HasDimension(dimension) {
		return nil, &ValidationError{Field: "dimension", Reason: fmt.Sprintf("%q is not a dimension of this metric", dimension)}
	}
	if !fieldrole.ValidIdentifier(roles.DateColumn) {
		return nil, &ValidationError{Field: "date column", Reason: fmt.Sprintf("%q is not a valid column", roles.DateColumn)}
	}

	stmt := &sb.Select{
		Distinct: true,
		Columns:  []sb.Column{{Expr: sb.Ident(dimension), Alias: ColValue}},
		From:     table,
		Where:    DateBound(sb.Ident(roles.DateColumn), w.Bound),
		OrderBy:  []sb.Order{{Expr: sb.Ident(ColValue)}},
	}
	sql, args := sb.Render(d, stmt)
	return &Compiled{SQL: sql, Args: args}, nil
}
