// Package sqlbuilder is a small SELECT statement AST rendered for a target SQL
// dialect with bound arguments.
package sqlbuilder

import (
	"strconv"
	"strings"
)

// Dialect is what the renderer needs to know about the target engine.
type Dialect interface {
	QuoteIdent(name string) string
	Placeholder(n int) string
}

// Expr is a node of the statement tree.
type Expr interface {
	build(b *builder)
}

type builder struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (b *builder) write(s string) {
	b.sb.WriteString(s)
}

func (b *builder) bind(v any) {
	b.args = append(b.args, v)
	b.sb.WriteString(b.d.Placeholder(len(b.args)))
}

func (b *builder) list(exprs []Expr, sep string) {
	for i, e := range exprs {
		if i > 0 {
			b.write(sep)
		}
		e.build(b)
	}
}

// Render returns the SQL text of e and its bound arguments in order.
func Render(d Dialect, e Expr) (string, []any) {
	b := &builder{d: d}
	e.build(b)
	return b.sb.String(), b.args
}

type ident []string

// Ident is a quoted, optionally qualified identifier.
func Ident(parts ...string) Expr { return ident(parts) }

func (i ident) build(b *builder) {
	for n, p := range i {
		if n > 0 {
			b.write(".")
		}
		b.write(b.d.QuoteIdent(p))
	}
}

type raw string

// Raw is emitted verbatim. Only trusted or validated text may be passed.
func Raw(sql string) Expr { return raw(sql) }

func (r raw) build(b *builder) { b.write(string(r)) }

type param struct{ v any }

// Param is a bound argument.
func Param(v any) Expr { return param{v} }

func (p param) build(b *builder) { b.bind(p.v) }

type str string

// String is an inline string literal.
func String(s string) Expr { return str(s) }

func (s str) build(b *builder) {
	b.write("'")
	b.write(strings.ReplaceAll(string(s), "'", "''"))
	b.write("'")
}

type call struct {
	name string
	args []Expr
}

// Func is a function call. name is emitted verbatim.
func Func(name string, args ...Expr) Expr { return call{name: name, args: args} }

func (c call) build(b *builder) {
	b.write(c.name)
	b.write("(")
	b.list(c.args, ", ")
	b.write(")")
}

type binary struct {
	l  Expr
	op string
	r  Expr
}

func Binary(l Expr, op string, r Expr) Expr { return binary{l, op, r} }

func Eq(l, r Expr) Expr  { return binary{l, "=", r} }
func Gte(l, r Expr) Expr { return binary{l, ">=", r} }
func Lt(l, r Expr) Expr  { return binary{l, "<", r} }
func Lte(l, r Expr) Expr { return binary{l, "<=", r} }

func (x binary) build(b *builder) {
	x.l.build(b)
	b.write(" " + x.op + " ")
	x.r.build(b)
}

type between struct{ e, lo, hi Expr }

func Between(e, lo, hi Expr) Expr { return between{e, lo, hi} }

func (x between) build(b *builder) {
	x.e.build(b)
	b.write(" BETWEEN ")
	x.lo.build(b)
	b.write(" AND ")
	x.hi.build(b)
}

type and []Expr

// And joins predicates. Nil entries are skipped; an empty And renders nothing
// and should not be used as a WHERE clause.
func And(exprs ...Expr) Expr {
	out := make(and, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (a and) build(b *builder) { b.list(a, " AND ") }

type paren struct{ e Expr }

func Paren(e Expr) Expr { return paren{e} }

func (p paren) build(b *builder) {
	b.write("(")
	p.e.build(b)
	b.write(")")
}

type concat []Expr

// Concat writes its parts separated by a single space.
func Concat(parts ...Expr) Expr { return concat(parts) }

func (c concat) build(b *builder) { b.list(c, " ") }

type Order struct {
	Expr Expr
	Desc bool
}

func (o Order) build(b *builder) {
	o.Expr.build(b)
	if o.Desc {
		b.write(" DESC")
	} else {
		b.write(" ASC")
	}
}

type window struct {
	fn        Expr
	partition []Expr
	order     []Order
}

// Over applies a window specification to fn.
func Over(fn Expr, partitionBy []Expr, orderBy []Order) Expr {
	return window{fn: fn, partition: partitionBy, order: orderBy}
}

func (w window) build(b *builder) {
	w.fn.build(b)
	b.write(" OVER (")
	if len(w.partition) > 0 {
		b.write("PARTITION BY ")
		b.list(w.partition, ", ")
	}
	if len(w.order) > 0 {
		if len(w.partition) > 0 {
			b.write(" ")
		}
		b.write("ORDER BY ")
		for i, o := range w.order {
			if i > 0 {
				b.write(", ")
			}
			o.build(b)
		}
	}
	b.write(")")
}

type Column struct {
	Expr  Expr
	Alias string
}

type CTE struct {
	Name  string
	Query *Select
}

type Select struct {
	With     []CTE
	Distinct bool
	Columns  []Column
	From     Expr
	Where    Expr
	GroupBy  []Expr
	OrderBy  []Order
	Limit    int
	Offset   int
}

func (s *Select) build(b *builder) {
	if len(s.With) > 0 {
		b.write("WITH ")
		for i, c := range s.With {
			if i > 0 {
				b.write(", ")
			}
			b.write(b.d.QuoteIdent(c.Name))
			b.write(" AS (")
			c.Query.build(b)
			b.write(")")
		}
		b.write(" ")
	}

	b.write("SELECT ")
	if s.Distinct {
		b.write("DISTINCT ")
	}
	for i, c := range s.Columns {
		if i > 0 {
			b.write(", ")
		}
		c.Expr.build(b)
		if c.Alias != "" {
			b.write(" AS ")
			b.write(b.d.QuoteIdent(c.Alias))
		}
	}

	if s.From != nil {
		b.write(" FROM ")
		s.From.build(b)
	}
	if s.Where != nil {
		if a, ok := s.Where.(and); !ok || len(a) > 0 {
			b.write(" WHERE ")
			s.Where.build(b)
		}
	}
	if len(s.GroupBy) > 0 {
		b.write(" GROUP BY ")
		b.list(s.GroupBy, ", ")
	}
	if len(s.OrderBy) > 0 {
		b.write(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				b.write(", ")
			}
			o.build(b)
		}
	}
	if s.Limit > 0 {
		b.write(" LIMIT " + strconv.Itoa(s.Limit))
		if s.Offset > 0 {
			b.write(" OFFSET " + strconv.Itoa(s.Offset))
		}
	}
}
