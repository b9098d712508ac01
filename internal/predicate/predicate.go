// Package predicate validates the free-form SQL fragments a metric request or
// a column configuration may carry: row filters such as "region = 'north'"
// and post-aggregation calculations such as "/ 100".
//
// Fragments are parsed with the PostgreSQL parser and only a conservative
// expression subset is accepted. The deparsed tree doubles as the canonical
// form used in cache keys.
package predicate

import (
	"fmt"
	"slices"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ValidationError reports a fragment that is not an acceptable expression.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid expression %q: %s", e.Input, e.Reason)
}

// Predicate is a validated boolean row filter.
type Predicate struct {
	// Text is the fragment as supplied, trimmed.
	Text string
	// Canonical is the normalized rendering of the parse tree.
	Canonical string
	// Columns lists the column names the fragment references, sorted.
	Columns []string
}

// Calculation is a validated post-aggregation suffix applied to a value.
type Calculation struct {
	Text      string
	Canonical string
}

const valuePlaceholder = "__metric_value__"

var forbidden = []string{"--", "/*", "*/", ";", "#", `\`}

var allowedFuncs = map[string]bool{
	"abs": true, "ceil": true, "ceiling": true, "floor": true, "round": true,
	"lower": true, "upper": true, "btrim": true, "ltrim": true, "rtrim": true,
	"length": true, "char_length": true, "substr": true, "substring": true,
	"concat": true, "date": true,
}

var arithmeticOps = map[string]bool{"+": true, "-": true, "*": true, "/": true, "%": true}

func operatorName(e *pg_query.A_Expr) string {
	if len(e.Name) == 0 {
		return ""
	}
	if s := e.Name[len(e.Name)-1].GetString_(); s != nil {
		return s.Sval
	}
	return ""
}

func precheck(s string) error {
	if strings.TrimSpace(s) == "" {
		return &ValidationError{Input: s, Reason: "empty"}
	}
	for _, f := range forbidden {
		if strings.Contains(s, f) {
			return &ValidationError{Input: s, Reason: fmt.Sprintf("contains %q", f)}
		}
	}
	return nil
}

func parseSingleSelect(input, sql string) (*pg_query.ParseResult, *pg_query.SelectStmt, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, nil, &ValidationError{Input: input, Reason: err.Error()}
	}
	if len(tree.Stmts) != 1 {
		return nil, nil, &ValidationError{Input: input, Reason: "multiple statements"}
	}
	sel := tree.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil || sel.Larg != nil || sel.Rarg != nil || sel.WithClause != nil ||
		len(sel.FromClause) > 0 || len(sel.GroupClause) > 0 || sel.HavingClause != nil ||
		len(sel.SortClause) > 0 || sel.LimitCount != nil || sel.LimitOffset != nil {
		return nil, nil, &ValidationError{Input: input, Reason: "not a plain expression"}
	}
	return tree, sel, nil
}

// ParsePredicate validates a boolean filter fragment.
func ParsePredicate(fragment string) (Predicate, error) {
	text := strings.TrimSpace(fragment)
	if err := precheck(text); err != nil {
		return Predicate{}, err
	}

	tree, sel, err := parseSingleSelect(text, "SELECT 1 WHERE "+text)
	if err != nil {
		return Predicate{}, err
	}
	if sel.WhereClause == nil {
		return Predicate{}, &ValidationError{Input: text, Reason: "no condition"}
	}

	w := &walker{input: text, columns: map[string]struct{}{}}
	if err := w.walk(sel.WhereClause); err != nil {
		return Predicate{}, err
	}

	deparsed, err := pg_query.Deparse(tree)
	if err != nil {
		return Predicate{}, &ValidationError{Input: text, Reason: err.Error()}
	}
	canonical := deparsed
	if i := strings.Index(deparsed, " WHERE "); i >= 0 {
		canonical = deparsed[i+len(" WHERE "):]
	}

	return Predicate{Text: text, Canonical: canonical, Columns: w.sortedColumns()}, nil
}

// ParseCalculation validates an arithmetic suffix such as "/ 100" or
// "* 1.0 / 1000" that is appended to an aggregated value.
func ParseCalculation(extra string) (Calculation, error) {
	text := strings.TrimSpace(extra)
	if err := precheck(text); err != nil {
		return Calculation{}, err
	}

	tree, sel, err := parseSingleSelect(text, "SELECT "+valuePlaceholder+" "+text)
	if err != nil {
		return Calculation{}, err
	}
	if sel.WhereClause != nil || len(sel.TargetList) != 1 {
		return Calculation{}, &ValidationError{Input: text, Reason: "not a single expression"}
	}
	target := sel.TargetList[0].GetResTarget()
	if target == nil || target.Name != "" {
		return Calculation{}, &ValidationError{Input: text, Reason: "not an arithmetic suffix"}
	}

	w := &walker{input: text, columns: map[string]struct{}{}, arithmeticOnly: true}
	if err := w.walk(target.Val); err != nil {
		return Calculation{}, err
	}
	if cols := w.sortedColumns(); len(cols) != 1 || cols[0] != valuePlaceholder {
		return Calculation{}, &ValidationError{Input: text, Reason: "must only operate on the aggregated value"}
	}

	deparsed, err := pg_query.Deparse(tree)
	if err != nil {
		return Calculation{}, &ValidationError{Input: text, Reason: err.Error()}
	}
	canonical := strings.TrimPrefix(deparsed, "SELECT ")
	canonical = strings.TrimSpace(strings.TrimPrefix(canonical, valuePlaceholder))

	return Calculation{Text: text, Canonical: canonical}, nil
}

type walker struct {
	input          string
	columns        map[string]struct{}
	arithmeticOnly bool
}

func (w *walker) reject(reason string) error {
	return &ValidationError{Input: w.input, Reason: reason}
}

func (w *walker) sortedColumns() []string {
	cols := make([]string, 0, len(w.columns))
	for c := range w.columns {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

func (w *walker) walkAll(nodes []*pg_query.Node) error {
	for _, n := range nodes {
		if err := w.walk(n); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) walk(node *pg_query.Node) error {
	if node == nil {
		return nil
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_AConst:
		return nil
	case *pg_query.Node_ColumnRef:
		if len(n.ColumnRef.Fields) != 1 {
			return w.reject("qualified column references are not allowed")
		}
		s := n.ColumnRef.Fields[0].GetString_()
		if s == nil {
			return w.reject("star is not allowed")
		}
		w.columns[s.Sval] = struct{}{}
		return nil
	case *pg_query.Node_TypeCast:
		return w.walk(n.TypeCast.Arg)
	case *pg_query.Node_AExpr:
		if w.arithmeticOnly && (n.AExpr.Kind != pg_query.A_Expr_Kind_AEXPR_OP || !arithmeticOps[operatorName(n.AExpr)]) {
			return w.reject("only arithmetic operators are allowed")
		}
		switch n.AExpr.Kind {
		case pg_query.A_Expr_Kind_AEXPR_OP,
			pg_query.A_Expr_Kind_AEXPR_IN,
			pg_query.A_Expr_Kind_AEXPR_LIKE,
			pg_query.A_Expr_Kind_AEXPR_ILIKE,
			pg_query.A_Expr_Kind_AEXPR_BETWEEN,
			pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN,
			pg_query.A_Expr_Kind_AEXPR_NULLIF,
			pg_query.A_Expr_Kind_AEXPR_DISTINCT,
			pg_query.A_Expr_Kind_AEXPR_NOT_DISTINCT:
		default:
			return w.reject("operator is not allowed")
		}
		if err := w.walk(n.AExpr.Lexpr); err != nil {
			return err
		}
		return w.walk(n.AExpr.Rexpr)
	case *pg_query.Node_List:
		return w.walkAll(n.List.Items)
	case *pg_query.Node_FuncCall:
		fc := n.FuncCall
		if fc.Over != nil || fc.AggStar || fc.AggDistinct || fc.AggFilter != nil || len(fc.AggOrder) > 0 {
			return w.reject("aggregate and window functions are not allowed")
		}
		name := ""
		if len(fc.Funcname) > 0 {
			if s := fc.Funcname[len(fc.Funcname)-1].GetString_(); s != nil {
				name = strings.ToLower(s.Sval)
			}
		}
		if !allowedFuncs[name] {
			return w.reject(fmt.Sprintf("function %q is not allowed", name))
		}
		return w.walkAll(fc.Args)
	}

	if w.arithmeticOnly {
		return w.reject("only arithmetic expressions are allowed")
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_BoolExpr:
		return w.walkAll(n.BoolExpr.Args)
	case *pg_query.Node_NullTest:
		return w.walk(n.NullTest.Arg)
	case *pg_query.Node_BooleanTest:
		return w.walk(n.BooleanTest.Arg)
	case *pg_query.Node_CoalesceExpr:
		return w.walkAll(n.CoalesceExpr.Args)
	case *pg_query.Node_CaseExpr:
		if err := w.walk(n.CaseExpr.Arg); err != nil {
			return err
		}
		if err := w.walkAll(n.CaseExpr.Args); err != nil {
			return err
		}
		return w.walk(n.CaseExpr.Defresult)
	case *pg_query.Node_CaseWhen:
		if err := w.walk(n.CaseWhen.Expr); err != nil {
			return err
		}
		return w.walk(n.CaseWhen.Result)
	case *pg_query.Node_SubLink:
		return w.reject("sub-queries are not allowed")
	case *pg_query.Node_ParamRef:
		return w.reject("parameters are not allowed")
	}
	return w.reject(fmt.Sprintf("unsupported expression %T", node.Node))
}
