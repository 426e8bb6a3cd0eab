// Package planner turns SQL boolean expressions into expression trees.
//
// Only conjunctions of equalities are supported, which is what the join and
// selection operators compile. Column types come from the caller's bindings.
package planner

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/pkg/errors"

	"bytepipe/core"
	"bytepipe/expr"
)

// ConstKind is the type of a SQL constant.
type ConstKind int

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstString
	ConstBool
)

// Const is a SQL constant from a predicate.
type Const struct {
	Kind  ConstKind
	Int   int64
	Float float64
	Str   string
	Bool  bool
}

// Field is a column a predicate may reference.
type Field interface {
	// Node is the expression producing the column's values.
	Node() expr.Node
	EqualsField(other Field) (expr.Node, error)
	EqualsConst(c Const) (expr.Node, error)
}

// TypedField is a Field whose values have type T.
type TypedField[T comparable] struct {
	node expr.Node
}

// NewField binds node as a column of type T.
func NewField[T comparable](node expr.Node) *TypedField[T] {
	return &TypedField[T]{node: node}
}

func (f *TypedField[T]) Node() expr.Node { return f.node }

func (f *TypedField[T]) EqualsField(other Field) (expr.Node, error) {
	o, ok := other.(*TypedField[T])
	if !ok {
		return nil, core.Structural(core.TraceComponentPlanner, core.TypeMismatch,
			"cannot compare %s with %s of a different type", f.node.Output(), other.Node().Output())
	}
	return expr.Equals[T](f.node, o.node), nil
}

func (f *TypedField[T]) EqualsConst(c Const) (expr.Node, error) {
	v, err := convertConst[T](c)
	if err != nil {
		return nil, err
	}
	return expr.Equals[T](f.node, expr.Literal(v)), nil
}

func convertConst[T comparable](c Const) (T, error) {
	var zero T
	var v any
	switch any(zero).(type) {
	case string:
		if c.Kind == ConstString {
			v = c.Str
		}
	case int64:
		if c.Kind == ConstInt {
			v = c.Int
		}
	case int:
		if c.Kind == ConstInt {
			v = int(c.Int)
		}
	case int32:
		if c.Kind == ConstInt {
			v = int32(c.Int)
		}
	case float64:
		switch c.Kind {
		case ConstFloat:
			v = c.Float
		case ConstInt:
			v = float64(c.Int)
		}
	case bool:
		if c.Kind == ConstBool {
			v = c.Bool
		}
	}
	if v == nil {
		return zero, core.Structural(core.TraceComponentPlanner, core.TypeMismatch,
			"constant of kind %d does not fit a %T column", c.Kind, zero)
	}
	return v.(T), nil
}

// ParsePredicate parses a SQL boolean expression such as
// "dept = 'eng' AND level = 2" and builds its expression tree over bindings.
func ParsePredicate(where string, bindings map[string]Field) (expr.Node, error) {
	result, err := pg_query.Parse("SELECT 1 WHERE " + where)
	if err != nil {
		return nil, errors.Wrapf(err, "parse predicate %q", where)
	}
	if len(result.Stmts) != 1 {
		return nil, core.Structural(core.TraceComponentPlanner, core.UnsupportedExpression,
			"predicate %q is not a single expression", where)
	}
	selectStmt := result.Stmts[0].Stmt.GetSelectStmt()
	if selectStmt == nil || selectStmt.WhereClause == nil {
		return nil, core.Structural(core.TraceComponentPlanner, core.UnsupportedExpression,
			"predicate %q is not a boolean expression", where)
	}
	p := &predicateBuilder{bindings: bindings}
	return p.build(selectStmt.WhereClause)
}

type predicateBuilder struct {
	bindings map[string]Field
}

func (p *predicateBuilder) build(node *pg_query.Node) (expr.Node, error) {
	if boolExpr := node.GetBoolExpr(); boolExpr != nil {
		if boolExpr.Boolop != pg_query.BoolExprType_AND_EXPR {
			return nil, core.Structural(core.TraceComponentPlanner, core.UnsupportedExpression,
				"only AND is supported, got %s", boolExpr.Boolop)
		}
		var tree expr.Node
		for _, arg := range boolExpr.Args {
			n, err := p.build(arg)
			if err != nil {
				return nil, err
			}
			if tree == nil {
				tree = n
			} else {
				tree = expr.And(tree, n)
			}
		}
		return tree, nil
	}

	if aExpr := node.GetAExpr(); aExpr != nil {
		if aExpr.Kind != pg_query.A_Expr_Kind_AEXPR_OP || len(aExpr.Name) != 1 ||
			aExpr.Name[0].GetString_() == nil || aExpr.Name[0].GetString_().Sval != "=" {
			return nil, core.Structural(core.TraceComponentPlanner, core.UnsupportedExpression,
				"only equality comparisons are supported")
		}
		return p.equality(aExpr.Lexpr, aExpr.Rexpr)
	}

	return nil, core.Structural(core.TraceComponentPlanner, core.UnsupportedExpression,
		"unsupported predicate node %T", node.GetNode())
}

func (p *predicateBuilder) equality(l, r *pg_query.Node) (expr.Node, error) {
	lf, lok, err := p.field(l)
	if err != nil {
		return nil, err
	}
	rf, rok, err := p.field(r)
	if err != nil {
		return nil, err
	}
	switch {
	case lok && rok:
		return lf.EqualsField(rf)
	case lok:
		c, err := constant(r)
		if err != nil {
			return nil, err
		}
		return lf.EqualsConst(c)
	case rok:
		c, err := constant(l)
		if err != nil {
			return nil, err
		}
		return rf.EqualsConst(c)
	default:
		return nil, core.Structural(core.TraceComponentPlanner, core.UnsupportedExpression,
			"equality between two constants")
	}
}

// field resolves a column reference. ok is false when node is not one.
func (p *predicateBuilder) field(node *pg_query.Node) (Field, bool, error) {
	columnRef := node.GetColumnRef()
	if columnRef == nil {
		return nil, false, nil
	}
	parts := make([]string, 0, len(columnRef.Fields))
	for _, f := range columnRef.Fields {
		s := f.GetString_()
		if s == nil {
			return nil, false, core.Structural(core.TraceComponentPlanner, core.UnsupportedExpression,
				"unsupported column reference")
		}
		parts = append(parts, s.Sval)
	}
	name := strings.Join(parts, ".")
	f, ok := p.bindings[name]
	if !ok {
		return nil, false, core.Structural(core.TraceComponentPlanner, core.UnresolvedAttribute,
			"column %q is not bound", name)
	}
	return f, true, nil
}

func constant(node *pg_query.Node) (Const, error) {
	aConst := node.GetAConst()
	if aConst == nil || aConst.Isnull {
		return Const{}, core.Structural(core.TraceComponentPlanner, core.UnsupportedExpression,
			"expected a non-null constant")
	}
	if ival := aConst.GetIval(); ival != nil {
		return Const{Kind: ConstInt, Int: int64(ival.Ival)}, nil
	}
	if sval := aConst.GetSval(); sval != nil {
		return Const{Kind: ConstString, Str: sval.Sval}, nil
	}
	if fval := aConst.GetFval(); fval != nil {
		// Integers too large for int4 arrive as Fval.
		if i, err := strconv.ParseInt(fval.Fval, 10, 64); err == nil {
			return Const{Kind: ConstInt, Int: i}, nil
		}
		f, err := strconv.ParseFloat(fval.Fval, 64)
		if err != nil {
			return Const{}, errors.Wrapf(err, "parse numeric constant %q", fval.Fval)
		}
		return Const{Kind: ConstFloat, Float: f}, nil
	}
	if bval := aConst.GetBoolval(); bval != nil {
		return Const{Kind: ConstBool, Bool: bval.Boolval}, nil
	}
	return Const{}, core.Structural(core.TraceComponentPlanner, core.UnsupportedExpression,
		"unsupported constant")
}
