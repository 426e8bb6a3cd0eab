package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bytepipe/core"
	"bytepipe/expr"
	"bytepipe/vectorized"
)

type employee struct {
	Name  string
	Dept  string
	Level int
	Score float64
}

type team struct {
	Dept string
}

func employeeBindings(idx int) map[string]Field {
	emp := expr.Input(idx, "emp")
	return map[string]Field{
		"dept":  NewField[string](expr.Attribute(emp, "dept", func(e employee) string { return e.Dept })),
		"level": NewField[int](expr.Attribute(emp, "level", func(e employee) int { return e.Level })),
		"score": NewField[float64](expr.Attribute(emp, "score", func(e employee) float64 { return e.Score })),
	}
}

func selectNames(t *testing.T, where string) []string {
	t.Helper()
	comp := &expr.Computation{}
	idx := comp.AddInput("employees", vectorized.Attributes{"emp"})
	pred, err := ParsePredicate(where, employeeBindings(idx))
	require.NoError(t, err)

	c, err := expr.CompileSelection(pred, comp, vectorized.Attributes{"emp"})
	require.NoError(t, err)
	in := vectorized.NewBatch()
	vectorized.PutColumn(in, 0, []employee{
		{"ada", "eng", 3, 1.5},
		{"bob", "ops", 2, 2},
		{"cy", "eng", 2, 2},
	}, vectorized.Borrowed)
	out, err := c.Execute(in)
	require.NoError(t, err)
	emps, err := vectorized.GetColumn[employee](out, 0)
	require.NoError(t, err)
	var names []string
	for _, e := range emps {
		names = append(names, e.Name)
	}
	return names
}

func TestParsePredicateSelects(t *testing.T) {
	require.Equal(t, []string{"ada", "cy"}, selectNames(t, "dept = 'eng'"))
	require.Equal(t, []string{"cy"}, selectNames(t, "dept = 'eng' AND level = 2"))
	require.Equal(t, []string{"bob", "cy"}, selectNames(t, "2 = level"))
	require.Equal(t, []string{"ada"}, selectNames(t, "score = 1.5 AND dept = 'eng' AND level = 3"))
	require.Equal(t, []string{"bob", "cy"}, selectNames(t, "score = 2"))
}

func TestParsePredicateTree(t *testing.T) {
	pred, err := ParsePredicate("dept = 'eng' AND level = 2", employeeBindings(0))
	require.NoError(t, err)
	require.Equal(t, expr.KindAnd, pred.Kind())
	require.Equal(t, expr.KindEquals, pred.Children()[0].Kind())
	require.Equal(t, expr.KindLiteral, pred.Children()[1].Children()[1].Kind())
}

func TestParseJoinPredicate(t *testing.T) {
	comp := &expr.Computation{}
	left := comp.AddInput("employees", vectorized.Attributes{"emp"})
	right := comp.AddInput("teams", vectorized.Attributes{"team"})
	bindings := map[string]Field{
		"e.dept": NewField[string](expr.Attribute(expr.Input(left, "emp"), "dept", func(e employee) string { return e.Dept })),
		"t.dept": NewField[string](expr.Attribute(expr.Input(right, "team"), "dept", func(t team) string { return t.Dept })),
	}
	pred, err := ParsePredicate("e.dept = t.dept", bindings)
	require.NoError(t, err)

	_, err = expr.CompileHashTree(pred, comp, vectorized.Attributes{"emp"}, expr.LeftSide)
	require.NoError(t, err)
	_, err = expr.CompileHashTree(pred, comp, vectorized.Attributes{"team"}, expr.RightSide)
	require.NoError(t, err)
}

func TestParsePredicateErrors(t *testing.T) {
	for _, tc := range []struct {
		where string
		kind  core.StructuralKind
	}{
		{"dept = 'eng' OR level = 2", core.UnsupportedExpression},
		{"NOT dept = 'eng'", core.UnsupportedExpression},
		{"level > 2", core.UnsupportedExpression},
		{"1 = 1", core.UnsupportedExpression},
		{"salary = 3", core.UnresolvedAttribute},
		{"dept = 3", core.TypeMismatch},
		{"dept = level", core.TypeMismatch},
		{"dept = NULL", core.UnsupportedExpression},
	} {
		t.Run(tc.where, func(t *testing.T) {
			_, err := ParsePredicate(tc.where, employeeBindings(0))
			require.Error(t, err)
			kind, ok := core.StructuralKindOf(err)
			require.True(t, ok, "%v", err)
			require.Equal(t, tc.kind, kind)
		})
	}

	_, err := ParsePredicate("dept = = 'eng'", employeeBindings(0))
	require.Error(t, err)
	require.False(t, core.IsStructural(err))
}
