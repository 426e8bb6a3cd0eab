package expr

import (
	"fmt"

	"bytepipe/core"
	"bytepipe/vectorized"
)

// Compiled is a compiled tree: a chain of executors ending in a projection.
type Compiled struct {
	Executors []Executor
	// Schema is the attribute order of the batches the chain returns.
	Schema vectorized.Attributes
	// Result is the attribute produced by the tree's root.
	Result string
}

// Execute runs the chain. Intermediate batches stay alive because later
// batches borrow their columns.
func (c *Compiled) Execute(in *vectorized.Batch) (*vectorized.Batch, error) {
	cur := in
	for _, e := range c.Executors {
		next, err := e.Execute(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

type treeCompiler struct {
	schema    vectorized.Attributes
	executors []Executor
	// columns holds the attribute each compiled node wrote, keyed by node
	// identity. Distinct nodes never share a column, even with equal labels.
	columns map[compiledKey]string
}

type compiledKey struct {
	node   Node
	hashed bool
}

// hashChildren returns the children a hash-mode node reads: both hashed
// children of a conjunction, but only the side's operand of an equality.
func hashChildren(n Node, side Side) []Node {
	children := n.Children()
	if n.Kind() == KindEquals && len(children) == 2 {
		return children[side : side+1]
	}
	return children
}

// leafInput finds the single computation input the tree reads from. With
// hashSide set, only the operands hashed for that side are considered.
func leafInput(root Node, comp *Computation, hashSide *Side) (ComputationInput, error) {
	idx := -1
	var walk func(n Node, hashed bool) error
	walk = func(n Node, hashed bool) error {
		if leaf, ok := n.(*inputNode); ok {
			if idx >= 0 && leaf.input != idx {
				return core.Structural(core.TraceComponentCompiler, core.InvalidPlan,
					"expression reads inputs %d and %d", idx, leaf.input)
			}
			idx = leaf.input
		}
		children := n.Children()
		if hashed {
			children = hashChildren(n, *hashSide)
		}
		for _, c := range children {
			if err := walk(c, hashed && n.Kind() == KindAnd); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, hashSide != nil); err != nil {
		return ComputationInput{}, err
	}
	if idx < 0 {
		return ComputationInput{}, core.Structural(core.TraceComponentCompiler, core.InvalidPlan,
			"expression %s reads no computation input", root.Output())
	}
	return comp.input(idx)
}

func newTreeCompiler(root Node, comp *Computation, keep vectorized.Attributes, hashSide *Side) (*treeCompiler, error) {
	in, err := leafInput(root, comp, hashSide)
	if err != nil {
		return nil, err
	}
	for _, name := range keep {
		if in.Schema.IndexOf(name) < 0 {
			return nil, core.Structural(core.TraceComponentCompiler, core.UnresolvedAttribute,
				"kept attribute %q not found in input %s %s", name, in.Name, in.Schema)
		}
	}
	return &treeCompiler{schema: in.Schema, columns: make(map[compiledKey]string)}, nil
}

// visit compiles n after its children and returns the attribute holding its
// output. A node already compiled in this tree is reused instead of recomputed.
func (tc *treeCompiler) visit(n Node) (string, error) {
	if leaf, ok := n.(*inputNode); ok {
		if tc.schema.IndexOf(leaf.attr) < 0 {
			return "", core.Structural(core.TraceComponentCompiler, core.UnresolvedAttribute,
				"input attribute %q not found in %s", leaf.attr, tc.schema)
		}
		return leaf.attr, nil
	}
	key := compiledKey{node: n}
	if col, ok := tc.columns[key]; ok {
		return col, nil
	}
	operands := make(vectorized.Attributes, 0, Arity(n))
	for _, c := range n.Children() {
		col, err := tc.visit(c)
		if err != nil {
			return "", err
		}
		operands = append(operands, col)
	}
	e, err := n.Compile(tc.schema, operands, tc.schema)
	if err != nil {
		return "", err
	}
	return tc.add(key, n.Output(), e), nil
}

// visitHash compiles n in hash mode. Conjunction children are hashed too; the
// side's equality operand is compiled normally and becomes the hashed column.
func (tc *treeCompiler) visitHash(n Node, side Side) (string, error) {
	hc, ok := n.(HashCompiler)
	if !ok {
		return "", core.Structural(core.TraceComponentCompiler, core.HashModeUnsupported,
			"%s cannot be compiled in hash mode", describe(n))
	}
	key := compiledKey{node: n, hashed: true}
	if col, ok := tc.columns[key]; ok {
		return col, nil
	}
	operands := make(vectorized.Attributes, 0, Arity(n))
	for _, c := range hashChildren(n, side) {
		var (
			col string
			err error
		)
		if n.Kind() == KindAnd {
			col, err = tc.visitHash(c, side)
		} else {
			col, err = tc.visit(c)
		}
		if err != nil {
			return "", err
		}
		operands = append(operands, col)
	}
	e, err := hc.CompileHash(tc.schema, operands, tc.schema, side)
	if err != nil {
		return "", err
	}
	return tc.add(key, hc.HashOutput(side), e), nil
}

// add appends e, whose output lands right after the current schema, under
// label. A label already taken by another column gets a "#n" suffix.
func (tc *treeCompiler) add(key compiledKey, label string, e Executor) string {
	name := label
	for i := 2; tc.schema.IndexOf(name) >= 0; i++ {
		name = fmt.Sprintf("%s#%d", label, i)
	}
	tc.executors = append(tc.executors, e)
	tc.schema = tc.schema.With(name)
	tc.columns[key] = name
	return name
}

func (tc *treeCompiler) finish(keep vectorized.Attributes, result string) (*Compiled, error) {
	out := keep
	if keep.IndexOf(result) < 0 {
		out = keep.With(result)
	}
	project, err := CompileProject(tc.schema, out)
	if err != nil {
		return nil, err
	}
	core.GetTracer().Debug(core.TraceComponentCompiler, "Compiled expression", core.TraceContext(
		"result", result,
		"operators", len(tc.executors),
		"schema", out.String(),
	))
	return &Compiled{
		Executors: append(tc.executors, project),
		Schema:    out,
		Result:    result,
	}, nil
}

// CompileTree compiles root depth-first in predicate mode. The returned chain
// yields keep followed by the root's output column.
func CompileTree(root Node, comp *Computation, keep vectorized.Attributes) (*Compiled, error) {
	tc, err := newTreeCompiler(root, comp, keep, nil)
	if err != nil {
		return nil, err
	}
	result, err := tc.visit(root)
	if err != nil {
		return nil, err
	}
	return tc.finish(keep, result)
}

// CompileHashTree compiles root in hash mode for one side of a join. The
// returned chain yields keep followed by a uint64 hash column.
func CompileHashTree(root Node, comp *Computation, keep vectorized.Attributes, side Side) (*Compiled, error) {
	tc, err := newTreeCompiler(root, comp, keep, &side)
	if err != nil {
		return nil, err
	}
	result, err := tc.visitHash(root, side)
	if err != nil {
		return nil, err
	}
	return tc.finish(keep, result)
}

// CompileSelection compiles a boolean tree followed by a filter, yielding the
// kept attributes of the rows where the predicate holds.
func CompileSelection(root Node, comp *Computation, keep vectorized.Attributes) (*Compiled, error) {
	tc, err := newTreeCompiler(root, comp, keep, nil)
	if err != nil {
		return nil, err
	}
	result, err := tc.visit(root)
	if err != nil {
		return nil, err
	}
	filter, err := CompileFilter(tc.schema, result, keep)
	if err != nil {
		return nil, err
	}
	return &Compiled{
		Executors: append(tc.executors, filter),
		Schema:    keep,
	}, nil
}

// CompileProject builds an executor that only shallow-copies keep.
func CompileProject(input, keep vectorized.Attributes) (Executor, error) {
	binder, err := vectorized.NewBinder(input, keep)
	if err != nil {
		return nil, err
	}
	return ExecutorFunc(func(in *vectorized.Batch) (*vectorized.Batch, error) {
		out := vectorized.NewBatch()
		if err := binder.Setup(in, out); err != nil {
			return nil, err
		}
		return out, nil
	}), nil
}

// CompileFilter builds the filter operator: the boolean column predicate is
// applied as a mask to every kept column.
func CompileFilter(input vectorized.Attributes, predicate string, keep vectorized.Attributes) (Executor, error) {
	binder, offsets, err := bindOperands(input, vectorized.Attributes{predicate}, keep, 1)
	if err != nil {
		return nil, err
	}
	src := offsets[0]

	return ExecutorFunc(func(in *vectorized.Batch) (*vectorized.Batch, error) {
		mask, err := vectorized.GetColumn[bool](in, src)
		if err != nil {
			return nil, err
		}
		out := vectorized.NewBatch()
		if err := binder.Setup(in, out); err != nil {
			return nil, err
		}
		rows := vectorized.MaskBitmap(mask)
		if int(rows.GetCardinality()) == len(mask) {
			// Every row survives; the borrowed columns are already the answer.
			return out, nil
		}
		if err := out.Select(rows); err != nil {
			return nil, err
		}
		return out, nil
	}), nil
}
