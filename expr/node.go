// Package expr compiles expression trees of user-supplied accessors,
// predicates and functions into batch executors.
//
// A tree is made of Nodes. Leaves name a computation input attribute; every
// other node reads the output columns of its children and appends one column
// of its own. Compilation follows one protocol for every node: bind the input
// schema, resolve the operand offsets, place the output column right after the
// kept columns, and return an Executor that fills it row by row.
package expr

import (
	"fmt"

	"bytepipe/core"
	"bytepipe/vectorized"
)

// Kind identifies the node variant.
type Kind int

const (
	KindInput Kind = iota
	KindAttribute
	KindDeref
	KindMethod
	KindEquals
	KindAnd
	KindFunc
	KindLiteral
	KindFlatten
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindAttribute:
		return "attribute"
	case KindDeref:
		return "deref"
	case KindMethod:
		return "method"
	case KindEquals:
		return "equals"
	case KindAnd:
		return "and"
	case KindFunc:
		return "func"
	case KindLiteral:
		return "literal"
	case KindFlatten:
		return "flatten"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Executor transforms a batch into an extended batch. Executors are built once
// and reused for every batch of a run.
type Executor interface {
	Execute(in *vectorized.Batch) (*vectorized.Batch, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(in *vectorized.Batch) (*vectorized.Batch, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(in *vectorized.Batch) (*vectorized.Batch, error) {
	return f(in)
}

// Node is one expression tree node.
type Node interface {
	Kind() Kind
	// Children are the nodes feeding this node's operands, in operand order.
	Children() []Node
	// Output is the attribute name of the column this node produces. Equal
	// subtrees produce equal names.
	Output() string
	// Compile builds the executor. input is the producer's attribute order,
	// operands name the columns this node reads and keep names the columns
	// carried into the output ahead of the new column.
	Compile(input, operands, keep vectorized.Attributes) (Executor, error)
}

// Side selects which operand of an equality is hashed in hash mode.
type Side int

const (
	LeftSide Side = iota
	RightSide
)

func (s Side) String() string {
	if s == RightSide {
		return "right"
	}
	return "left"
}

// HashCompiler is implemented by nodes that can emit a uint64 hash column
// instead of their regular output, for the build and lookup sides of a join.
type HashCompiler interface {
	Node
	HashOutput(side Side) string
	CompileHash(input, operands, keep vectorized.Attributes, side Side) (Executor, error)
}

// Arity is the number of operands n reads.
func Arity(n Node) int {
	return len(n.Children())
}

// ComputationInput is one entry of a computation's input side table.
type ComputationInput struct {
	Name   string
	Schema vectorized.Attributes
}

// Computation owns the input side table. Leaves refer to their input by
// index into Inputs.
type Computation struct {
	Inputs []ComputationInput
}

// AddInput appends an input and returns its index.
func (c *Computation) AddInput(name string, schema vectorized.Attributes) int {
	c.Inputs = append(c.Inputs, ComputationInput{Name: name, Schema: schema})
	return len(c.Inputs) - 1
}

func (c *Computation) input(idx int) (ComputationInput, error) {
	if idx < 0 || idx >= len(c.Inputs) {
		return ComputationInput{}, core.Structural(core.TraceComponentCompiler, core.InvalidPlan,
			"computation has no input %d", idx)
	}
	return c.Inputs[idx], nil
}
