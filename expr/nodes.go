package expr

import (
	"fmt"
	"strings"

	"bytepipe/hashing"
	"bytepipe/vectorized"
)

type inputNode struct {
	input int
	attr  string
}

// Input is a leaf naming attribute attr of computation input idx.
func Input(idx int, attr string) Node {
	return &inputNode{input: idx, attr: attr}
}

func (n *inputNode) Kind() Kind       { return KindInput }
func (n *inputNode) Children() []Node { return nil }
func (n *inputNode) Output() string   { return n.attr }

// InputIndex returns the computation input index of a leaf.
func (n *inputNode) InputIndex() int { return n.input }

// Compile of a leaf is a projection: the attribute already exists upstream.
func (n *inputNode) Compile(input, _, keep vectorized.Attributes) (Executor, error) {
	return CompileProject(input, keep)
}

type attributeNode[In, F any] struct {
	child Node
	field string
	get   func(In) F
}

// Attribute reads field of every object produced by child through get.
func Attribute[In, F any](child Node, field string, get func(In) F) Node {
	return &attributeNode[In, F]{child: child, field: field, get: get}
}

func (n *attributeNode[In, F]) Kind() Kind       { return KindAttribute }
func (n *attributeNode[In, F]) Children() []Node { return []Node{n.child} }
func (n *attributeNode[In, F]) Output() string   { return n.child.Output() + "." + n.field }

func (n *attributeNode[In, F]) Compile(input, operands, keep vectorized.Attributes) (Executor, error) {
	return compileUnary(input, operands, keep, n.get)
}

type derefNode[T any] struct {
	child Node
}

// Deref follows the pointer produced by child. Nil pointers yield T's zero
// value.
func Deref[T any](child Node) Node {
	return &derefNode[T]{child: child}
}

func (n *derefNode[T]) Kind() Kind       { return KindDeref }
func (n *derefNode[T]) Children() []Node { return []Node{n.child} }
func (n *derefNode[T]) Output() string   { return "*" + n.child.Output() }

func (n *derefNode[T]) Compile(input, operands, keep vectorized.Attributes) (Executor, error) {
	return compileUnary(input, operands, keep, func(p *T) T {
		if p == nil {
			var zero T
			return zero
		}
		return *p
	})
}

type methodNode[In, R any] struct {
	child  Node
	method string
	call   func(In) R
}

// Method calls a no-argument method on every object produced by child.
func Method[In, R any](child Node, method string, call func(In) R) Node {
	return &methodNode[In, R]{child: child, method: method, call: call}
}

func (n *methodNode[In, R]) Kind() Kind       { return KindMethod }
func (n *methodNode[In, R]) Children() []Node { return []Node{n.child} }
func (n *methodNode[In, R]) Output() string   { return n.child.Output() + "." + n.method + "()" }

func (n *methodNode[In, R]) Compile(input, operands, keep vectorized.Attributes) (Executor, error) {
	return compileUnary(input, operands, keep, n.call)
}

type funcNode[In, R any] struct {
	name  string
	child Node
	fn    func(In) R
}

// Func applies a named user function to the values produced by child.
func Func[In, R any](name string, child Node, fn func(In) R) Node {
	return &funcNode[In, R]{name: name, child: child, fn: fn}
}

func (n *funcNode[In, R]) Kind() Kind       { return KindFunc }
func (n *funcNode[In, R]) Children() []Node { return []Node{n.child} }
func (n *funcNode[In, R]) Output() string   { return n.name + "(" + n.child.Output() + ")" }

func (n *funcNode[In, R]) Compile(input, operands, keep vectorized.Attributes) (Executor, error) {
	return compileUnary(input, operands, keep, n.fn)
}

type func2Node[A, B, R any] struct {
	name        string
	left, right Node
	fn          func(A, B) R
}

// Func2 applies a named two-argument user function.
func Func2[A, B, R any](name string, left, right Node, fn func(A, B) R) Node {
	return &func2Node[A, B, R]{name: name, left: left, right: right, fn: fn}
}

func (n *func2Node[A, B, R]) Kind() Kind       { return KindFunc }
func (n *func2Node[A, B, R]) Children() []Node { return []Node{n.left, n.right} }
func (n *func2Node[A, B, R]) Output() string {
	return n.name + "(" + n.left.Output() + ", " + n.right.Output() + ")"
}

func (n *func2Node[A, B, R]) Compile(input, operands, keep vectorized.Attributes) (Executor, error) {
	return compileBinary(input, operands, keep, n.fn)
}

type literalNode[T any] struct {
	value T
}

// Literal produces value on every row.
func Literal[T any](value T) Node {
	return &literalNode[T]{value: value}
}

func (n *literalNode[T]) Kind() Kind       { return KindLiteral }
func (n *literalNode[T]) Children() []Node { return nil }
func (n *literalNode[T]) Output() string   { return fmt.Sprintf("%#v", n.value) }

func (n *literalNode[T]) Compile(input, operands, keep vectorized.Attributes) (Executor, error) {
	binder, _, err := bindOperands(input, operands, keep, 0)
	if err != nil {
		return nil, err
	}
	outSlot := binder.NumKept()
	return ExecutorFunc(func(in *vectorized.Batch) (*vectorized.Batch, error) {
		out := vectorized.NewBatch()
		if err := binder.Setup(in, out); err != nil {
			return nil, err
		}
		values := make([]T, in.NumRows())
		for i := range values {
			values[i] = n.value
		}
		vectorized.PutColumn(out, outSlot, values, vectorized.Owned)
		return out, nil
	}), nil
}

type equalsNode[T comparable] struct {
	left, right Node
}

// Equals compares the outputs of left and right row by row. In hash mode it
// emits the hash of one side instead.
func Equals[T comparable](left, right Node) Node {
	return &equalsNode[T]{left: left, right: right}
}

func (n *equalsNode[T]) Kind() Kind       { return KindEquals }
func (n *equalsNode[T]) Children() []Node { return []Node{n.left, n.right} }
func (n *equalsNode[T]) Output() string {
	return "(" + n.left.Output() + " == " + n.right.Output() + ")"
}

func (n *equalsNode[T]) Compile(input, operands, keep vectorized.Attributes) (Executor, error) {
	return compileBinary(input, operands, keep, func(a, b T) bool { return a == b })
}

func (n *equalsNode[T]) HashOutput(side Side) string {
	return "hash_" + side.String() + n.Output()
}

// CompileHash hashes a single operand: the left child's output for LeftSide,
// the right child's for RightSide. Both sides of a join then produce
// comparable hashes from their own input.
func (n *equalsNode[T]) CompileHash(input, operands, keep vectorized.Attributes, _ Side) (Executor, error) {
	return compileUnary(input, operands, keep, hashing.Of[T])
}

type andNode struct {
	left, right Node
}

// And is the conjunction of two boolean nodes. In hash mode it combines the
// hashes of its children.
func And(left, right Node) Node {
	return &andNode{left: left, right: right}
}

func (n *andNode) Kind() Kind       { return KindAnd }
func (n *andNode) Children() []Node { return []Node{n.left, n.right} }
func (n *andNode) Output() string {
	return "(" + n.left.Output() + " && " + n.right.Output() + ")"
}

func (n *andNode) Compile(input, operands, keep vectorized.Attributes) (Executor, error) {
	return compileBinary(input, operands, keep, func(a, b bool) bool { return a && b })
}

func (n *andNode) HashOutput(side Side) string {
	return "hash_" + side.String() + n.Output()
}

func (n *andNode) CompileHash(input, operands, keep vectorized.Attributes, _ Side) (Executor, error) {
	return compileBinary(input, operands, keep, hashing.Combine)
}

type flattenNode[T any] struct {
	child Node
}

// Flatten explodes the []T produced by child into one row per element. Kept
// attributes are replicated once per element; rows with empty slices vanish.
func Flatten[T any](child Node) Node {
	return &flattenNode[T]{child: child}
}

func (n *flattenNode[T]) Kind() Kind       { return KindFlatten }
func (n *flattenNode[T]) Children() []Node { return []Node{n.child} }
func (n *flattenNode[T]) Output() string   { return "flatten(" + n.child.Output() + ")" }

func (n *flattenNode[T]) Compile(input, operands, keep vectorized.Attributes) (Executor, error) {
	binder, offsets, err := bindOperands(input, operands, keep, 1)
	if err != nil {
		return nil, err
	}
	src, outSlot := offsets[0], binder.NumKept()

	return ExecutorFunc(func(in *vectorized.Batch) (*vectorized.Batch, error) {
		lists, err := vectorized.GetColumn[[]T](in, src)
		if err != nil {
			return nil, err
		}
		counts := make([]uint32, len(lists))
		total := 0
		for i, l := range lists {
			counts[i] = uint32(len(l))
			total += len(l)
		}
		out := vectorized.NewBatch()
		if err := binder.Replicate(in, out, counts, 0); err != nil {
			return nil, err
		}
		flat := make([]T, 0, total)
		for _, l := range lists {
			flat = append(flat, l...)
		}
		vectorized.PutColumn(out, outSlot, flat, vectorized.Owned)
		return out, nil
	}), nil
}

// describe renders a tree for log lines.
func describe(n Node) string {
	var sb strings.Builder
	sb.WriteString(n.Kind().String())
	sb.WriteString(" ")
	sb.WriteString(n.Output())
	return sb.String()
}
