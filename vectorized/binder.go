package vectorized

import (
	"strings"

	"bytepipe/core"
)

// Attributes is an ordered list of attribute names. It identifies a subset of
// a producer's output columns and exists only at bind and compile time.
type Attributes []string

// IndexOf returns the position of name, or -1.
func (a Attributes) IndexOf(name string) int {
	for i, n := range a {
		if n == name {
			return i
		}
	}
	return -1
}

// With returns a copy of a with names appended.
func (a Attributes) With(names ...string) Attributes {
	out := make(Attributes, 0, len(a)+len(names))
	out = append(out, a...)
	return append(out, names...)
}

func (a Attributes) String() string {
	return "[" + strings.Join(a, ", ") + "]"
}

// Binder resolves attribute names to column slots for one producer/consumer
// pair. The producer's attribute order is the slot order of its batches.
type Binder struct {
	input       Attributes
	keep        Attributes
	keepOffsets []int
}

// NewBinder binds keep against the producer order input.
func NewBinder(input, keep Attributes) (*Binder, error) {
	b := &Binder{input: input, keep: keep}
	offsets, err := b.Match(keep)
	if err != nil {
		return nil, err
	}
	b.keepOffsets = offsets
	return b, nil
}

// Match returns the producer offsets of subset, in subset order.
func (b *Binder) Match(subset Attributes) ([]int, error) {
	offsets := make([]int, len(subset))
	for i, name := range subset {
		idx := b.input.IndexOf(name)
		if idx < 0 {
			return nil, core.Structural(core.TraceComponentCompiler, core.UnresolvedAttribute,
				"attribute %q not found in %s", name, b.input)
		}
		offsets[i] = idx
	}
	return offsets, nil
}

// NumKept is the number of kept attributes, which is also the slot at which an
// operator appends its output column.
func (b *Binder) NumKept() int {
	return len(b.keep)
}

// Kept returns the kept attributes.
func (b *Binder) Kept() Attributes {
	return b.keep
}

// Setup shallow-copies every kept attribute of in into out slots 0..k-1.
func (b *Binder) Setup(in, out *Batch) error {
	for dst, src := range b.keepOffsets {
		if err := out.CopyColumn(in, src, dst); err != nil {
			return err
		}
	}
	return nil
}

// Replicate writes every kept attribute of in into out, starting at baseSlot,
// with input row i repeated counts[i] times. counts must have one entry per
// input row.
func (b *Binder) Replicate(in, out *Batch, counts []uint32, baseSlot int) error {
	for i, src := range b.keepOffsets {
		c := in.column(src)
		if c == nil {
			return core.Structural(core.TraceComponentCompiler, core.MissingColumn, "no column at slot %d", src)
		}
		if n := c.ops.Len(c.data); n != len(counts) {
			return core.Structural(core.TraceComponentCompiler, core.ArityMismatch,
				"replicate counts have %d entries, column %q has %d rows", len(counts), b.keep[i], n)
		}
		if err := out.AddColumn(baseSlot+i, c.ops.Replicate(c.data, counts), c.ops, Owned); err != nil {
			return err
		}
	}
	return nil
}
