package vectorized

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// Ownership tells a batch whether it may delete a column's buffer.
type Ownership int

const (
	// Borrowed columns reference another batch's buffer and are never deleted.
	Borrowed Ownership = iota
	// Owned columns were materialized for this batch and die with it.
	Owned
)

func (o Ownership) String() string {
	if o == Owned {
		return "owned"
	}
	return "borrowed"
}

// ColumnOps is the maintenance bundle that travels with a type-erased column
// buffer. Every function receives the buffer it was registered with.
type ColumnOps struct {
	// TypeName is used in error messages only.
	TypeName string

	Len func(data any) int
	// Delete releases an owned buffer.
	Delete func(data any)
	// Filter returns a fresh buffer holding rows where mask[i] is true.
	Filter func(data any, mask []bool) any
	// Take returns a fresh buffer holding the rows set in rows, in index
	// order. Every set index must be below Len.
	Take func(data any, rows *roaring.Bitmap) any
	// Materialize returns a deep copy that the caller owns.
	Materialize func(data any) any
	// Slice drops the first n rows.
	Slice func(data any, n int) any
	// Replicate repeats row i counts[i] times.
	Replicate func(data any, counts []uint32) any
	// At returns row i boxed.
	At func(data any, i int) any
}

// SliceOps returns the maintenance bundle for a []T column.
func SliceOps[T any]() *ColumnOps {
	var zero T
	return &ColumnOps{
		TypeName: fmt.Sprintf("[]%T", zero),
		Len: func(data any) int {
			return len(data.([]T))
		},
		Delete: func(data any) {
			clear(data.([]T))
		},
		Filter: func(data any, mask []bool) any {
			in := data.([]T)
			kept := 0
			for _, m := range mask {
				if m {
					kept++
				}
			}
			out := make([]T, 0, kept)
			for i, v := range in {
				if mask[i] {
					out = append(out, v)
				}
			}
			return out
		},
		Take: func(data any, rows *roaring.Bitmap) any {
			in := data.([]T)
			out := make([]T, 0, rows.GetCardinality())
			it := rows.Iterator()
			for it.HasNext() {
				out = append(out, in[it.Next()])
			}
			return out
		},
		Materialize: func(data any) any {
			return slices.Clone(data.([]T))
		},
		Slice: func(data any, n int) any {
			return data.([]T)[n:]
		},
		Replicate: func(data any, counts []uint32) any {
			in := data.([]T)
			total := 0
			for _, c := range counts {
				total += int(c)
			}
			out := make([]T, 0, total)
			for i, v := range in {
				for c := uint32(0); c < counts[i]; c++ {
					out = append(out, v)
				}
			}
			return out
		},
		At: func(data any, i int) any {
			return data.([]T)[i]
		},
	}
}
