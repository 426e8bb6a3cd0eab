package vectorized

import (
	"github.com/RoaringBitmap/roaring/v2"

	"bytepipe/core"
)

// DefaultChunkSize is the number of rows a source hands out per batch.
const DefaultChunkSize = 4096

type column struct {
	data      any
	ops       *ColumnOps
	ownership Ownership
}

// Batch is a set of equal-length, independently typed columns addressed by
// integer slot. Columns are type-erased buffers carrying their own maintenance
// bundle, so the batch never needs to know element types.
//
// All populated columns hold the same number of rows, except right after a
// column is declared and before it is filled. The batch does not enforce this
// across columns: callers applying a mask must apply it to every column.
type Batch struct {
	columns []*column
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// AddColumn registers data at slot with its maintenance bundle. An owned
// column already at slot is deleted first.
func (b *Batch) AddColumn(slot int, data any, ops *ColumnOps, ownership Ownership) error {
	if slot < 0 {
		return core.Structural(core.TraceComponentBatch, core.MissingColumn, "negative column slot %d", slot)
	}
	if ops == nil {
		return core.Structural(core.TraceComponentBatch, core.MissingColumn, "column at slot %d has no maintenance bundle", slot)
	}
	for len(b.columns) <= slot {
		b.columns = append(b.columns, nil)
	}
	b.DeleteColumn(slot)
	b.columns[slot] = &column{data: data, ops: ops, ownership: ownership}
	return nil
}

// PutColumn registers a typed column at slot. A negative slot is a caller bug
// and panics.
func PutColumn[T any](b *Batch, slot int, data []T, ownership Ownership) {
	if err := b.AddColumn(slot, data, SliceOps[T](), ownership); err != nil {
		panic(err)
	}
}

// GetColumn returns the []T stored at slot. An absent slot or a different
// element type is a binding defect and is reported as a structural error.
func GetColumn[T any](b *Batch, slot int) ([]T, error) {
	c := b.column(slot)
	if c == nil {
		return nil, core.Structural(core.TraceComponentBatch, core.MissingColumn, "no column at slot %d", slot)
	}
	data, ok := c.data.([]T)
	if !ok {
		var zero T
		return nil, core.Structural(core.TraceComponentBatch, core.TypeMismatch,
			"column at slot %d is %s, not []%T", slot, c.ops.TypeName, zero)
	}
	return data, nil
}

func (b *Batch) column(slot int) *column {
	if slot < 0 || slot >= len(b.columns) {
		return nil
	}
	return b.columns[slot]
}

// Value returns row of the column at slot without knowing its element type.
func (b *Batch) Value(slot, row int) (any, error) {
	c := b.column(slot)
	if c == nil {
		return nil, core.Structural(core.TraceComponentBatch, core.MissingColumn, "no column at slot %d", slot)
	}
	if n := c.ops.Len(c.data); row < 0 || row >= n {
		return nil, core.Structural(core.TraceComponentBatch, core.ArityMismatch,
			"row %d out of range for column at slot %d with %d rows", row, slot, n)
	}
	return c.ops.At(c.data, row), nil
}

// HasColumn reports whether slot is populated.
func (b *Batch) HasColumn(slot int) bool {
	return b.column(slot) != nil
}

// NumSlots returns one past the highest slot ever declared.
func (b *Batch) NumSlots() int {
	return len(b.columns)
}

// Ownership returns the ownership of the column at slot.
func (b *Batch) Ownership(slot int) (Ownership, bool) {
	c := b.column(slot)
	if c == nil {
		return Borrowed, false
	}
	return c.ownership, true
}

// ColumnLen returns the row count of the column at slot.
func (b *Batch) ColumnLen(slot int) (int, error) {
	c := b.column(slot)
	if c == nil {
		return 0, core.Structural(core.TraceComponentBatch, core.MissingColumn, "no column at slot %d", slot)
	}
	return c.ops.Len(c.data), nil
}

// NumRows returns the row count of the lowest populated slot, or zero for an
// empty batch.
func (b *Batch) NumRows() int {
	for _, c := range b.columns {
		if c != nil {
			return c.ops.Len(c.data)
		}
	}
	return 0
}

// CheckArity verifies that every populated column has the same row count.
func (b *Batch) CheckArity() error {
	rows := -1
	for slot, c := range b.columns {
		if c == nil {
			continue
		}
		n := c.ops.Len(c.data)
		if rows >= 0 && n != rows {
			return core.Structural(core.TraceComponentBatch, core.ArityMismatch,
				"column at slot %d has %d rows, expected %d", slot, n, rows)
		}
		rows = n
	}
	return nil
}

// DeleteColumn empties slot, deleting the buffer if the batch owns it.
func (b *Batch) DeleteColumn(slot int) {
	c := b.column(slot)
	if c == nil {
		return
	}
	if c.ownership == Owned {
		c.ops.Delete(c.data)
	}
	b.columns[slot] = nil
}

// FilterColumn replaces the column at slot with the rows where mask is true,
// preserving order. Only this column changes.
func (b *Batch) FilterColumn(slot int, mask []bool) error {
	c := b.column(slot)
	if c == nil {
		return core.Structural(core.TraceComponentBatch, core.MissingColumn, "no column at slot %d", slot)
	}
	if n := c.ops.Len(c.data); n != len(mask) {
		return core.Structural(core.TraceComponentBatch, core.ArityMismatch,
			"mask has %d rows, column at slot %d has %d", len(mask), slot, n)
	}
	filtered := c.ops.Filter(c.data, mask)
	if c.ownership == Owned {
		c.ops.Delete(c.data)
	}
	b.columns[slot] = &column{data: filtered, ops: c.ops, ownership: Owned}
	return nil
}

// Filter applies mask to every populated column.
func (b *Batch) Filter(mask []bool) error {
	for slot, c := range b.columns {
		if c == nil {
			continue
		}
		if err := b.FilterColumn(slot, mask); err != nil {
			return err
		}
	}
	return nil
}

// SelectColumn replaces the column at slot with the rows whose indexes are set
// in rows, preserving order. Only this column changes.
func (b *Batch) SelectColumn(slot int, rows *roaring.Bitmap) error {
	c := b.column(slot)
	if c == nil {
		return core.Structural(core.TraceComponentBatch, core.MissingColumn, "no column at slot %d", slot)
	}
	if n := c.ops.Len(c.data); !rows.IsEmpty() && int(rows.Maximum()) >= n {
		return core.Structural(core.TraceComponentBatch, core.ArityMismatch,
			"selection reaches row %d, column at slot %d has %d", rows.Maximum(), slot, n)
	}
	selected := c.ops.Take(c.data, rows)
	if c.ownership == Owned {
		c.ops.Delete(c.data)
	}
	b.columns[slot] = &column{data: selected, ops: c.ops, ownership: Owned}
	return nil
}

// Select keeps the rows whose indexes are set in rows in every populated
// column.
func (b *Batch) Select(rows *roaring.Bitmap) error {
	for slot, c := range b.columns {
		if c == nil {
			continue
		}
		if err := b.SelectColumn(slot, rows); err != nil {
			return err
		}
	}
	return nil
}

// CopyColumn makes dstSlot a borrowed reference to from's srcSlot. No data is
// copied.
func (b *Batch) CopyColumn(from *Batch, srcSlot, dstSlot int) error {
	c := from.column(srcSlot)
	if c == nil {
		return core.Structural(core.TraceComponentBatch, core.MissingColumn, "no column at source slot %d", srcSlot)
	}
	return b.AddColumn(dstSlot, c.data, c.ops, Borrowed)
}

// Materialize turns a borrowed column into an owned deep copy.
func (b *Batch) Materialize(slot int) error {
	c := b.column(slot)
	if c == nil {
		return core.Structural(core.TraceComponentBatch, core.MissingColumn, "no column at slot %d", slot)
	}
	if c.ownership == Owned {
		return nil
	}
	b.columns[slot] = &column{data: c.ops.Materialize(c.data), ops: c.ops, ownership: Owned}
	return nil
}

// DropPrefix removes the first n rows from every column. Sinks use it to hand
// back only the unprocessed remainder of their input.
func (b *Batch) DropPrefix(n int) error {
	if n <= 0 {
		return nil
	}
	for slot, c := range b.columns {
		if c == nil {
			continue
		}
		if l := c.ops.Len(c.data); n > l {
			return core.Structural(core.TraceComponentBatch, core.ArityMismatch,
				"cannot drop %d rows from column at slot %d with %d rows", n, slot, l)
		}
		c.data = c.ops.Slice(c.data, n)
	}
	return nil
}

// Release deletes every owned column and empties the batch.
func (b *Batch) Release() {
	for slot := range b.columns {
		b.DeleteColumn(slot)
	}
	b.columns = b.columns[:0]
}

// MaskBitmap converts a boolean column into a roaring bitmap of selected row
// indexes.
func MaskBitmap(mask []bool) *roaring.Bitmap {
	rows := roaring.New()
	for i, m := range mask {
		if m {
			rows.Add(uint32(i))
		}
	}
	return rows
}
