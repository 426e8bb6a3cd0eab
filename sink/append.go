package sink

import (
	"unsafe"

	"bytepipe/arena"
	"bytepipe/vectorized"
)

// AppendContainer holds appended values in arrival order.
type AppendContainer[T any] struct {
	arena *arena.Arena
	Rows  []T `json:"rows"`
}

func (c *AppendContainer[T]) NumRows() int { return len(c.Rows) }

func (c *AppendContainer[T]) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// Append appends the column at one slot row by row.
type Append[T any] struct {
	slot int
}

// NewAppend creates an append sink reading the []T column at slot.
func NewAppend[T any](slot int) *Append[T] {
	return &Append[T]{slot: slot}
}

func (s *Append[T]) CreateOutputContainer(a *arena.Arena) (Container, error) {
	var c AppendContainer[T]
	if err := reserveHeader(a, int(unsafe.Sizeof(c)), "append container"); err != nil {
		return nil, err
	}
	c.arena = a
	return &c, nil
}

func (s *Append[T]) WriteOut(in *vectorized.Batch, out Container) (arena.Status, error) {
	c, ok := out.(*AppendContainer[T])
	if !ok {
		return arena.StatusOK, wrongContainer(out, "append")
	}
	values, err := vectorized.GetColumn[T](in, s.slot)
	if err != nil {
		return arena.StatusOK, err
	}
	for i, v := range values {
		if !c.arena.Reserve(arena.SizeOf(v)) {
			return exhausted(in, i)
		}
		c.Rows = append(c.Rows, v)
	}
	return arena.StatusOK, nil
}

// RowContainer holds whole rows, one value per appended slot.
type RowContainer struct {
	arena *arena.Arena
	Rows  [][]any `json:"rows"`
}

func (c *RowContainer) NumRows() int { return len(c.Rows) }

func (c *RowContainer) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// RowAppend appends whole rows made of the values at several slots.
type RowAppend struct {
	slots []int
}

// NewRowAppend creates a whole-row append sink over slots, in order.
func NewRowAppend(slots ...int) *RowAppend {
	return &RowAppend{slots: slots}
}

func (s *RowAppend) CreateOutputContainer(a *arena.Arena) (Container, error) {
	var c RowContainer
	if err := reserveHeader(a, int(unsafe.Sizeof(c)), "row container"); err != nil {
		return nil, err
	}
	c.arena = a
	return &c, nil
}

func (s *RowAppend) WriteOut(in *vectorized.Batch, out Container) (arena.Status, error) {
	c, ok := out.(*RowContainer)
	if !ok {
		return arena.StatusOK, wrongContainer(out, "row")
	}
	rows := in.NumRows()
	for i := 0; i < rows; i++ {
		row := make([]any, len(s.slots))
		for j, slot := range s.slots {
			v, err := in.Value(slot, i)
			if err != nil {
				return arena.StatusOK, err
			}
			row[j] = v
		}
		if !c.arena.Reserve(arena.SizeOf(row)) {
			return exhausted(in, i)
		}
		c.Rows = append(c.Rows, row)
	}
	return arena.StatusOK, nil
}
