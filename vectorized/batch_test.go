package vectorized

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"bytepipe/core"
)

func newTestBatch() *Batch {
	b := NewBatch()
	PutColumn(b, 0, []int64{1, 2, 3, 4, 5}, Owned)
	PutColumn(b, 1, []string{"a", "b", "c", "d", "e"}, Owned)
	PutColumn(b, 2, []float64{1.5, 2.5, 3.5, 4.5, 5.5}, Borrowed)
	return b
}

func TestFilterKeepsArityAndOrder(t *testing.T) {
	masks := [][]bool{
		{true, false, true, false, true},
		{false, false, false, false, false},
		{true, true, true, true, true},
		{false, true, true, false, false},
	}

	for _, mask := range masks {
		b := newTestBatch()
		require.NoError(t, b.Filter(mask))
		require.NoError(t, b.CheckArity())

		want := 0
		for _, m := range mask {
			if m {
				want++
			}
		}
		require.Equal(t, want, b.NumRows())

		ids, err := GetColumn[int64](b, 0)
		require.NoError(t, err)
		names, err := GetColumn[string](b, 1)
		require.NoError(t, err)

		var wantIDs []int64
		var wantNames []string
		for i, m := range mask {
			if m {
				wantIDs = append(wantIDs, int64(i+1))
				wantNames = append(wantNames, string(rune('a'+i)))
			}
		}
		require.Equal(t, len(wantIDs), len(ids))
		for i := range wantIDs {
			require.Equal(t, wantIDs[i], ids[i])
			require.Equal(t, wantNames[i], names[i])
		}

		// A filtered column is always owned, even if it started borrowed.
		own, ok := b.Ownership(2)
		require.True(t, ok)
		require.Equal(t, Owned, own)
	}
}

func TestFilterColumnRejectsShortMask(t *testing.T) {
	b := newTestBatch()
	err := b.FilterColumn(0, []bool{true})
	require.Error(t, err)
	kind, ok := core.StructuralKindOf(err)
	require.True(t, ok)
	require.Equal(t, core.ArityMismatch, kind)
}

func TestFilterColumnOnlyTouchesOneColumn(t *testing.T) {
	b := newTestBatch()
	require.NoError(t, b.FilterColumn(0, []bool{true, false, false, false, true}))

	n0, err := b.ColumnLen(0)
	require.NoError(t, err)
	n1, err := b.ColumnLen(1)
	require.NoError(t, err)
	require.Equal(t, 2, n0)
	require.Equal(t, 5, n1)
	require.Error(t, b.CheckArity())
}

func TestGetColumnErrors(t *testing.T) {
	b := newTestBatch()

	_, err := GetColumn[int64](b, 7)
	kind, ok := core.StructuralKindOf(err)
	require.True(t, ok)
	require.Equal(t, core.MissingColumn, kind)

	_, err = GetColumn[string](b, 0)
	kind, ok = core.StructuralKindOf(err)
	require.True(t, ok)
	require.Equal(t, core.TypeMismatch, kind)
}

func TestAddColumnReplacesOwnedColumn(t *testing.T) {
	b := NewBatch()
	old := []int64{7, 8, 9}
	PutColumn(b, 0, old, Owned)
	PutColumn(b, 0, []int64{1, 2, 3}, Owned)

	// The replaced owned buffer was deleted.
	require.Equal(t, []int64{0, 0, 0}, old)

	borrowed := []int64{4, 5, 6}
	PutColumn(b, 1, borrowed, Borrowed)
	PutColumn(b, 1, []int64{0, 0, 0}, Owned)
	require.Equal(t, []int64{4, 5, 6}, borrowed)
}

func TestCopyColumnIsShallow(t *testing.T) {
	src := newTestBatch()
	dst := NewBatch()
	require.NoError(t, dst.CopyColumn(src, 1, 0))

	own, ok := dst.Ownership(0)
	require.True(t, ok)
	require.Equal(t, Borrowed, own)

	names, err := GetColumn[string](dst, 0)
	require.NoError(t, err)
	srcNames, err := GetColumn[string](src, 1)
	require.NoError(t, err)
	require.Same(t, &srcNames[0], &names[0])

	// Releasing the borrower leaves the producer's buffer intact.
	dst.Release()
	require.Equal(t, "a", srcNames[0])
}

func TestMaterializeDetachesBuffer(t *testing.T) {
	src := newTestBatch()
	dst := NewBatch()
	require.NoError(t, dst.CopyColumn(src, 0, 0))
	require.NoError(t, dst.Materialize(0))

	ids, err := GetColumn[int64](dst, 0)
	require.NoError(t, err)
	ids[0] = 100

	srcIDs, err := GetColumn[int64](src, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), srcIDs[0])
}

func TestDropPrefix(t *testing.T) {
	b := newTestBatch()
	require.NoError(t, b.DropPrefix(3))
	require.Equal(t, 2, b.NumRows())
	require.NoError(t, b.CheckArity())

	names, err := GetColumn[string](b, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"d", "e"}, names)

	require.Error(t, b.DropPrefix(3))
}

func TestSelectWithBitmap(t *testing.T) {
	b := newTestBatch()
	rows := roaring.BitmapOf(0, 4)
	require.NoError(t, b.Select(rows))

	ids, err := GetColumn[int64](b, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 5}, ids)

	names, err := GetColumn[string](b, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "e"}, names)
	require.NoError(t, b.CheckArity())

	mask := []bool{true, false, true, true}
	require.Equal(t, []uint32{0, 2, 3}, MaskBitmap(mask).ToArray())
}

func TestSelectMatchesFilter(t *testing.T) {
	mask := []bool{false, true, true, false, true}
	filtered := newTestBatch()
	require.NoError(t, filtered.Filter(mask))
	selected := newTestBatch()
	require.NoError(t, selected.Select(MaskBitmap(mask)))

	for slot := 0; slot < 3; slot++ {
		want, err := filtered.Value(slot, 1)
		require.NoError(t, err)
		got, err := selected.Value(slot, 1)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Equal(t, filtered.NumRows(), selected.NumRows())
}

func TestSelectBeyondColumnIsArityMismatch(t *testing.T) {
	b := newTestBatch()
	err := b.Select(roaring.BitmapOf(1, 5))
	kind, ok := core.StructuralKindOf(err)
	require.True(t, ok)
	require.Equal(t, core.ArityMismatch, kind)
}

func TestPutColumnPanicsOnNegativeSlot(t *testing.T) {
	b := NewBatch()
	require.Panics(t, func() { PutColumn(b, -1, []int64{1}, Owned) })
	require.Zero(t, b.NumSlots())
}
