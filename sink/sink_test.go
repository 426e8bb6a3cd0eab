package sink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bytepipe/arena"
	"bytepipe/core"
	"bytepipe/vectorized"
)

func sum(a, b int) int { return a + b }

func kvBatch(keys, values []int) *vectorized.Batch {
	b := vectorized.NewBatch()
	vectorized.PutColumn(b, 0, keys, vectorized.Borrowed)
	vectorized.PutColumn(b, 1, values, vectorized.Borrowed)
	return b
}

func bigArena(seq uint64) *arena.Arena {
	return arena.New(seq, arena.Page{ID: seq, Size: 1 << 20})
}

// headerSize is the number of bytes s reserves for an empty container.
func headerSize(t *testing.T, s Sink) int {
	t.Helper()
	a := bigArena(0)
	_, err := s.CreateOutputContainer(a)
	require.NoError(t, err)
	return a.Used()
}

func TestAggregateSum(t *testing.T) {
	s, err := NewAggregate[int, int](0, 1, 1, 1, sum, nil)
	require.NoError(t, err)
	c, err := s.CreateOutputContainer(bigArena(0))
	require.NoError(t, err)

	status, err := s.WriteOut(kvBatch([]int{1, 1, 2}, []int{2, 3, 5}), c)
	require.NoError(t, err)
	require.Equal(t, arena.StatusOK, status)

	agg := c.(*AggregateContainer[int, int])
	require.Equal(t, 2, agg.NumRows())
	require.Equal(t, map[int]int{1: 5, 2: 5}, agg.Partition(0, 0).Entries)
}

func TestAggregateRetryMatchesSinglePass(t *testing.T) {
	keys := []int{1, 2, 3, 1, 4, 2, 2, 5}
	values := []int{1, 10, 100, 1, 1000, 10, 10, 7}

	s, err := NewAggregate[int, int](0, 1, 2, 2, sum, nil)
	require.NoError(t, err)

	oneShot, err := s.CreateOutputContainer(bigArena(0))
	require.NoError(t, err)
	status, err := s.WriteOut(kvBatch(keys, values), oneShot)
	require.NoError(t, err)
	require.Equal(t, arena.StatusOK, status)

	// Room for exactly two new keys per page.
	pageSize := headerSize(t, s) + 2*(arena.SizeOf(0)+arena.SizeOf(0))
	in := kvBatch(keys, values)
	var parts []*AggregateContainer[int, int]
	for seq := uint64(0); ; seq++ {
		require.Less(t, seq, uint64(10), "retries make no progress")
		c, err := s.CreateOutputContainer(arena.New(seq, arena.Page{ID: seq, Size: pageSize}))
		require.NoError(t, err)
		before := in.NumRows()
		status, err := s.WriteOut(in, c)
		require.NoError(t, err)
		parts = append(parts, c.(*AggregateContainer[int, int]))
		if status == arena.StatusOK {
			break
		}
		require.Less(t, in.NumRows(), before)
		require.LessOrEqual(t, c.NumRows(), 2)
	}
	require.Greater(t, len(parts), 1)

	// The key that did not fit was rolled back, not left half inserted.
	_, ok := parts[0].Lookup(3, s.Hash(3))
	require.False(t, ok)

	merged, err := MergeAggregates(sum, parts...)
	require.NoError(t, err)
	want := oneShot.(*AggregateContainer[int, int])
	for _, k := range []int{1, 2, 3, 4, 5} {
		got, ok := merged.Lookup(k, s.Hash(k))
		require.True(t, ok)
		exp, _ := want.Lookup(k, s.Hash(k))
		require.Equal(t, exp, got, "key %d", k)
	}
	require.Equal(t, want.NumRows(), merged.NumRows())
}

func TestAggregateFlushedFormMerges(t *testing.T) {
	s, err := NewAggregate[int, int](0, 1, 1, 3, sum, nil)
	require.NoError(t, err)

	var decoded []*AggregateContainer[int, int]
	for i, batch := range [][2][]int{
		{{1, 2, 3}, {1, 1, 1}},
		{{3, 4}, {5, 5}},
	} {
		c, err := s.CreateOutputContainer(bigArena(uint64(i)))
		require.NoError(t, err)
		_, err = s.WriteOut(kvBatch(batch[0], batch[1]), c)
		require.NoError(t, err)
		data, err := c.MarshalBinary()
		require.NoError(t, err)
		d, err := UnmarshalAggregate[int, int](data)
		require.NoError(t, err)
		decoded = append(decoded, d)
	}

	merged, err := MergeAggregates(sum, decoded...)
	require.NoError(t, err)
	got := map[int]int{}
	for _, p := range merged.Partitions[0] {
		for k, v := range p.Entries {
			got[k] = v
		}
	}
	require.Equal(t, map[int]int{1: 1, 2: 1, 3: 6, 4: 5}, got)

	_, err = MergeAggregates(sum, decoded[0], newAggregateContainer[int, int](2, 3))
	require.Error(t, err)
}

type region struct {
	Country string
	Zone    int
}

func TestAggregateCompositeKeyFlushedForm(t *testing.T) {
	s, err := NewAggregate[region, int](0, 1, 2, 2, sum, nil)
	require.NoError(t, err)
	c, err := s.CreateOutputContainer(bigArena(0))
	require.NoError(t, err)

	in := vectorized.NewBatch()
	vectorized.PutColumn(in, 0, []region{{"se", 1}, {"se", 2}, {"se", 1}, {"no", 1}}, vectorized.Borrowed)
	vectorized.PutColumn(in, 1, []int{1, 2, 3, 4}, vectorized.Borrowed)
	status, err := s.WriteOut(in, c)
	require.NoError(t, err)
	require.Equal(t, arena.StatusOK, status)

	data, err := c.MarshalBinary()
	require.NoError(t, err)
	decoded, err := UnmarshalAggregate[region, int](data)
	require.NoError(t, err)
	require.Equal(t, 3, decoded.NumRows())

	for key, want := range map[region]int{{"se", 1}: 4, {"se", 2}: 2, {"no", 1}: 4} {
		got, ok := decoded.Lookup(key, s.Hash(key))
		require.True(t, ok, "%v", key)
		require.Equal(t, want, got)
	}
}

func TestUnmarshalAggregateRejectsDuplicateKeys(t *testing.T) {
	data := []byte(`{"num_nodes":1,"per_node":1,"partitions":[[{"node":0,"local":0,"entries":[{"key":1,"value":1},{"key":1,"value":2}]}]]}`)
	_, err := UnmarshalAggregate[int, int](data)
	require.Error(t, err)
}

func TestAddressRoundTrip(t *testing.T) {
	const nodes, perNode = 3, 4
	seen := map[int]bool{}
	for h := uint64(0); h < 100; h++ {
		node, local := Address(h, nodes, perNode)
		require.GreaterOrEqual(t, node, 0)
		require.Less(t, node, nodes)
		require.Less(t, local, perNode)
		g := GlobalPartition(node, local, perNode)
		require.Equal(t, int(h%(nodes*perNode)), g)
		seen[g] = true
	}
	require.Len(t, seen, nodes*perNode)
}

func TestPartitionDeterministic(t *testing.T) {
	keys := []int{10, 11, 12, 13}
	run := func() [][]string {
		s, err := NewPartition[int, string](0, 1, 4, nil)
		require.NoError(t, err)
		c, err := s.CreateOutputContainer(bigArena(0))
		require.NoError(t, err)
		b := vectorized.NewBatch()
		vectorized.PutColumn(b, 0, keys, vectorized.Borrowed)
		vectorized.PutColumn(b, 1, []string{"a", "b", "c", "d"}, vectorized.Borrowed)
		status, err := s.WriteOut(b, c)
		require.NoError(t, err)
		require.Equal(t, arena.StatusOK, status)
		pc := c.(*PartitionContainer[string])
		require.Len(t, pc.Buckets, 4)
		require.Equal(t, len(keys), pc.NumRows())
		return pc.Buckets
	}
	require.Equal(t, run(), run())
}

func TestPartitionBuckets(t *testing.T) {
	s, err := NewPartition[int, int](0, 1, 4, func(k int) uint64 { return uint64(k) })
	require.NoError(t, err)
	c, err := s.CreateOutputContainer(bigArena(0))
	require.NoError(t, err)
	_, err = s.WriteOut(kvBatch([]int{10, 11, 12, 13, 14}, []int{0, 1, 2, 3, 4}), c)
	require.NoError(t, err)
	require.Equal(t, [][]int{{2}, {3}, {0, 4}, {1}}, c.(*PartitionContainer[int]).Buckets)

	_, err = NewPartition[int, int](0, 1, 0, nil)
	require.Error(t, err)
}

func TestPartitionExhaustionTruncatesPrefix(t *testing.T) {
	s, err := NewPartition[int, int](0, 1, 2, nil)
	require.NoError(t, err)
	pageSize := headerSize(t, s) + 3*arena.SizeOf(0)
	c, err := s.CreateOutputContainer(arena.New(0, arena.Page{Size: pageSize}))
	require.NoError(t, err)

	in := kvBatch([]int{1, 2, 3, 4, 5}, []int{10, 20, 30, 40, 50})
	status, err := s.WriteOut(in, c)
	require.NoError(t, err)
	require.Equal(t, arena.StatusExhausted, status)
	require.Equal(t, 3, c.NumRows())

	rest, err := vectorized.GetColumn[int](in, 1)
	require.NoError(t, err)
	require.Equal(t, []int{40, 50}, rest)
}

func TestAppend(t *testing.T) {
	s := NewAppend[string](0)
	pageSize := headerSize(t, s) + arena.SizeOf("a") + arena.SizeOf("bb")
	c, err := s.CreateOutputContainer(arena.New(0, arena.Page{Size: pageSize}))
	require.NoError(t, err)

	in := vectorized.NewBatch()
	vectorized.PutColumn(in, 0, []string{"a", "bb", "ccc"}, vectorized.Borrowed)
	status, err := s.WriteOut(in, c)
	require.NoError(t, err)
	require.Equal(t, arena.StatusExhausted, status)
	require.Equal(t, []string{"a", "bb"}, c.(*AppendContainer[string]).Rows)
	require.Equal(t, 1, in.NumRows())

	next, err := s.CreateOutputContainer(bigArena(1))
	require.NoError(t, err)
	status, err = s.WriteOut(in, next)
	require.NoError(t, err)
	require.Equal(t, arena.StatusOK, status)
	require.Equal(t, []string{"ccc"}, next.(*AppendContainer[string]).Rows)

	data, err := next.MarshalBinary()
	require.NoError(t, err)
	require.JSONEq(t, `{"rows":["ccc"]}`, string(data))
}

func TestRowAppend(t *testing.T) {
	s := NewRowAppend(1, 0)
	c, err := s.CreateOutputContainer(bigArena(0))
	require.NoError(t, err)

	in := vectorized.NewBatch()
	vectorized.PutColumn(in, 0, []int64{7, 8}, vectorized.Borrowed)
	vectorized.PutColumn(in, 1, []string{"x", "y"}, vectorized.Borrowed)
	status, err := s.WriteOut(in, c)
	require.NoError(t, err)
	require.Equal(t, arena.StatusOK, status)
	require.Equal(t, [][]any{{"x", int64(7)}, {"y", int64(8)}}, c.(*RowContainer).Rows)
}

func TestWrongContainer(t *testing.T) {
	s := NewAppend[int](0)
	_, err := s.WriteOut(kvBatch([]int{1}, []int{1}), &RowContainer{})
	kind, ok := core.StructuralKindOf(err)
	require.True(t, ok)
	require.Equal(t, core.TypeMismatch, kind)
}

func TestContainerTooLargeForPage(t *testing.T) {
	s, err := NewAggregate[int, int](0, 1, 8, 8, sum, nil)
	require.NoError(t, err)
	_, err = s.CreateOutputContainer(arena.New(0, arena.Page{Size: 64}))
	kind, ok := core.StructuralKindOf(err)
	require.True(t, ok)
	require.Equal(t, core.InvalidPlan, kind)
}
