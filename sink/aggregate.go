package sink

import (
	"unsafe"

	"github.com/pkg/errors"

	"bytepipe/arena"
	"bytepipe/core"
	"bytepipe/hashing"
	"bytepipe/vectorized"
)

// Address maps a key hash to its node and the partition local to that node.
// The hash picks one of numNodes*perNode global partitions; consecutive global
// partitions belong to the same node.
func Address(hash uint64, numNodes, perNode int) (node, local int) {
	g := int(hash % uint64(numNodes*perNode))
	return g / perNode, g % perNode
}

// GlobalPartition is the inverse of Address.
func GlobalPartition(node, local, perNode int) int {
	return node*perNode + local
}

// AggregatePartition is one aggregation map tagged with the partition it
// represents.
type AggregatePartition[K comparable, V any] struct {
	Node    int
	Local   int
	Entries map[K]V
}

type aggregateEntry[K comparable, V any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

// aggregatePartitionJSON is the durable form of a partition. Entries are
// encoded as key/value pairs because JSON object keys cannot hold composite
// keys.
type aggregatePartitionJSON[K comparable, V any] struct {
	Node    int                    `json:"node"`
	Local   int                    `json:"local"`
	Entries []aggregateEntry[K, V] `json:"entries"`
}

func (p *AggregatePartition[K, V]) MarshalJSON() ([]byte, error) {
	out := aggregatePartitionJSON[K, V]{
		Node:    p.Node,
		Local:   p.Local,
		Entries: make([]aggregateEntry[K, V], 0, len(p.Entries)),
	}
	for k, v := range p.Entries {
		out.Entries = append(out.Entries, aggregateEntry[K, V]{Key: k, Value: v})
	}
	return json.Marshal(out)
}

func (p *AggregatePartition[K, V]) UnmarshalJSON(data []byte) error {
	var in aggregatePartitionJSON[K, V]
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.Node, p.Local = in.Node, in.Local
	p.Entries = make(map[K]V, len(in.Entries))
	for _, e := range in.Entries {
		if _, dup := p.Entries[e.Key]; dup {
			return errors.Errorf("partition %d/%d holds key %v twice", in.Node, in.Local, e.Key)
		}
		p.Entries[e.Key] = e.Value
	}
	return nil
}

// AggregateContainer is the [node][local] grid of aggregation maps.
type AggregateContainer[K comparable, V any] struct {
	arena      *arena.Arena
	NumNodes   int                           `json:"num_nodes"`
	PerNode    int                           `json:"per_node"`
	Partitions [][]*AggregatePartition[K, V] `json:"partitions"`
}

func newAggregateContainer[K comparable, V any](numNodes, perNode int) *AggregateContainer[K, V] {
	c := &AggregateContainer[K, V]{
		NumNodes:   numNodes,
		PerNode:    perNode,
		Partitions: make([][]*AggregatePartition[K, V], numNodes),
	}
	for n := range c.Partitions {
		c.Partitions[n] = make([]*AggregatePartition[K, V], perNode)
		for l := range c.Partitions[n] {
			c.Partitions[n][l] = &AggregatePartition[K, V]{Node: n, Local: l, Entries: make(map[K]V)}
		}
	}
	return c
}

func (c *AggregateContainer[K, V]) NumRows() int {
	n := 0
	for _, node := range c.Partitions {
		for _, p := range node {
			n += len(p.Entries)
		}
	}
	return n
}

func (c *AggregateContainer[K, V]) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// Partition returns the map for (node, local).
func (c *AggregateContainer[K, V]) Partition(node, local int) *AggregatePartition[K, V] {
	return c.Partitions[node][local]
}

// Lookup finds key in the partition hash addresses.
func (c *AggregateContainer[K, V]) Lookup(key K, hash uint64) (V, bool) {
	node, local := Address(hash, c.NumNodes, c.PerNode)
	v, ok := c.Partitions[node][local].Entries[key]
	return v, ok
}

// UnmarshalAggregate decodes a flushed aggregation container.
func UnmarshalAggregate[K comparable, V any](data []byte) (*AggregateContainer[K, V], error) {
	var c AggregateContainer[K, V]
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "decode aggregate container")
	}
	return &c, nil
}

// MergeAggregates folds containers with the same shape into one, combining
// values of keys present in more than one.
func MergeAggregates[K comparable, V any](combine func(V, V) V, containers ...*AggregateContainer[K, V]) (*AggregateContainer[K, V], error) {
	if len(containers) == 0 {
		return nil, errors.New("no aggregate containers to merge")
	}
	first := containers[0]
	merged := newAggregateContainer[K, V](first.NumNodes, first.PerNode)
	for _, c := range containers {
		if c.NumNodes != first.NumNodes || c.PerNode != first.PerNode {
			return nil, errors.Errorf("cannot merge %dx%d container into %dx%d",
				c.NumNodes, c.PerNode, first.NumNodes, first.PerNode)
		}
		for n, node := range c.Partitions {
			for l, p := range node {
				into := merged.Partitions[n][l].Entries
				for k, v := range p.Entries {
					if old, ok := into[k]; ok {
						v = combine(old, v)
					}
					into[k] = v
				}
			}
		}
	}
	return merged, nil
}

// Aggregate folds key/value rows into per-partition maps. An absent key is
// initialized from the row; a present key is replaced by combine(old, new).
// combine must be commutative and associative: a retried batch may be split
// at a different row than the first attempt.
type Aggregate[K comparable, V any] struct {
	keySlot   int
	valueSlot int
	numNodes  int
	perNode   int
	combine   func(V, V) V
	hash      hashing.Func[K]
}

// NewAggregate creates an aggregation sink. A nil hash uses hashing.Of.
func NewAggregate[K comparable, V any](keySlot, valueSlot, numNodes, perNode int, combine func(V, V) V, hash hashing.Func[K]) (*Aggregate[K, V], error) {
	if numNodes <= 0 || perNode <= 0 {
		return nil, core.Structural(core.TraceComponentSink, core.InvalidPlan,
			"aggregation needs at least one node and partition, got %d nodes x %d", numNodes, perNode)
	}
	if combine == nil {
		return nil, core.Structural(core.TraceComponentSink, core.InvalidPlan, "aggregation has no combine function")
	}
	if hash == nil {
		hash = hashing.Of[K]
	}
	return &Aggregate[K, V]{
		keySlot:   keySlot,
		valueSlot: valueSlot,
		numNodes:  numNodes,
		perNode:   perNode,
		combine:   combine,
		hash:      hash,
	}, nil
}

// Hash returns the hash the sink addresses key with.
func (s *Aggregate[K, V]) Hash(key K) uint64 {
	return s.hash(key)
}

func (s *Aggregate[K, V]) CreateOutputContainer(a *arena.Arena) (Container, error) {
	var p AggregatePartition[K, V]
	header := int(unsafe.Sizeof(AggregateContainer[K, V]{})) + s.numNodes*s.perNode*int(unsafe.Sizeof(p))
	if err := reserveHeader(a, header, "aggregation container"); err != nil {
		return nil, err
	}
	c := newAggregateContainer[K, V](s.numNodes, s.perNode)
	c.arena = a
	return c, nil
}

func (s *Aggregate[K, V]) WriteOut(in *vectorized.Batch, out Container) (arena.Status, error) {
	c, ok := out.(*AggregateContainer[K, V])
	if !ok {
		return arena.StatusOK, wrongContainer(out, "aggregation")
	}
	keys, err := vectorized.GetColumn[K](in, s.keySlot)
	if err != nil {
		return arena.StatusOK, err
	}
	values, err := vectorized.GetColumn[V](in, s.valueSlot)
	if err != nil {
		return arena.StatusOK, err
	}
	if len(keys) != len(values) {
		return arena.StatusOK, core.Structural(core.TraceComponentSink, core.ArityMismatch,
			"key column has %d rows, value column %d", len(keys), len(values))
	}

	for i, k := range keys {
		node, local := Address(s.hash(k), s.numNodes, s.perNode)
		entries := c.Partitions[node][local].Entries

		old, present := entries[k]
		if !present {
			entries[k] = values[i]
			if !c.arena.Reserve(arena.SizeOf(k) + arena.SizeOf(values[i])) {
				// Roll back the half-applied key before reporting.
				delete(entries, k)
				return exhausted(in, i)
			}
			continue
		}

		next := s.combine(old, values[i])
		if grow := arena.SizeOf(next) - arena.SizeOf(old); grow > 0 && !c.arena.Reserve(grow) {
			return exhausted(in, i)
		}
		entries[k] = next
	}
	return arena.StatusOK, nil
}
