package sink

import (
	"unsafe"

	"bytepipe/arena"
	"bytepipe/core"
	"bytepipe/hashing"
	"bytepipe/vectorized"
)

// PartitionContainer is a fixed-length array of growable buckets.
type PartitionContainer[V any] struct {
	arena   *arena.Arena
	Buckets [][]V `json:"buckets"`
}

func (c *PartitionContainer[V]) NumRows() int {
	n := 0
	for _, b := range c.Buckets {
		n += len(b)
	}
	return n
}

func (c *PartitionContainer[V]) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// Partition routes each row's value to bucket hash(key) mod numPartitions.
type Partition[K, V any] struct {
	keySlot       int
	valueSlot     int
	numPartitions int
	hash          hashing.Func[K]
}

// NewPartition creates a hash-partition sink. A nil hash uses hashing.Of.
func NewPartition[K, V any](keySlot, valueSlot, numPartitions int, hash hashing.Func[K]) (*Partition[K, V], error) {
	if numPartitions <= 0 {
		return nil, core.Structural(core.TraceComponentSink, core.InvalidPlan,
			"partition sink needs at least one partition, got %d", numPartitions)
	}
	if hash == nil {
		hash = hashing.Of[K]
	}
	return &Partition[K, V]{
		keySlot:       keySlot,
		valueSlot:     valueSlot,
		numPartitions: numPartitions,
		hash:          hash,
	}, nil
}

// Bucket returns the bucket key is routed to.
func (s *Partition[K, V]) Bucket(key K) int {
	return int(s.hash(key) % uint64(s.numPartitions))
}

func (s *Partition[K, V]) CreateOutputContainer(a *arena.Arena) (Container, error) {
	var bucket []V
	header := int(unsafe.Sizeof(PartitionContainer[V]{})) + s.numPartitions*int(unsafe.Sizeof(bucket))
	if err := reserveHeader(a, header, "partition container"); err != nil {
		return nil, err
	}
	return &PartitionContainer[V]{
		arena:   a,
		Buckets: make([][]V, s.numPartitions),
	}, nil
}

func (s *Partition[K, V]) WriteOut(in *vectorized.Batch, out Container) (arena.Status, error) {
	c, ok := out.(*PartitionContainer[V])
	if !ok {
		return arena.StatusOK, wrongContainer(out, "partition")
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
		if !c.arena.Reserve(arena.SizeOf(values[i])) {
			return exhausted(in, i)
		}
		b := s.Bucket(k)
		c.Buckets[b] = append(c.Buckets[b], values[i])
	}
	return arena.StatusOK, nil
}
