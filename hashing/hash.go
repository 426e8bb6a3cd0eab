// Package hashing provides deterministic hashing for partition and join keys.
// Hash values are stable across processes and runs, so the same key always
// lands in the same partition.
package hashing

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Func hashes a key of type K.
type Func[K any] func(K) uint64

// Of hashes v. Integers, floats, strings, byte slices and booleans are hashed
// from their binary form; any other type is hashed from its %v rendering.
func Of[K any](v K) uint64 {
	var buf [8]byte
	switch x := any(v).(type) {
	case string:
		return xxhash.Sum64String(x)
	case []byte:
		return xxhash.Sum64(x)
	case int:
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
	case int8:
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
	case int16:
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
	case int32:
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
	case int64:
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
	case uint:
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
	case uint8:
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
	case uint16:
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
	case uint32:
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
	case uint64:
		binary.LittleEndian.PutUint64(buf[:], x)
	case float32:
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(float64(x)))
	case float64:
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
	case bool:
		if x {
			buf[0] = 1
		}
	default:
		return xxhash.Sum64String(fmt.Sprintf("%v", v))
	}
	return xxhash.Sum64(buf[:])
}

// Identity returns a key that is already a hash value.
func Identity(h uint64) uint64 { return h }

// Combine mixes two hash values. It is order sensitive.
func Combine(a, b uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], a)
	binary.LittleEndian.PutUint64(buf[8:], b)
	return xxhash.Sum64(buf[:])
}
