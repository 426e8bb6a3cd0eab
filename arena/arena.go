// Package arena implements the fixed-size memory regions that pipeline output
// containers are carved from, and the page-supply interface that provides and
// retires them.
//
// A container grows by reserving bytes in its arena. When a reservation
// fails, the container reports StatusExhausted instead of an error; the
// pipeline driver then swaps in a fresh arena and retries.
package arena

import (
	"fmt"
	"unsafe"
)

// Status is the outcome of an operation that writes into an arena.
type Status int

const (
	// StatusOK means the operation consumed all of its input.
	StatusOK Status = iota
	// StatusExhausted means the arena could not grow further. The operation
	// rolled back any partial mutation and left only its unprocessed input.
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Arena is one page's worth of output budget.
type Arena struct {
	seq  uint64
	page Page
	used int
}

// New wraps page as the arena with sequence number seq.
func New(seq uint64, page Page) *Arena {
	return &Arena{seq: seq, page: page}
}

// Seq is the arena's creation order within a pipeline run.
func (a *Arena) Seq() uint64 { return a.seq }

// Page returns the backing page.
func (a *Arena) Page() Page { return a.page }

// Size is the page size in bytes.
func (a *Arena) Size() int { return a.page.Size }

// Used is the number of bytes reserved so far.
func (a *Arena) Used() int { return a.used }

// Remaining is the number of bytes still available.
func (a *Arena) Remaining() int { return a.page.Size - a.used }

// Reserve claims n bytes. It returns false and claims nothing when the arena
// cannot hold them.
func (a *Arena) Reserve(n int) bool {
	if n < 0 || a.used+n > a.page.Size {
		return false
	}
	a.used += n
	return true
}

// Unreserve returns n previously reserved bytes.
func (a *Arena) Unreserve(n int) {
	a.used -= n
	if a.used < 0 {
		a.used = 0
	}
}

func (a *Arena) String() string {
	return fmt.Sprintf("arena(seq=%d, page=%d, used=%d/%d)", a.seq, a.page.ID, a.used, a.page.Size)
}

// SizeOf estimates the bytes v occupies in an output container.
func SizeOf[T any](v T) int {
	switch x := any(v).(type) {
	case string:
		return int(unsafe.Sizeof(x)) + len(x)
	case []byte:
		return int(unsafe.Sizeof(x)) + len(x)
	case []string:
		n := int(unsafe.Sizeof(x))
		for _, s := range x {
			n += int(unsafe.Sizeof(s)) + len(s)
		}
		return n
	case []any:
		n := int(unsafe.Sizeof(x))
		for _, e := range x {
			n += SizeOf(e)
		}
		return n
	}
	return int(unsafe.Sizeof(v))
}
