// Package sink folds the rows of a pipeline's output batches into output
// containers carved from arenas.
//
// A sink never fails on a full arena. It stops at the first row that does not
// fit, undoes any half-applied change for that row, drops the rows it already
// consumed from the batch and reports arena.StatusExhausted. The driver then
// retries with the same batch, which now holds only the unprocessed rows.
package sink

import (
	jsoniter "github.com/json-iterator/go"

	"bytepipe/arena"
	"bytepipe/core"
	"bytepipe/vectorized"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Container is one arena's output.
type Container interface {
	// NumRows is the number of rows folded in so far.
	NumRows() int
	// MarshalBinary encodes the durable form written to a flushed page.
	MarshalBinary() ([]byte, error)
}

// Sink creates containers and folds batches into them.
type Sink interface {
	CreateOutputContainer(a *arena.Arena) (Container, error)
	WriteOut(in *vectorized.Batch, c Container) (arena.Status, error)
}

// exhausted drops the consumed prefix and reports exhaustion.
func exhausted(in *vectorized.Batch, consumed int) (arena.Status, error) {
	if err := in.DropPrefix(consumed); err != nil {
		return arena.StatusExhausted, err
	}
	return arena.StatusExhausted, nil
}

func wrongContainer(c Container, want string) error {
	return core.Structural(core.TraceComponentSink, core.TypeMismatch,
		"sink expects a %s container, got %T", want, c)
}

func reserveHeader(a *arena.Arena, n int, what string) error {
	if !a.Reserve(n) {
		return core.Structural(core.TraceComponentSink, core.InvalidPlan,
			"%s needs %d bytes, page %d holds %d", what, n, a.Page().ID, a.Size())
	}
	return nil
}
