package pipeline

import (
	"bytepipe/arena"
	"bytepipe/expr"
	"bytepipe/vectorized"
)

// Stage is one compiled operator slot. A stage that cannot fit its work into
// the arena undoes what it reserved and returns arena.StatusExhausted; it is
// then called again with the same batch and a fresh arena.
type Stage interface {
	Execute(in *vectorized.Batch, a *arena.Arena) (*vectorized.Batch, arena.Status, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(in *vectorized.Batch, a *arena.Arena) (*vectorized.Batch, arena.Status, error)

// Execute implements Stage.
func (f StageFunc) Execute(in *vectorized.Batch, a *arena.Arena) (*vectorized.Batch, arena.Status, error) {
	return f(in, a)
}

// ExecStage wraps an expression executor, which never touches the arena.
func ExecStage(e expr.Executor) Stage {
	return StageFunc(func(in *vectorized.Batch, _ *arena.Arena) (*vectorized.Batch, arena.Status, error) {
		out, err := e.Execute(in)
		return out, arena.StatusOK, err
	})
}
