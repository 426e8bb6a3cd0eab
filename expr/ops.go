package expr

import (
	"bytepipe/core"
	"bytepipe/vectorized"
)

// bindOperands binds keep and resolves exactly want operands against input.
func bindOperands(input, operands, keep vectorized.Attributes, want int) (*vectorized.Binder, []int, error) {
	if len(operands) != want {
		return nil, nil, core.Structural(core.TraceComponentCompiler, core.ArityMismatch,
			"expected %d operands, got %d", want, len(operands))
	}
	binder, err := vectorized.NewBinder(input, keep)
	if err != nil {
		return nil, nil, err
	}
	offsets, err := binder.Match(operands)
	if err != nil {
		return nil, nil, err
	}
	return binder, offsets, nil
}

// compileUnary builds an executor that maps one operand column through fn
// into a new column appended after the kept attributes.
func compileUnary[In, Out any](input, operands, keep vectorized.Attributes, fn func(In) Out) (Executor, error) {
	binder, offsets, err := bindOperands(input, operands, keep, 1)
	if err != nil {
		return nil, err
	}
	src, outSlot := offsets[0], binder.NumKept()

	return ExecutorFunc(func(in *vectorized.Batch) (*vectorized.Batch, error) {
		values, err := vectorized.GetColumn[In](in, src)
		if err != nil {
			return nil, err
		}
		out := vectorized.NewBatch()
		if err := binder.Setup(in, out); err != nil {
			return nil, err
		}
		result := make([]Out, len(values))
		for i, v := range values {
			result[i] = fn(v)
		}
		vectorized.PutColumn(out, outSlot, result, vectorized.Owned)
		return out, nil
	}), nil
}

// compileBinary is compileUnary for two operand columns of equal length.
func compileBinary[A, B, Out any](input, operands, keep vectorized.Attributes, fn func(A, B) Out) (Executor, error) {
	binder, offsets, err := bindOperands(input, operands, keep, 2)
	if err != nil {
		return nil, err
	}
	left, right, outSlot := offsets[0], offsets[1], binder.NumKept()

	return ExecutorFunc(func(in *vectorized.Batch) (*vectorized.Batch, error) {
		as, err := vectorized.GetColumn[A](in, left)
		if err != nil {
			return nil, err
		}
		bs, err := vectorized.GetColumn[B](in, right)
		if err != nil {
			return nil, err
		}
		if len(as) != len(bs) {
			return nil, core.Structural(core.TraceComponentCompiler, core.ArityMismatch,
				"operand columns have %d and %d rows", len(as), len(bs))
		}
		out := vectorized.NewBatch()
		if err := binder.Setup(in, out); err != nil {
			return nil, err
		}
		result := make([]Out, len(as))
		for i := range as {
			result[i] = fn(as[i], bs[i])
		}
		vectorized.PutColumn(out, outSlot, result, vectorized.Owned)
		return out, nil
	}), nil
}
