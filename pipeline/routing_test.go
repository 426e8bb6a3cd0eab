package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bytepipe/arena"
	"bytepipe/core"
	"bytepipe/source"
	"bytepipe/vectorized"
)

var passThrough = StageFunc(func(in *vectorized.Batch, _ *arena.Arena) (*vectorized.Batch, arena.Status, error) {
	return in, arena.StatusOK, nil
})

func requireInvalidPlan(t *testing.T, err error) {
	t.Helper()
	kind, ok := core.StructuralKindOf(err)
	require.True(t, ok, "expected a structural error, got %v", err)
	require.Equal(t, core.InvalidPlan, kind)
}

func TestBuildRoutingJoinsTwoInputs(t *testing.T) {
	left := source.NewSliceDataset("l", []int{1})
	right := source.NewSliceDataset("r", []int{2})

	out := &Node{Name: "out", Stage: passThrough}
	join := &Node{Name: "join", Stage: passThrough, Consumers: []*Node{out}}
	scanL := &Node{Name: "scan_l", Stage: passThrough, Consumers: []*Node{join}}
	side := &Node{Name: "side", Stage: passThrough}
	scanR := &Node{Name: "scan_r", Stage: passThrough, Consumers: []*Node{side, join}}

	r, err := BuildRouting(&Plan{
		Inputs: []*Input{
			{Name: "left", Dataset: left, Consumers: []*Node{scanL}},
			{Name: "right", Dataset: right, Consumers: []*Node{scanR}},
		},
		Output: out,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"scan_l", "join", "out", "scan_r", "side", "join", "out"}, r.Names)
	require.Equal(t, []int{-1, 0, 1, -1, 3, 3, 5}, r.Feeds)
	require.Equal(t, []InputRange{
		{Name: "left", Begin: 0, End: 3, Output: 2},
		{Name: "right", Begin: 3, End: 7, Output: 6},
	}, r.Inputs)
}

func TestBuildRoutingInputWithoutOutput(t *testing.T) {
	ds := source.NewSliceDataset("x", []int{1})
	out := &Node{Name: "out", Stage: passThrough}
	dead := &Node{Name: "dead", Stage: passThrough}

	r, err := BuildRouting(&Plan{
		Inputs: []*Input{
			{Name: "main", Dataset: ds, Consumers: []*Node{out}},
			{Name: "side", Dataset: ds, Consumers: []*Node{dead}},
		},
		Output: out,
	})
	require.NoError(t, err)
	require.Equal(t, -1, r.Inputs[1].Output)
}

func TestBuildRoutingRejectsInvalidPlans(t *testing.T) {
	ds := source.NewSliceDataset("x", []int{1})

	a := &Node{Name: "a", Stage: passThrough}
	b := &Node{Name: "b", Stage: passThrough, Consumers: []*Node{a}}
	a.Consumers = []*Node{b}

	out := &Node{Name: "out", Stage: passThrough}
	diamondL := &Node{Name: "l", Stage: passThrough, Consumers: []*Node{out}}
	diamondR := &Node{Name: "r", Stage: passThrough, Consumers: []*Node{out}}

	for name, plan := range map[string]*Plan{
		"no output": {Inputs: []*Input{{Name: "in", Dataset: ds}}},
		"no dataset": {
			Inputs: []*Input{{Name: "in", Consumers: []*Node{out}}},
			Output: out,
		},
		"no stage": {
			Inputs: []*Input{{Name: "in", Dataset: ds, Consumers: []*Node{{Name: "empty"}}}},
			Output: out,
		},
		"cycle": {
			Inputs: []*Input{{Name: "in", Dataset: ds, Consumers: []*Node{a}}},
			Output: out,
		},
		"output reached twice": {
			Inputs: []*Input{{Name: "in", Dataset: ds, Consumers: []*Node{diamondL, diamondR}}},
			Output: out,
		},
		"output unreachable": {
			Inputs: []*Input{{Name: "in", Dataset: ds, Consumers: []*Node{diamondL}}},
			Output: &Node{Name: "other", Stage: passThrough},
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := BuildRouting(plan)
			requireInvalidPlan(t, err)
		})
	}
}
