package pipeline

import (
	"bytepipe/core"
	"bytepipe/source"
)

// Node is one operator of a plan graph.
type Node struct {
	Name      string
	Stage     Stage
	Consumers []*Node
}

// Input is a logical input of a plan: a dataset and the operators reading it.
type Input struct {
	Name      string
	Dataset   source.Dataset
	Consumers []*Node
}

// Plan is a plan graph. The batches produced by Output are written to the
// sink.
type Plan struct {
	Inputs []*Input
	Output *Node
}

// InputRange is the slice of stage slots an input's chunks run through.
type InputRange struct {
	Name  string
	Begin int
	End   int
	// Output is the stage slot whose batches go to the sink, or -1 when this
	// input does not reach the plan output.
	Output int
}

// Routing is the flattened, executable form of a plan.
type Routing struct {
	Stages []Stage
	Names  []string
	// Feeds holds, per stage slot, the slot whose output feeds it. -1 means
	// the input chunk itself.
	Feeds  []int
	Inputs []InputRange
}

// BuildRouting walks the plan depth-first from every input and assigns one
// stage slot per operator visit. An operator reachable from two inputs gets a
// slot in each input's range.
func BuildRouting(plan *Plan) (*Routing, error) {
	if plan.Output == nil {
		return nil, core.Structural(core.TraceComponentPipeline, core.InvalidPlan, "plan has no output operator")
	}
	r := &Routing{}
	reachesOutput := false

	for _, in := range plan.Inputs {
		if in.Dataset == nil {
			return nil, core.Structural(core.TraceComponentPipeline, core.InvalidPlan, "input %q has no dataset", in.Name)
		}
		rng := InputRange{Name: in.Name, Begin: len(r.Stages), Output: -1}
		visiting := make(map[*Node]bool)

		var visit func(n *Node, feed int) error
		visit = func(n *Node, feed int) error {
			if n.Stage == nil {
				return core.Structural(core.TraceComponentPipeline, core.InvalidPlan, "operator %q has no stage", n.Name)
			}
			if visiting[n] {
				return core.Structural(core.TraceComponentPipeline, core.InvalidPlan, "operator %q is part of a cycle", n.Name)
			}
			visiting[n] = true
			defer delete(visiting, n)

			slot := len(r.Stages)
			r.Stages = append(r.Stages, n.Stage)
			r.Names = append(r.Names, n.Name)
			r.Feeds = append(r.Feeds, feed)
			if n == plan.Output {
				if rng.Output >= 0 {
					return core.Structural(core.TraceComponentPipeline, core.InvalidPlan,
						"input %q reaches output operator %q twice", in.Name, n.Name)
				}
				rng.Output = slot
			}
			for _, c := range n.Consumers {
				if err := visit(c, slot); err != nil {
					return err
				}
			}
			return nil
		}

		for _, c := range in.Consumers {
			if err := visit(c, -1); err != nil {
				return nil, err
			}
		}
		rng.End = len(r.Stages)
		if rng.Output >= 0 {
			reachesOutput = true
		}
		r.Inputs = append(r.Inputs, rng)
	}

	if !reachesOutput {
		return nil, core.Structural(core.TraceComponentPipeline, core.InvalidPlan,
			"no input reaches output operator %q", plan.Output.Name)
	}
	return r, nil
}
