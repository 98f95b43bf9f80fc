package propagate

import (
	"errors"

	Fm "github.com/maroda/fmdrisk/model"
)

// step runs one time step: an ordered pass over every block, then
// re-passes over blocks whose flows or fault sets changed until nothing
// moves by more than Tolerance. Each pass starts every block from the
// state it had when the step began, so re-passes do not double-count.
// A post-condition error only fails the step if it survives convergence.
func (e *Engine) step(g *Fm.Graph, t float64) (int, error) {
	order := g.Order()
	flows := g.Flows()

	start := make(map[string]map[string]float64, len(order))
	for _, b := range order {
		start[b.Name] = b.States()
	}

	pending := make(map[string]error)
	pass := func(blocks []*Fm.Block) error {
		for _, b := range blocks {
			b.RestoreStates(start[b.Name])
			if err := b.Trigger(t); err != nil {
				return err
			}
			err := b.Update(t)
			var pce *Fm.PostConditionError
			switch {
			case errors.As(err, &pce):
				pending[b.Name] = err
			case err != nil:
				return err
			default:
				delete(pending, b.Name)
			}
		}
		return nil
	}

	before, faults := flowValues(flows), faultCounts(order)
	if err := pass(order); err != nil {
		return 1, err
	}
	passes := 1

	if !e.Config.SinglePass {
		for repass := 0; ; repass++ {
			dirty := e.dirty(order, flows, before, faults)
			if len(dirty) == 0 {
				break
			}
			if repass >= e.Config.MaxIter {
				names := make([]string, len(dirty))
				for i, b := range dirty {
					names[i] = b.Name
				}
				return passes, &ConvergenceError{Time: t, Blocks: names, Passes: passes}
			}
			before, faults = flowValues(flows), faultCounts(order)
			if err := pass(dirty); err != nil {
				return passes, err
			}
			passes++
		}
	}

	for _, b := range order {
		if err, ok := pending[b.Name]; ok {
			return passes, err
		}
	}
	return passes, nil
}

// dirty returns, in execution order, the blocks attached to a flow that moved
// by more than Tolerance or whose fault set grew during the last pass.
func (e *Engine) dirty(order []*Fm.Block, flows []*Fm.Flow, before map[string]map[string]float64, faults map[string]int) []*Fm.Block {
	changed := make(map[string]bool)
	for _, f := range flows {
		if f.MaxDelta(before[f.Name]) > e.Config.Tolerance {
			changed[f.Name] = true
		}
	}

	var out []*Fm.Block
	for _, b := range order {
		if b.NumFaults() != faults[b.Name] {
			out = append(out, b)
			continue
		}
		for name := range changed {
			if b.Flow(name) != nil {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

func flowValues(flows []*Fm.Flow) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(flows))
	for _, f := range flows {
		out[f.Name] = f.Values()
	}
	return out
}

func faultCounts(blocks []*Fm.Block) map[string]int {
	out := make(map[string]int, len(blocks))
	for _, b := range blocks {
		out[b.Name] = b.NumFaults()
	}
	return out
}
