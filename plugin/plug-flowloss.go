package plugin

/*
	FlowLoss

	Prices a run by how many flow attributes end off nominal,
	rating it the same way the reference cost model does.

	~~~ Plugin Reference Implementation ~~~
*/

import (
	Fp "github.com/maroda/fmdrisk/propagate"
	Fr "github.com/maroda/fmdrisk/risk"
	Ft "github.com/maroda/fmdrisk/types"
)

const DefaultLossPrice = 1000.0

type FlowLossPlugin struct {
	*Fr.CostModel
	Price float64 // cost per flow attribute off nominal at the end
}

func NewFlowLoss(life, price float64) *FlowLossPlugin {
	return &FlowLossPlugin{CostModel: Fr.NewCostModel(life), Price: price}
}

// Classify is the main wrapper for the interface.
func (p *FlowLossPlugin) Classify(o Fr.Outcome) (Ft.Classification, error) {
	c, err := p.CostModel.Classify(o)
	if err != nil {
		return c, err
	}
	c.Cost = p.Price * float64(FlowLoss(o.Diff))
	c.ExpectedCost = c.Rate * p.Life * c.Cost
	return c, nil
}

// FlowLoss counts the flow attributes whose last recorded value differs
// from nominal, unset on one side included. A nil diff (failed run) counts nothing.
func FlowLoss(d *Fp.Diff) int {
	if d == nil {
		return 0
	}
	n := 0
	for _, attrs := range d.Flows {
		for _, deltas := range attrs {
			if len(deltas) == 0 {
				continue
			}
			if deltas[len(deltas)-1] != 0 {
				n++
			}
		}
	}
	return n
}
