// Package chain is the smallest useful model: import -> transform -> export.
package chain

import (
	Fm "github.com/maroda/fmdrisk/model"
	Ft "github.com/maroda/fmdrisk/types"
)

const (
	Import    = "import"
	Transform = "transform"
	Export    = "export"

	Input  = "input"
	Output = "output"

	Gain = 2.0 // transform output per unit input
)

// Build returns the chain graph over [0, 10] with a step of 1.
func Build() (*Fm.Graph, Fm.Mission, error) {
	g := Fm.NewGraph("chain")
	if err := g.AddFlow(Fm.NewFlow(Input, "Signal", map[string]float64{"value": 0})); err != nil {
		return nil, Fm.Mission{}, err
	}
	if err := g.AddFlow(Fm.NewFlow(Output, "Signal", map[string]float64{"value": 0})); err != nil {
		return nil, Fm.Mission{}, err
	}

	imp := Fm.NewBlock(Import,
		Fm.WithModes(map[string]Fm.Mode{
			"no_supply": {Rate: "moderate", Cost: "minor"},
		}),
		Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			return b.Set(Input, "value", 1.0)
		}),
		Fm.WithEffects(Fm.Effect{Mode: "no_supply", Apply: func(b *Fm.Block, t float64) error {
			return b.Set(Input, "value", 0)
		}}),
	)

	tr := Fm.NewBlock(Transform,
		Fm.WithModes(map[string]Fm.Mode{
			"no_output": {Rate: "rare", Cost: "major"},
		}),
		Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			return b.Set(Output, "value", Gain*b.Get(Input, "value"))
		}),
		Fm.WithEffects(Fm.Effect{Mode: "no_output", Apply: func(b *Fm.Block, t float64) error {
			return b.Set(Output, "value", 0)
		}}),
	)

	exp := Fm.NewBlock(Export,
		Fm.WithStates(map[string]float64{"received": 0, "delivered": 0}),
		Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			v := b.Get(Output, "value")
			if err := b.SetState("received", v); err != nil {
				return err
			}
			return b.SetState("delivered", b.State("delivered")+v)
		}),
	)

	for _, add := range []struct {
		b     *Fm.Block
		flows []string
	}{
		{imp, []string{Input}},
		{tr, []string{Input, Output}},
		{exp, []string{Output}},
	} {
		if err := g.AddBlock(add.b, add.flows...); err != nil {
			return nil, Fm.Mission{}, err
		}
	}
	if err := g.Connect(Import, Transform, Input); err != nil {
		return nil, Fm.Mission{}, err
	}
	if err := g.Connect(Transform, Export, Output); err != nil {
		return nil, Fm.Mission{}, err
	}

	times, err := Fm.NewTimes(0, 10, 1)
	if err != nil {
		return nil, Fm.Mission{}, err
	}
	m := Fm.Mission{
		Times:  times,
		Phases: []Ft.Phase{{Name: "operation", Start: 0, End: 10}},
		Life:   1e5,
		Units:  "hr",
	}
	return g, m, m.Validate()
}
