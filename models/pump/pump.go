// Package pump is a five-function electric water pump.
//
// Electricity, water and an on/off signal are imported and moved through
// the pump to an export. Two faults are conditional: the power line opens
// when current runs above 5, and the pump breaks after running against
// high pressure for more than 10 steps.
package pump

import (
	Fm "github.com/maroda/fmdrisk/model"
	Ft "github.com/maroda/fmdrisk/types"
)

const (
	ImportEE     = "import_ee"
	ImportWater  = "import_water"
	ImportSignal = "import_signal"
	MoveWater    = "move_water"
	ExportWater  = "export_water"

	EE     = "EE_1"
	Signal = "Sig_1"
	WatIn  = "Wat_1"
	WatOut = "Wat_2"
)

func water() map[string]float64 {
	return map[string]float64{"rate": 1.0, "effort": 1.0, "area": 1.0, "level": 1.0}
}

// Build returns the pump graph over [0, 55] with a step of 1,
// split into start, on and off phases around the signal profile.
func Build() (*Fm.Graph, Fm.Mission, error) {
	g := Fm.NewGraph("pump")
	for _, f := range []*Fm.Flow{
		Fm.NewFlow(EE, "EE", map[string]float64{"rate": 1.0, "effort": 1.0}),
		Fm.NewFlow(Signal, "Signal", map[string]float64{"power": 1.0}),
		Fm.NewFlow(WatIn, "Water", water()),
		Fm.NewFlow(WatOut, "Water", water()),
	} {
		if err := g.AddFlow(f); err != nil {
			return nil, Fm.Mission{}, err
		}
	}

	blocks := []struct {
		b     *Fm.Block
		flows []string
	}{
		{importEE(), []string{EE}},
		{importWater(), []string{WatIn}},
		{importSignal(), []string{Signal}},
		{moveWater(), []string{EE, Signal, WatIn, WatOut}},
		{exportWater(), []string{WatOut}},
	}
	for _, add := range blocks {
		if err := g.AddBlock(add.b, add.flows...); err != nil {
			return nil, Fm.Mission{}, err
		}
	}
	for _, e := range []Fm.Edge{
		{From: ImportEE, To: MoveWater, Flows: []string{EE}},
		{From: ImportSignal, To: MoveWater, Flows: []string{Signal}},
		{From: ImportWater, To: MoveWater, Flows: []string{WatIn}},
		{From: MoveWater, To: ExportWater, Flows: []string{WatOut}},
	} {
		if err := g.Connect(e.From, e.To, e.Flows...); err != nil {
			return nil, Fm.Mission{}, err
		}
	}

	times, err := Fm.NewTimes(0, 55, 1)
	if err != nil {
		return nil, Fm.Mission{}, err
	}
	m := Fm.Mission{
		Times: times,
		Phases: []Ft.Phase{
			{Name: "start", Start: 0, End: 5},
			{Name: "on", Start: 5, End: 50},
			{Name: "end", Start: 50, End: 55},
		},
		Life:  1e5,
		Units: "min",
	}
	return g, m, m.Validate()
}

func importEE() *Fm.Block {
	return Fm.NewBlock(ImportEE,
		Fm.WithModes(map[string]Fm.Mode{
			"no_v":  {Rate: "moderate", Cost: "major"},
			"inf_v": {Rate: "rare", Cost: "major"},
		}),
		// an overcurrent opens the line
		Fm.WithTrigger(func(b *Fm.Block, t float64) error {
			if b.Get(EE, "rate") > 5.0 {
				return b.AddFault("no_v")
			}
			return nil
		}),
		Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			return b.Set(EE, "effort", 1.0)
		}),
		Fm.WithEffects(
			Fm.Effect{Mode: "inf_v", Apply: func(b *Fm.Block, t float64) error {
				return b.Set(EE, "effort", 100.0)
			}},
			Fm.Effect{Mode: "no_v", Apply: func(b *Fm.Block, t float64) error {
				return b.Set(EE, "effort", 0.0)
			}},
		),
	)
}

func importWater() *Fm.Block {
	return Fm.NewBlock(ImportWater,
		Fm.WithModes(map[string]Fm.Mode{
			"no_wat": {Rate: "moderate", Cost: "major"},
		}),
		Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			return b.Set(WatIn, "level", 1.0)
		}),
		Fm.WithEffects(Fm.Effect{Mode: "no_wat", Apply: func(b *Fm.Block, t float64) error {
			return b.Set(WatIn, "level", 0.0)
		}}),
	)
}

func importSignal() *Fm.Block {
	return Fm.NewBlock(ImportSignal,
		Fm.WithModes(map[string]Fm.Mode{
			"no_sig": {Rate: "moderate", Cost: "major"},
		}),
		// off, on from t=5, off again from t=50
		Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			power := 0.0
			if t >= 5 && t < 50 {
				power = 1.0
			}
			return b.Set(Signal, "power", power)
		}),
		Fm.WithEffects(Fm.Effect{Mode: "no_sig", Apply: func(b *Fm.Block, t float64) error {
			return b.Set(Signal, "power", 0.0)
		}}),
	)
}

// pumpWith sets current draw and water output for a pump running at effectiveness eff,
// drawing draw units of current per unit of signal and voltage.
func pumpWith(b *Fm.Block, draw, eff float64) error {
	power := b.Get(Signal, "power")
	if err := b.SetState("eff", eff); err != nil {
		return err
	}
	if err := b.Set(EE, "rate", draw*power*b.Get(EE, "effort")); err != nil {
		return err
	}

	level, area := b.Get(WatIn, "level"), b.Get(WatOut, "area")
	effort := power * eff * level / area
	rate := power * eff * level * area
	for _, w := range []struct {
		flow, attr string
		v          float64
	}{
		{WatOut, "effort", effort},
		{WatOut, "rate", rate},
		{WatIn, "effort", effort},
		{WatIn, "rate", rate},
	} {
		if err := b.Set(w.flow, w.attr, w.v); err != nil {
			return err
		}
	}
	return nil
}

func moveWater() *Fm.Block {
	return Fm.NewBlock(MoveWater,
		Fm.WithModes(map[string]Fm.Mode{
			"mech_break": {Rate: "moderate", Cost: "major"},
			"short":      {Rate: "rare", Cost: "major"},
		}),
		Fm.WithStates(map[string]float64{"eff": 1.0, "timer": 0}),
		// sustained pressure breaks the pump
		Fm.WithTrigger(func(b *Fm.Block, t float64) error {
			if b.Get(WatOut, "effort") <= 5.0 {
				return nil
			}
			timer := b.State("timer") + 1
			if err := b.SetState("timer", timer); err != nil {
				return err
			}
			if timer > 10 {
				return b.AddFault("mech_break")
			}
			return nil
		}),
		Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			return pumpWith(b, 1.0, 1.0)
		}),
		Fm.WithEffects(
			Fm.Effect{Mode: "mech_break", Apply: func(b *Fm.Block, t float64) error {
				return pumpWith(b, 0.1, 0.0)
			}},
			Fm.Effect{Mode: "short", Apply: func(b *Fm.Block, t float64) error {
				return pumpWith(b, 500, 0.0)
			}},
		),
	)
}

func exportWater() *Fm.Block {
	return Fm.NewBlock(ExportWater,
		Fm.WithModes(map[string]Fm.Mode{
			"block": {Rate: "moderate", Cost: "major"},
		}),
		Fm.WithEffects(Fm.Effect{Mode: "block", Apply: func(b *Fm.Block, t float64) error {
			return b.Set(WatOut, "area", 0.1)
		}}),
	)
}
