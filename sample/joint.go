package sample

import (
	Fm "github.com/maroda/fmdrisk/model"
	Ft "github.com/maroda/fmdrisk/types"
)

// Joint is the pairwise product of two single-fault scenario lists.
// Each pair injects both faults, each at its own time, with the product
// of the two weights. Pairs of the same mode, and pairs the model declares
// mutually exclusive, are dropped.
func Joint(a, b []Ft.Scenario, g *Fm.Graph) []Ft.Scenario {
	out := make([]Ft.Scenario, 0, len(a)*len(b))
	for _, x := range a {
		for _, y := range b {
			if excluded(x, y, g) {
				continue
			}
			faults := make([]Ft.Fault, 0, len(x.Faults)+len(y.Faults))
			faults = append(faults, x.Faults...)
			faults = append(faults, y.Faults...)

			sc := Ft.Scenario{
				ID:     Fm.ScenarioID(faults...),
				Kind:   Ft.JointFault,
				Faults: faults,
				Time:   x.Time,
				Phase:  x.Phase,
				Weight: x.Weight * y.Weight,
			}
			if y.Time < x.Time {
				sc.Time, sc.Phase = y.Time, y.Phase
			}
			out = append(out, sc)
		}
	}
	return out
}

func excluded(x, y Ft.Scenario, g *Fm.Graph) bool {
	for _, fx := range x.Faults {
		for _, fy := range y.Faults {
			if fx.Function != fy.Function {
				continue
			}
			if fx.Mode == fy.Mode {
				return true
			}
			if g == nil {
				continue
			}
			if b, ok := g.Block(fx.Function); ok && b.Exclusive(fx.Mode, fy.Mode) {
				return true
			}
		}
	}
	return false
}
