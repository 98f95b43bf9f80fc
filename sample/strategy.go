package sample

import (
	"math"
	"sort"

	Fm "github.com/maroda/fmdrisk/model"
	Ft "github.com/maroda/fmdrisk/types"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate/quad"
)

// Strategy is how a phase's occurrence mass is spread over injection times.
type Strategy int

const (
	SinglePoint     Strategy = iota // SinglePoint: one representative time, weight 1
	Quadrature                      // Quadrature: Gauss-Legendre nodes snapped to the grid
	Pruned                          // Pruned: full grid, later thinned against run costs
	FullIntegration                 // FullIntegration: every grid time, weight 1/n
)

func (s Strategy) String() string {
	switch s {
	case SinglePoint:
		return "single-point"
	case Quadrature:
		return "quadrature"
	case Pruned:
		return "pruned"
	case FullIntegration:
		return "full-integration"
	}
	return "unknown"
}

// ParseStrategy reads the config spelling of a strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "single-point", "single", "std":
		return SinglePoint, true
	case "quadrature", "quad":
		return Quadrature, true
	case "pruned", "pruned piecewise-linear":
		return Pruned, true
	case "full-integration", "fullint", "full":
		return FullIntegration, true
	}
	return SinglePoint, false
}

const (
	Midpoint = "midpoint"
	Start    = "start"
	End      = "end"

	DefaultPoints = 3
)

// Params tunes a strategy.
type Params struct {
	Strategy       Strategy
	Points         int     // quadrature nodes per phase
	Representative string  // single-point instant: midpoint, start or end
	Tolerance      float64 // largest change in the phase estimate pruning may cause
	MinSamples     int     // pruning never goes below this many points
}

// Build spreads one phase over the grid times that fall inside it.
// Weights of the returned set sum to 1. A phase with no grid time is a
// configuration error.
func Build(phase Ft.Phase, grid []float64, p Params) (Ft.SampleSet, error) {
	if len(grid) == 0 {
		return nil, Fm.Configf("phase "+phase.Name, "no simulation time falls in [%g, %g)", phase.Start, phase.End)
	}
	switch p.Strategy {
	case SinglePoint:
		return singlePoint(phase, grid, p.Representative)
	case Quadrature:
		n := p.Points
		if n <= 0 {
			n = DefaultPoints
		}
		if n >= len(grid) {
			return full(grid), nil
		}
		return quadrature(phase, grid, n), nil
	case Pruned, FullIntegration:
		return full(grid), nil
	}
	return nil, Fm.Configf("phase "+phase.Name, "unknown sampling strategy %d", p.Strategy)
}

func singlePoint(phase Ft.Phase, grid []float64, rep string) (Ft.SampleSet, error) {
	switch rep {
	case Start:
		return Ft.SampleSet{{Time: grid[0], Weight: 1}}, nil
	case End:
		return Ft.SampleSet{{Time: grid[len(grid)-1], Weight: 1}}, nil
	case "", Midpoint:
		return Ft.SampleSet{{Time: nearest(grid, (phase.Start+phase.End)/2), Weight: 1}}, nil
	}
	return nil, Fm.Configf("phase "+phase.Name, "unknown representative time %q", rep)
}

func full(grid []float64) Ft.SampleSet {
	set := make(Ft.SampleSet, len(grid))
	w := 1 / float64(len(grid))
	for i, t := range grid {
		set[i] = Ft.Sample{Time: t, Weight: w}
	}
	return set
}

// quadrature maps n Gauss-Legendre nodes onto the phase, moves each to the
// nearest grid time, merges nodes that land on the same time and normalizes.
func quadrature(phase Ft.Phase, grid []float64, n int) Ft.SampleSet {
	x := make([]float64, n)
	w := make([]float64, n)
	quad.Legendre{}.FixedLocations(x, w, phase.Start, phase.End)

	merged := make(map[float64]float64, n)
	for i := range x {
		merged[nearest(grid, x[i])] += w[i]
	}
	set := make(Ft.SampleSet, 0, len(merged))
	weights := make([]float64, 0, len(merged))
	for t, wt := range merged {
		set = append(set, Ft.Sample{Time: t, Weight: wt})
		weights = append(weights, wt)
	}
	total := floats.Sum(weights)
	for i := range set {
		set[i].Weight /= total
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Time < set[j].Time })
	return set
}

// nearest returns the grid time closest to t, the earlier one on a tie.
func nearest(grid []float64, t float64) float64 {
	i := sort.SearchFloat64s(grid, t)
	switch {
	case i == 0:
		return grid[0]
	case i == len(grid):
		return grid[len(grid)-1]
	}
	if math.Abs(grid[i]-t) < math.Abs(t-grid[i-1]) {
		return grid[i]
	}
	return grid[i-1]
}

// Weights returns the weights of a set in order.
func Weights(set Ft.SampleSet) []float64 {
	out := make([]float64, len(set))
	for i, s := range set {
		out[i] = s.Weight
	}
	return out
}

// Times returns the times of a set in order.
func Times(set Ft.SampleSet) []float64 {
	out := make([]float64, len(set))
	for i, s := range set {
		out[i] = s.Time
	}
	return out
}

// Estimate is the weighted sum of f over the set.
func Estimate(set Ft.SampleSet, f func(t float64) float64) float64 {
	vals := make([]float64, len(set))
	for i, s := range set {
		vals[i] = f(s.Time)
	}
	return floats.Dot(Weights(set), vals)
}
