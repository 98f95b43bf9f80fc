package sample_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	Fm "github.com/maroda/fmdrisk/model"
	"github.com/maroda/fmdrisk/models/chain"
	"github.com/maroda/fmdrisk/models/pump"
	Fs "github.com/maroda/fmdrisk/sample"
	Ft "github.com/maroda/fmdrisk/types"
	"gonum.org/v1/gonum/floats"
)

func TestBuild_WeightsSumToOne(t *testing.T) {
	times, _ := Fm.NewTimes(0, 20, 1)
	phase := Ft.Phase{Name: "cruise", Start: 0, End: 20}
	m := Fm.Mission{Times: times, Phases: []Ft.Phase{phase}, Life: 1}
	grid := m.PhaseTimes(phase)

	tests := []struct {
		name   string
		params Fs.Params
		size   int
	}{
		{name: "Single point", params: Fs.Params{Strategy: Fs.SinglePoint}, size: 1},
		{name: "Quadrature", params: Fs.Params{Strategy: Fs.Quadrature, Points: 4}, size: 4},
		{name: "Pruned starts full", params: Fs.Params{Strategy: Fs.Pruned}, size: len(grid)},
		{name: "Full integration", params: Fs.Params{Strategy: Fs.FullIntegration}, size: len(grid)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Fs.Build(phase, grid, tt.params)
			assertError(t, err, nil)
			assertInt(t, len(set), tt.size)
			assertFloat(t, floats.Sum(Fs.Weights(set)), 1)
		})
	}

	t.Run("Constant rate integrates the same under every strategy", func(t *testing.T) {
		rate := func(float64) float64 { return 1e-5 }
		for _, tt := range tests {
			set, _ := Fs.Build(phase, grid, tt.params)
			assertFloat(t, Fs.Estimate(set, rate), 1e-5)
		}
	})
}

func TestBuild_Strategies(t *testing.T) {
	grid := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	phase := Ft.Phase{Name: "p", Start: 0, End: 10}

	t.Run("Single point defaults to the midpoint", func(t *testing.T) {
		set, _ := Fs.Build(phase, grid, Fs.Params{Strategy: Fs.SinglePoint})
		assertFloat(t, set[0].Time, 5)
	})

	t.Run("Single point can use the start", func(t *testing.T) {
		set, _ := Fs.Build(phase, grid, Fs.Params{Strategy: Fs.SinglePoint, Representative: Fs.Start})
		assertFloat(t, set[0].Time, 0)
	})

	t.Run("Unknown representative is a config error", func(t *testing.T) {
		_, err := Fs.Build(phase, grid, Fs.Params{Strategy: Fs.SinglePoint, Representative: "noon"})
		assertError(t, err, Fm.ErrConfig)
	})

	t.Run("Quadrature nodes land on grid times in order", func(t *testing.T) {
		set, _ := Fs.Build(phase, grid, Fs.Params{Strategy: Fs.Quadrature, Points: 3})
		assertInt(t, len(set), 3)
		for i, s := range set {
			if s.Time != math.Trunc(s.Time) {
				t.Errorf("node %g is not a grid time", s.Time)
			}
			if i > 0 && !(s.Time > set[i-1].Time) {
				t.Errorf("nodes out of order: %v", set)
			}
		}
		// symmetric rule, symmetric weights
		assertFloat(t, set[0].Weight, set[2].Weight)
	})

	t.Run("Too many quadrature nodes falls back to full integration", func(t *testing.T) {
		set, _ := Fs.Build(phase, grid, Fs.Params{Strategy: Fs.Quadrature, Points: 50})
		assertInt(t, len(set), len(grid))
	})

	t.Run("Empty phase is a config error", func(t *testing.T) {
		_, err := Fs.Build(phase, nil, Fs.Params{Strategy: Fs.FullIntegration})
		assertError(t, err, Fm.ErrConfig)
	})
}

func TestPrune(t *testing.T) {
	grid := make([]float64, 21)
	for i := range grid {
		grid[i] = float64(i)
	}
	phase := Ft.Phase{Name: "p", Start: 0, End: 21}
	full, _ := Fs.Build(phase, grid, Fs.Params{Strategy: Fs.FullIntegration})

	tests := []struct {
		name string
		f    func(float64) float64
		tol  float64
	}{
		{name: "Linear cost", f: func(t float64) float64 { return 100 + 10*t }, tol: 20},
		{name: "Quadratic cost", f: func(t float64) float64 { return t * t }, tol: 5},
		{name: "Step cost", f: func(t float64) float64 {
			if t < 7 {
				return 0
			}
			return 1000
		}, tol: 10},
		{name: "Constant cost", f: func(float64) float64 { return 3 }, tol: 1e-9},
	}

	for _, tt := range tests {
		t.Run(tt.name+" stays within tolerance and never grows", func(t *testing.T) {
			pruned := Fs.Prune(full, tt.f, tt.tol, 2)
			if len(pruned) > len(full) {
				t.Errorf("pruned %d > full %d", len(pruned), len(full))
			}
			want := Fs.Estimate(full, tt.f)
			got := Fs.Estimate(pruned, tt.f)
			if math.Abs(got-want) > tt.tol+1e-9 {
				t.Errorf("estimate %g is %g from full %g, tol %g", got, math.Abs(got-want), want, tt.tol)
			}
			assertFloat(t, floats.Sum(Fs.Weights(pruned)), 1)
			assertFloat(t, pruned[0].Time, grid[0])
			assertFloat(t, pruned[len(pruned)-1].Time, grid[len(grid)-1])
		})
	}

	t.Run("Constant cost prunes down to the endpoints", func(t *testing.T) {
		pruned := Fs.Prune(full, func(float64) float64 { return 3 }, 1e-9, 2)
		assertInt(t, len(pruned), 2)
	})

	t.Run("Minimum sample count is respected", func(t *testing.T) {
		pruned := Fs.Prune(full, func(float64) float64 { return 3 }, 1e-9, 5)
		assertInt(t, len(pruned), 5)
	})

	t.Run("Zero tolerance on a curved cost keeps the set", func(t *testing.T) {
		f := func(t float64) float64 { return math.Exp(t / 3) }
		pruned := Fs.Prune(full, f, 0, 2)
		assertInt(t, len(pruned), len(full))
	})
}

func TestNew(t *testing.T) {
	g, m, err := pump.Build()
	assertError(t, err, nil)

	t.Run("Every mode sums to one over the mission", func(t *testing.T) {
		for _, strategy := range []Fs.Strategy{Fs.SinglePoint, Fs.Quadrature, Fs.Pruned, Fs.FullIntegration} {
			a, err := Fs.New(g, m, nil, Fs.Params{Strategy: strategy, Points: 3})
			assertError(t, err, nil)

			sums := make(map[string]float64)
			for _, sc := range a.Scenarios {
				f := sc.Faults[0]
				sums[f.Function+" "+f.Mode] += sc.Weight
			}
			assertInt(t, len(sums), 7)
			for mode, sum := range sums {
				if math.Abs(sum-1) > 1e-9 {
					t.Errorf("%s: %s weights sum to %g", strategy, mode, sum)
				}
			}
		}
	})

	t.Run("Single point gives one scenario per mode and phase", func(t *testing.T) {
		a, _ := Fs.New(g, m, nil, Fs.Params{Strategy: Fs.SinglePoint})
		assertInt(t, len(a.Scenarios), 7*3)
	})

	t.Run("Mode selection limits the approach", func(t *testing.T) {
		a, err := Fs.New(g, m, nil, Fs.Params{Strategy: Fs.SinglePoint},
			Fs.WithModes(pump.MoveWater), Fs.WithModes(pump.ImportEE, "no_v"))
		assertError(t, err, nil)
		assertInt(t, len(a.Scenarios), 3*3)
	})

	t.Run("Unknown function is a config error", func(t *testing.T) {
		_, err := Fs.New(g, m, nil, Fs.Params{}, Fs.WithModes("turbine"))
		assertError(t, err, Fm.ErrConfig)
	})

	t.Run("Unknown rate class is a config error", func(t *testing.T) {
		_, err := Fs.New(g, m, Fs.Rates{"rare": 1e-7}, Fs.Params{})
		assertError(t, err, Fm.ErrConfig)
	})

	t.Run("Empty phase is a config error even where no mode occurs", func(t *testing.T) {
		times, _ := Fm.NewTimes(0, 10, 1)
		quiet := Fm.Mission{Times: times, Life: 1, Phases: []Ft.Phase{
			{Name: "a", Start: 0, End: 5.2},
			{Name: "gap", Start: 5.2, End: 5.8},
			{Name: "b", Start: 5.8, End: 10},
		}}
		qg := Fm.NewGraph("quiet")
		qg.AddBlock(Fm.NewBlock("valve", Fm.WithModes(map[string]Fm.Mode{
			"stuck": {Rate: "rare", Cost: "minor", PhaseRates: map[string]string{"gap": "never"}},
		})))

		_, err := Fs.New(qg, quiet, Fs.Rates{"rare": 1e-7, "never": 0}, Fs.Params{Strategy: Fs.SinglePoint})
		assertError(t, err, Fm.ErrConfig)
		if err == nil || !strings.Contains(err.Error(), "gap") {
			t.Errorf("error should name the empty phase, got %v", err)
		}
	})

	t.Run("Phase parameters override the default", func(t *testing.T) {
		a, _ := Fs.New(g, m, nil, Fs.Params{Strategy: Fs.SinglePoint},
			Fs.WithModes(pump.ExportWater),
			Fs.WithPhaseParams("on", Fs.Params{Strategy: Fs.FullIntegration}))
		set, ok := a.Set(pump.ExportWater, "block", "on")
		if !ok {
			t.Fatalf("missing set for block in on")
		}
		assertInt(t, len(set), 45)
		assertInt(t, len(a.Scenarios), 1+45+1)
	})

	t.Run("Times are the distinct injection times", func(t *testing.T) {
		a, _ := Fs.New(g, m, nil, Fs.Params{Strategy: Fs.SinglePoint, Representative: Fs.Start})
		times := a.Times()
		assertInt(t, len(times), 3)
		assertFloat(t, times[1], 5)
	})
}

func TestApproach_Prune(t *testing.T) {
	g, m, _ := chain.Build()
	a, err := Fs.New(g, m, nil, Fs.Params{Strategy: Fs.Pruned, Tolerance: 1}, Fs.WithModes(chain.Transform))
	assertError(t, err, nil)
	full := len(a.Scenarios)

	t.Run("Missing cost is an error", func(t *testing.T) {
		err := a.Prune(map[string]float64{}, 0)
		assertGotError(t, err)
	})

	t.Run("Flat costs prune to the phase endpoints", func(t *testing.T) {
		costs := make(map[string]float64)
		for _, sc := range a.Scenarios {
			costs[sc.ID] = 10000
		}
		err := a.Prune(costs, 0)
		assertError(t, err, nil)
		assertInt(t, len(a.Scenarios), 2)
		if len(a.Scenarios) >= full {
			t.Errorf("pruning should shrink %d scenarios", full)
		}
		sum := 0.0
		for _, sc := range a.Scenarios {
			sum += sc.Weight
		}
		assertFloat(t, sum, 1)
	})
}

func TestJoint(t *testing.T) {
	g, m, _ := pump.Build()
	a, _ := Fs.New(g, m, nil, Fs.Params{Strategy: Fs.Quadrature, Points: 2}, Fs.WithModes(pump.MoveWater))

	var brk, short []Ft.Scenario
	for _, sc := range a.Scenarios {
		switch sc.Faults[0].Mode {
		case "mech_break":
			brk = append(brk, sc)
		case "short":
			short = append(short, sc)
		}
	}

	t.Run("Pairs m by n with product weights", func(t *testing.T) {
		joint := Fs.Joint(brk, short, g)
		assertInt(t, len(joint), len(brk)*len(short))
		for i, x := range brk {
			for j, y := range short {
				sc := joint[i*len(short)+j]
				assertFloat(t, sc.Weight, x.Weight*y.Weight)
				assertInt(t, len(sc.Faults), 2)
				if sc.Kind != Ft.JointFault {
					t.Errorf("kind = %d, want joint", sc.Kind)
				}
			}
		}
	})

	t.Run("Same mode pairs are dropped", func(t *testing.T) {
		joint := Fs.Joint(brk, brk, g)
		assertInt(t, len(joint), 0)
	})

	t.Run("Declared exclusions are dropped", func(t *testing.T) {
		eg := Fm.NewGraph("excl")
		err := eg.AddBlock(Fm.NewBlock("valve", Fm.WithModes(map[string]Fm.Mode{
			"open":   {Rate: "rare", Cost: "minor", Excludes: []string{"closed"}},
			"closed": {Rate: "rare", Cost: "minor"},
			"leak":   {Rate: "rare", Cost: "minor"},
		})))
		assertError(t, err, nil)
		open := []Ft.Scenario{{ID: "o", Faults: []Ft.Fault{{Function: "valve", Mode: "open", Time: 1}}, Weight: 0.5}}
		other := []Ft.Scenario{
			{ID: "c", Faults: []Ft.Fault{{Function: "valve", Mode: "closed", Time: 2}}, Weight: 0.5},
			{ID: "l", Faults: []Ft.Fault{{Function: "valve", Mode: "leak", Time: 2}}, Weight: 0.5},
		}
		joint := Fs.Joint(open, other, eg)
		assertInt(t, len(joint), 1)
		assertFloat(t, joint[0].Weight, 0.25)
	})

	t.Run("Approach can add joint scenarios", func(t *testing.T) {
		b, _ := Fs.New(g, m, nil, Fs.Params{Strategy: Fs.Quadrature, Points: 2}, Fs.WithModes(pump.MoveWater), Fs.WithJoint())
		assertInt(t, len(b.Scenarios), len(a.Scenarios)+len(brk)*len(short))
	})
}

// Helpers //

func assertError(t testing.TB, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Errorf("got error %q want %q", got, want)
	}
}

func assertGotError(t testing.TB, got error) {
	t.Helper()
	if got == nil {
		t.Errorf("Expected an error but got %q", got)
	}
}

func assertInt(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("got %d want %d", got, want)
	}
}

func assertFloat(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %g want %g", got, want)
	}
}
