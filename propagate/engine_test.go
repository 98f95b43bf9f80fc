package propagate_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	Fm "github.com/maroda/fmdrisk/model"
	"github.com/maroda/fmdrisk/models/chain"
	"github.com/maroda/fmdrisk/models/pump"
	Fp "github.com/maroda/fmdrisk/propagate"
	Ft "github.com/maroda/fmdrisk/types"
)

func TestEngine_RunNominal(t *testing.T) {
	g, m := makeModel(t, pump.Build)
	eng := makeEngine(t, Fp.Config{Times: m.Times})

	t.Run("Nominal is reproducible", func(t *testing.T) {
		first, err := eng.RunNominal(context.Background(), g)
		assertError(t, err, nil)
		second, err := eng.RunNominal(context.Background(), g)
		assertError(t, err, nil)

		if !reflect.DeepEqual(first.History, second.History) {
			t.Errorf("two nominal runs produced different histories")
		}
		assertInt(t, first.History.Len(), len(m.Times))
	})

	t.Run("Nominal leaves the model graph untouched", func(t *testing.T) {
		eng.RunNominal(context.Background(), g)
		sig, _ := g.Flow(pump.Signal)
		assertFloat(t, sig.Get("power"), 1.0)
	})

	t.Run("Nominal has no faults at the end", func(t *testing.T) {
		r, _ := eng.RunNominal(context.Background(), g)
		assertInt(t, len(r.End.Faults), 0)
		if !r.Diff.Empty() {
			t.Errorf("nominal diff should be empty")
		}
	})
}

func TestEngine_RunOneFault(t *testing.T) {
	g, m := makeModel(t, chain.Build)
	eng := makeEngine(t, Fp.Config{Times: m.Times})
	nom, err := eng.Prepare(context.Background(), g, nil)
	assertError(t, err, nil)

	r, err := eng.RunOneFault(context.Background(), nom, chain.Transform, "no_output", 5)
	assertError(t, err, nil)
	assertError(t, r.Err, nil)

	t.Run("Downstream value is nominal before injection and overridden after", func(t *testing.T) {
		for i, ts := range r.History.Time {
			got := r.History.Value(chain.Output, "value", i)
			want := chain.Gain
			if ts >= 5 {
				want = 0
			}
			assertFloat(t, got, want)
		}
	})

	t.Run("History before injection equals nominal", func(t *testing.T) {
		assertPrefixEqual(t, nom.Result.History, r.History, 5)
	})

	t.Run("Diff holds only what changed", func(t *testing.T) {
		if _, ok := r.Diff.Flows[chain.Output]; !ok {
			t.Errorf("output should be in the diff")
		}
		if _, ok := r.Diff.Flows[chain.Input]; ok {
			t.Errorf("input never changed and should not be in the diff")
		}
		assertInt(t, len(r.Diff.Faults[chain.Transform]), 1)
	})

	t.Run("End state carries the catalog entry", func(t *testing.T) {
		mode := r.End.Faults[chain.Transform]["no_output"]
		assertString(t, mode.Cost, "major")
	})

	t.Run("Off-grid time injects at the next grid time", func(t *testing.T) {
		off, err := eng.RunOneFault(context.Background(), nom, chain.Transform, "no_output", 4.5)
		assertError(t, err, nil)
		assertFloat(t, off.History.Value(chain.Output, "value", 4), chain.Gain)
		assertFloat(t, off.History.Value(chain.Output, "value", 5), 0)
	})

	t.Run("Injection outside the time range is a config error", func(t *testing.T) {
		_, err := eng.RunOneFault(context.Background(), nom, chain.Transform, "no_output", 11)
		assertError(t, err, Fm.ErrConfig)
		_, err = eng.RunOneFault(context.Background(), nom, chain.Transform, "no_output", -1)
		assertError(t, err, Fm.ErrConfig)
	})

	t.Run("Undeclared mode is a config error", func(t *testing.T) {
		_, err := eng.RunOneFault(context.Background(), nom, chain.Transform, "melted", 5)
		assertError(t, err, Fm.ErrConfig)
	})
}

func TestEngine_Staged(t *testing.T) {
	g, m := makeModel(t, pump.Build)
	plain := makeEngine(t, Fp.Config{Times: m.Times})
	staged := makeEngine(t, Fp.Config{Times: m.Times, Staged: true, Snapshots: Fp.SnapshotSampled})

	pn, err := plain.Prepare(context.Background(), g, nil)
	assertError(t, err, nil)
	sn, err := staged.Prepare(context.Background(), g, []float64{20})
	assertError(t, err, nil)

	t.Run("Sampled policy keeps only requested times", func(t *testing.T) {
		assertInt(t, sn.Arena.Len(), 1)
		assertInt(t, pn.Arena.Len(), 0)
	})

	t.Run("Staged and unstaged runs agree", func(t *testing.T) {
		a, err := plain.RunOneFault(context.Background(), pn, pump.ExportWater, "block", 20)
		assertError(t, err, nil)
		b, err := staged.RunOneFault(context.Background(), sn, pump.ExportWater, "block", 20)
		assertError(t, err, nil)

		if !reflect.DeepEqual(a.History, b.History) {
			t.Errorf("staged history differs from full rerun")
		}
		assertPrefixEqual(t, sn.Result.History, b.History, 20)
	})

	t.Run("Missing snapshot falls back to time zero", func(t *testing.T) {
		r, err := staged.RunOneFault(context.Background(), sn, pump.ExportWater, "block", 30)
		assertError(t, err, nil)
		assertInt(t, r.History.Len(), len(m.Times))
		assertPrefixEqual(t, sn.Result.History, r.History, 30)
	})

	t.Run("All policy keeps every time", func(t *testing.T) {
		all := makeEngine(t, Fp.Config{Times: m.Times, Staged: true, Snapshots: Fp.SnapshotAll})
		an, err := all.Prepare(context.Background(), g, nil)
		assertError(t, err, nil)
		assertInt(t, an.Arena.Len(), len(m.Times))
	})

	t.Run("Snapshots are not changed by runs", func(t *testing.T) {
		before, _ := sn.Arena.Get(20)
		staged.RunOneFault(context.Background(), sn, pump.ImportWater, "no_wat", 20)
		after, _ := sn.Arena.Get(20)
		b1, _ := before.Block(pump.ImportWater)
		b2, _ := after.Block(pump.ImportWater)
		if !b1.Nominal() || !b2.Nominal() {
			t.Errorf("snapshot picked up a fault")
		}
	})
}

func TestEngine_ConditionalFaults(t *testing.T) {
	g, m := makeModel(t, pump.Build)
	eng := makeEngine(t, Fp.Config{Times: m.Times})
	nom, err := eng.Prepare(context.Background(), g, nil)
	assertError(t, err, nil)

	t.Run("Short circuit opens the power line in the same step", func(t *testing.T) {
		r, err := eng.RunOneFault(context.Background(), nom, pump.MoveWater, "short", 10)
		assertError(t, err, nil)
		assertError(t, r.Err, nil)
		if _, ok := r.End.Faults[pump.ImportEE]["no_v"]; !ok {
			t.Errorf("expected no_v on %s, got %v", pump.ImportEE, r.End.Faults)
		}
		i, _ := r.History.Index(10)
		assertFloat(t, r.History.Value(pump.EE, "effort", i), 0)
	})

	t.Run("Blockage breaks the pump after sustained pressure", func(t *testing.T) {
		r, err := eng.RunOneFault(context.Background(), nom, pump.ExportWater, "block", 20)
		assertError(t, err, nil)
		if _, ok := r.End.Faults[pump.MoveWater]["mech_break"]; !ok {
			t.Errorf("expected mech_break on %s, got %v", pump.MoveWater, r.End.Faults)
		}
		i, _ := r.History.Index(25)
		assertInt(t, len(r.History.Faults[pump.MoveWater][i]), 0)
	})
}

func TestEngine_FixedPoint(t *testing.T) {
	t.Run("Feedback loop converges", func(t *testing.T) {
		g := makeLoopGraph(t, 0.5)
		eng := makeEngine(t, Fp.Config{Times: []float64{0, 1, 2}})
		r, err := eng.RunNominal(context.Background(), g)
		assertError(t, err, nil)
		if math.Abs(r.End.Flows["a"]["v"]-2) > 1e-6 {
			t.Errorf("a.v = %g, want 2", r.End.Flows["a"]["v"])
		}
	})

	t.Run("Diverging loop is a convergence failure", func(t *testing.T) {
		g := makeLoopGraph(t, 2)
		eng := makeEngine(t, Fp.Config{Times: []float64{0, 1}, MaxIter: 10})
		_, err := eng.RunNominal(context.Background(), g)
		assertError(t, err, Fp.ErrNonConvergence)

		var ce *Fp.ConvergenceError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConvergenceError, got %v", err)
		}
		assertFloat(t, ce.Time, 0)
		assertInt(t, len(ce.Blocks), 2)
	})

	t.Run("Single pass skips re-passes", func(t *testing.T) {
		g := makeLoopGraph(t, 2)
		eng := makeEngine(t, Fp.Config{Times: []float64{0, 1}, SinglePass: true})
		r, err := eng.RunNominal(context.Background(), g)
		assertError(t, err, nil)
		assertInt(t, r.Passes, 2)
	})

	t.Run("Unset output is a post-condition error", func(t *testing.T) {
		g := Fm.NewGraph("unset")
		g.AddFlow(Fm.NewFlow("x", "Sig", map[string]float64{"v": 0}))
		g.AddBlock(Fm.NewBlock("writer", Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			return b.Set("x", "v", Fm.Unset)
		})), "x")
		eng := makeEngine(t, Fp.Config{Times: []float64{0, 1}})
		_, err := eng.RunNominal(context.Background(), g)

		var pce *Fm.PostConditionError
		if !errors.As(err, &pce) {
			t.Fatalf("expected PostConditionError, got %v", err)
		}
		assertString(t, pce.Block, "writer")
	})

	t.Run("Output never written is a post-condition error", func(t *testing.T) {
		g := Fm.NewGraph("idle")
		g.AddFlow(Fm.NewFlow("out", "Sig", map[string]float64{"v": Fm.Unset}))
		g.AddBlock(Fm.NewBlock("idle", Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			return nil
		})), "out")
		eng := makeEngine(t, Fp.Config{Times: []float64{0, 1}})
		_, err := eng.RunNominal(context.Background(), g)

		var pce *Fm.PostConditionError
		if !errors.As(err, &pce) {
			t.Fatalf("expected PostConditionError, got %v", err)
		}
		assertString(t, pce.Flow, "out")
	})
}

func TestHistory_JSON(t *testing.T) {
	g, m := makeModel(t, chain.Build)
	eng := makeEngine(t, Fp.Config{Times: m.Times})
	nom, _ := eng.Prepare(context.Background(), g, nil)
	r, _ := eng.RunOneFault(context.Background(), nom, chain.Transform, "no_output", 5)

	data, err := json.Marshal(nom.Compare(r))
	assertError(t, err, nil)

	var got map[string]map[string]json.RawMessage
	assertError(t, json.Unmarshal(data, &got), nil)

	for _, side := range []string{"nominal", "faulty"} {
		t.Run("Has flows, functions and time for "+side, func(t *testing.T) {
			for _, key := range []string{"flows", "functions", "time"} {
				if _, ok := got[side][key]; !ok {
					t.Errorf("%s is missing %q", side, key)
				}
			}
		})
	}

	t.Run("Functions carry fault sets", func(t *testing.T) {
		var fns map[string]map[string]json.RawMessage
		assertError(t, json.Unmarshal(got["faulty"]["functions"], &fns), nil)
		var faults [][]string
		assertError(t, json.Unmarshal(fns[chain.Transform]["faults"], &faults), nil)
		assertInt(t, len(faults), len(m.Times))
		assertInt(t, len(faults[0]), 0)
		assertString(t, faults[len(faults)-1][0], "no_output")
	})
}

func TestEngine_RunScenario(t *testing.T) {
	g, m := makeModel(t, chain.Build)
	eng := makeEngine(t, Fp.Config{Times: m.Times})
	nom, _ := eng.Prepare(context.Background(), g, nil)

	t.Run("Joint faults inject at their own times", func(t *testing.T) {
		sc := Ft.Scenario{
			ID:   "joint",
			Kind: Ft.JointFault,
			Faults: []Ft.Fault{
				{Function: chain.Import, Mode: "no_supply", Time: 3},
				{Function: chain.Transform, Mode: "no_output", Time: 7},
			},
			Time: 3,
		}
		r, err := eng.RunScenario(context.Background(), nom, sc)
		assertError(t, err, nil)
		assertFloat(t, r.History.Value(chain.Input, "value", 2), 1)
		assertFloat(t, r.History.Value(chain.Input, "value", 3), 0)
		i, _ := r.History.Index(6)
		assertInt(t, len(r.History.Faults[chain.Transform][i]), 0)
		assertInt(t, len(r.End.Degraded()), 2)
	})

	t.Run("Kind and fault count must agree", func(t *testing.T) {
		sc := Ft.Scenario{ID: "bad", Kind: Ft.JointFault, Faults: []Ft.Fault{{Function: chain.Import, Mode: "no_supply"}}}
		_, err := eng.RunScenario(context.Background(), nom, sc)
		assertError(t, err, Fm.ErrConfig)
	})

	t.Run("Nominal scenario returns the nominal run", func(t *testing.T) {
		r, err := eng.RunScenario(context.Background(), nom, Ft.Scenario{ID: Ft.NominalID, Kind: Ft.Nominal})
		assertError(t, err, nil)
		if r.History != nom.Result.History {
			t.Errorf("expected the nominal history")
		}
	})
}

// Helpers //

func makeModel(t *testing.T, build func() (*Fm.Graph, Fm.Mission, error)) (*Fm.Graph, Fm.Mission) {
	t.Helper()
	g, m, err := build()
	if err != nil {
		t.Fatalf("could not build model: %v", err)
	}
	return g, m
}

func makeEngine(t *testing.T, cfg Fp.Config) *Fp.Engine {
	t.Helper()
	eng, err := Fp.NewEngine(cfg)
	if err != nil {
		t.Fatalf("could not create engine: %v", err)
	}
	return eng
}

// makeLoopGraph ties two blocks into a feedback loop: a = gain*b + 1, b = a.
// It converges for gain < 1. A "loop" mode on the first block adds 1 to a.
func makeLoopGraph(t *testing.T, gain float64) *Fm.Graph {
	t.Helper()
	g := Fm.NewGraph("loop")
	g.AddFlow(Fm.NewFlow("a", "Sig", map[string]float64{"v": 0}))
	g.AddFlow(Fm.NewFlow("b", "Sig", map[string]float64{"v": 0}))
	first := Fm.NewBlock("first",
		Fm.WithModes(map[string]Fm.Mode{"loop": {Rate: "rare", Cost: "minor"}}),
		Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			return b.Set("a", "v", gain*b.Get("b", "v")+1)
		}),
		Fm.WithEffects(Fm.Effect{Mode: "loop", Apply: func(b *Fm.Block, t float64) error {
			return b.Set("a", "v", b.Get("b", "v")+1)
		}}),
	)
	second := Fm.NewBlock("second",
		Fm.WithModes(map[string]Fm.Mode{"stuck": {Rate: "moderate", Cost: "minor"}}),
		Fm.WithBehavior(func(b *Fm.Block, t float64) error {
			return b.Set("b", "v", b.Get("a", "v"))
		}),
		Fm.WithEffects(Fm.Effect{Mode: "stuck", Apply: func(b *Fm.Block, t float64) error {
			return b.Set("b", "v", 0)
		}}),
	)
	if err := g.AddBlock(first, "a", "b"); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := g.AddBlock(second, "a", "b"); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	return g
}

func assertPrefixEqual(t *testing.T, nominal, faulty *Fp.History, before float64) {
	t.Helper()
	for i, ts := range faulty.Time {
		if ts >= before {
			return
		}
		for flow, attrs := range nominal.Flows {
			for attr := range attrs {
				if nominal.Value(flow, attr, i) != faulty.Value(flow, attr, i) {
					t.Errorf("t=%g %s.%s: nominal %g, faulty %g", ts, flow, attr,
						nominal.Value(flow, attr, i), faulty.Value(flow, attr, i))
				}
			}
		}
		for fn, steps := range faulty.Faults {
			if len(steps[i]) != 0 {
				t.Errorf("t=%g %s has faults %v before injection", ts, fn, steps[i])
			}
		}
	}
}

func assertError(t testing.TB, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Errorf("got error %q want %q", got, want)
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

func assertString(t *testing.T, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
