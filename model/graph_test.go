package model_test

import (
	"testing"

	Fm "github.com/maroda/fmdrisk/model"
	Ft "github.com/maroda/fmdrisk/types"
)

func makeChainGraph(t *testing.T, declared ...string) *Fm.Graph {
	t.Helper()
	g := Fm.NewGraph("chain")
	g.AddFlow(Fm.NewFlow("a", "Sig", map[string]float64{"x": 0}))
	g.AddFlow(Fm.NewFlow("b", "Sig", map[string]float64{"x": 0}))
	flows := map[string][]string{"import": {"a"}, "transform": {"a", "b"}, "export": {"b"}}
	for _, name := range declared {
		if err := g.AddBlock(Fm.NewBlock(name), flows[name]...); err != nil {
			t.Fatalf("AddBlock(%s): %v", name, err)
		}
	}
	return g
}

func blockNames(bs []*Fm.Block) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Name
	}
	return out
}

func TestGraph_Order(t *testing.T) {
	t.Run("Topological order wins over declaration order", func(t *testing.T) {
		g := makeChainGraph(t, "export", "transform", "import")
		g.Connect("import", "transform", "a")
		g.Connect("transform", "export", "b")

		got := blockNames(g.Order())
		want := []string{"import", "transform", "export"}
		for i := range want {
			assertString(t, got[i], want[i])
		}
		if g.Cyclic() {
			t.Errorf("chain should not be cyclic")
		}
	})

	t.Run("Cycle falls back to declaration order", func(t *testing.T) {
		g := makeChainGraph(t, "export", "transform", "import")
		g.Connect("import", "transform", "a")
		g.Connect("transform", "import", "a")

		if !g.Cyclic() {
			t.Fatalf("expected a cycle")
		}
		got := blockNames(g.Order())
		assertString(t, got[0], "export")
		assertString(t, got[2], "import")
	})

	t.Run("Edge over an unshared flow is rejected", func(t *testing.T) {
		g := makeChainGraph(t, "import", "transform", "export")
		err := g.Connect("import", "export", "a")
		assertError(t, err, Fm.ErrConfig)
	})
}

func TestGraph_AddBlock(t *testing.T) {
	g := makeChainGraph(t, "import")

	t.Run("Duplicate block is rejected", func(t *testing.T) {
		err := g.AddBlock(Fm.NewBlock("import"))
		assertError(t, err, Fm.ErrConfig)
	})

	t.Run("Unknown flow is rejected", func(t *testing.T) {
		err := g.AddBlock(Fm.NewBlock("other"), "nope")
		assertError(t, err, Fm.ErrConfig)
	})

	t.Run("Users lists attached blocks", func(t *testing.T) {
		g := makeChainGraph(t, "import", "transform", "export")
		users := g.Users("b")
		assertInt(t, len(users), 2)
	})
}

func TestGraph_Clone(t *testing.T) {
	g := makeChainGraph(t, "import", "transform", "export")
	g.Connect("import", "transform", "a")
	tr, _ := g.Block("transform")
	tr.Set("b", "x", 7)

	c := g.Clone()
	ct, _ := c.Block("transform")

	t.Run("Clone carries values", func(t *testing.T) {
		assertFloat(t, ct.Get("b", "x"), 7)
	})

	t.Run("Clone writes stay in the clone", func(t *testing.T) {
		ct.Set("b", "x", 1)
		assertFloat(t, tr.Get("b", "x"), 7)
	})

	t.Run("Blocks in a clone share the clone's flows", func(t *testing.T) {
		ce, _ := c.Block("export")
		assertFloat(t, ce.Get("b", "x"), 1)
	})

	t.Run("Order survives cloning", func(t *testing.T) {
		got := blockNames(c.Order())
		assertString(t, got[0], "import")
	})

	t.Run("Growing a clone leaves the original alone", func(t *testing.T) {
		grown := g.Clone()
		grown.AddFlow(Fm.NewFlow("c", "Sig", map[string]float64{"x": 0}))
		if err := grown.AddBlock(Fm.NewBlock("extra"), "b", "c"); err != nil {
			t.Fatalf("AddBlock on clone: %v", err)
		}
		grown.Connect("transform", "export", "b")

		if _, ok := g.Block("extra"); ok {
			t.Errorf("original should not see a block added to its clone")
		}
		if _, ok := g.Flow("c"); ok {
			t.Errorf("original should not see a flow added to its clone")
		}
		assertInt(t, len(g.Blocks()), 3)
		assertInt(t, len(g.Flows()), 2)
		assertInt(t, len(g.Edges()), 1)
		assertInt(t, len(g.Order()), 3)
		assertInt(t, len(grown.Order()), 4)
	})
}

func TestGraph_Lookup(t *testing.T) {
	g := Fm.NewGraph("lookup")
	g.AddBlock(Fm.NewBlock("pump", Fm.WithModes(map[string]Fm.Mode{"short": {Rate: "rare", Cost: "major"}})))

	t.Run("Finds declared mode", func(t *testing.T) {
		m, err := g.Lookup("pump", "short")
		assertError(t, err, nil)
		assertString(t, m.Cost, "major")
	})

	t.Run("Unknown function is a config error", func(t *testing.T) {
		_, err := g.Lookup("valve", "short")
		assertError(t, err, Fm.ErrConfig)
	})

	t.Run("Unknown mode is a config error", func(t *testing.T) {
		_, err := g.Lookup("pump", "melt")
		assertError(t, err, Fm.ErrConfig)
	})
}

func TestMission(t *testing.T) {
	t.Run("Builds a grid with checkpoints", func(t *testing.T) {
		times, err := Fm.NewTimes(0, 10, 4, 5)
		assertError(t, err, nil)
		want := []float64{0, 4, 5, 8, 10}
		assertInt(t, len(times), len(want))
		for i := range want {
			assertFloat(t, times[i], want[i])
		}
	})

	t.Run("Rejects non-positive step", func(t *testing.T) {
		_, err := Fm.NewTimes(0, 10, 0)
		assertError(t, err, Fm.ErrConfig)
	})

	t.Run("Rejects unordered times", func(t *testing.T) {
		err := Fm.ValidateTimes([]float64{0, 2, 2})
		assertError(t, err, Fm.ErrConfig)
	})

	t.Run("Defaults to one phase", func(t *testing.T) {
		m := Fm.Mission{Times: []float64{0, 1, 2}, Life: 1}
		err := m.Validate()
		assertError(t, err, nil)
		assertInt(t, len(m.Phases), 1)
		assertFloat(t, m.Phases[0].End, 2)
	})

	t.Run("Rejects zero-length phase", func(t *testing.T) {
		m := Fm.Mission{Times: []float64{0, 1, 2}, Life: 1, Phases: []Ft.Phase{
			{Name: "a", Start: 0, End: 0},
			{Name: "b", Start: 0, End: 2},
		}}
		assertError(t, m.Validate(), Fm.ErrConfig)
	})

	t.Run("Rejects gap between phases", func(t *testing.T) {
		m := Fm.Mission{Times: []float64{0, 1, 2}, Life: 1, Phases: []Ft.Phase{
			{Name: "a", Start: 0, End: 1},
			{Name: "b", Start: 1.5, End: 2},
		}}
		assertError(t, m.Validate(), Fm.ErrConfig)
	})

	t.Run("Last phase owns the end time", func(t *testing.T) {
		m := Fm.Mission{Times: []float64{0, 1, 2, 3}, Life: 1, Phases: []Ft.Phase{
			{Name: "a", Start: 0, End: 2},
			{Name: "b", Start: 2, End: 3},
		}}
		m.Validate()
		p, ok := m.PhaseAt(3)
		if !ok {
			t.Fatalf("t=3 should belong to a phase")
		}
		assertString(t, p.Name, "b")
		assertInt(t, len(m.PhaseTimes(m.Phases[0])), 2)
		assertInt(t, len(m.PhaseTimes(m.Phases[1])), 2)
	})
}
