package plugin_test

import (
	"testing"

	Fx "github.com/maroda/fmdrisk/plugin"
	Fr "github.com/maroda/fmdrisk/risk"
)

func TestClassifierLookup(t *testing.T) {
	t.Run("Returns the reference cost model", func(t *testing.T) {
		got, err := Fx.ClassifierLookup("cost_model", 1e5)
		assertError(t, err, nil)
		cm, ok := got.(*Fr.CostModel)
		if !ok {
			t.Fatalf("got %T want *risk.CostModel", got)
		}
		assertFloat(t, cm.Life, 1e5)
	})

	t.Run("Returns the flow loss plugin", func(t *testing.T) {
		got, err := Fx.ClassifierLookup("flow_loss", 10)
		assertError(t, err, nil)
		if _, ok := got.(*Fx.FlowLossPlugin); !ok {
			t.Errorf("got %T want *plugin.FlowLossPlugin", got)
		}
	})

	t.Run("Returns error if classifier doesn't exist", func(t *testing.T) {
		_, err := Fx.ClassifierLookup("craquemattic", 1)
		assertGotError(t, err)
	})
}

func TestOutputLookup(t *testing.T) {
	t.Run("Returns a JSON output", func(t *testing.T) {
		out, err := Fx.OutputLookup("json", t.TempDir(), "", 0)
		assertError(t, err, nil)
		assertStringContains(t, out.Type(), "json")
	})

	t.Run("Returns error if output doesn't exist", func(t *testing.T) {
		_, err := Fx.OutputLookup("midi", "", "", 0)
		assertGotError(t, err)
	})

	t.Run("Names are sorted", func(t *testing.T) {
		names := Fx.Names(Fx.Outputs)
		assertInt(t, len(names), 3)
		assertStringContains(t, names[0], "badger")
	})
}
