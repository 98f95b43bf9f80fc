package risk

/*

	Classification turns the end of a run into a cost, a rate
	and an expected cost. The reference CostModel prices every
	fault active at the end of the run by its cost class, and
	rates the scenario by the rate classes of the faults it injected.

*/

import (
	"fmt"
	"sort"
	"strings"

	Fm "github.com/maroda/fmdrisk/model"
	Fp "github.com/maroda/fmdrisk/propagate"
	Fs "github.com/maroda/fmdrisk/sample"
	Ft "github.com/maroda/fmdrisk/types"
)

// Outcome is what a Classifier sees of one run.
type Outcome struct {
	Scenario Ft.Scenario
	End      Fp.EndState
	Diff     *Fp.Diff
}

// OutcomeOf extracts the Outcome of a finished run.
func OutcomeOf(r *Fp.Result) Outcome {
	return Outcome{Scenario: r.Scenario, End: r.End, Diff: r.Diff}
}

// Classifier scores a run. It must be deterministic.
type Classifier interface {
	Classify(o Outcome) (Ft.Classification, error)
}

// ClassifierFunc adapts a plain function to a Classifier.
type ClassifierFunc func(o Outcome) (Ft.Classification, error)

func (f ClassifierFunc) Classify(o Outcome) (Ft.Classification, error) { return f(o) }

// DefaultCostKey prices the cost classes of the reference models.
var DefaultCostKey = map[string]float64{
	"major": 10000,
	"minor": 1000,
}

// CostModel is the reference classification policy:
// cost is the sum of the cost classes of every fault active at the end,
// rate is 1 for nominal and the looked-up rate class otherwise
// (the product for joint scenarios), expected cost is rate x life x cost.
type CostModel struct {
	CostKey map[string]float64
	RateKey Fs.Rates
	Life    float64
}

// NewCostModel returns the reference policy over a mission life.
func NewCostModel(life float64) *CostModel {
	return &CostModel{
		CostKey: DefaultCostKey,
		RateKey: Fs.DefaultRates,
		Life:    life,
	}
}

func (c *CostModel) Classify(o Outcome) (Ft.Classification, error) {
	cost, err := c.cost(o.End)
	if err != nil {
		return Ft.Classification{}, err
	}
	rate, err := c.rate(o)
	if err != nil {
		return Ft.Classification{}, err
	}
	return Ft.Classification{
		Rate:         rate,
		Cost:         cost,
		ExpectedCost: rate * c.Life * cost,
	}, nil
}

func (c *CostModel) cost(end Fp.EndState) (float64, error) {
	total := 0.0
	for _, fn := range end.Degraded() {
		modes := end.Faults[fn]
		names := make([]string, 0, len(modes))
		for name := range modes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			class := modes[name].Cost
			v, ok := c.CostKey[class]
			if !ok {
				return 0, Fm.Configf("cost model", "unknown cost class %q for %s %s", class, fn, name)
			}
			total += v
		}
	}
	return total, nil
}

func (c *CostModel) rate(o Outcome) (float64, error) {
	if o.Scenario.Kind == Ft.Nominal {
		return 1, nil
	}
	rates := c.RateKey
	if rates == nil {
		rates = Fs.DefaultRates
	}
	rate := 1.0
	for _, f := range o.Scenario.Faults {
		class := f.RateClass
		if class == "" {
			if m, ok := o.End.Faults[f.Function][f.Mode]; ok {
				class = m.Rate
			}
		}
		v, err := rates.Lookup(class)
		if err != nil {
			return 0, fmt.Errorf("%s %s: %w", f.Function, f.Mode, err)
		}
		rate *= v
	}
	return rate, nil
}

// PropertiesOf is the reporting view of a scenario.
// Joint scenarios list their functions and modes joined with " + ".
func PropertiesOf(sc Ft.Scenario) Ft.Properties {
	p := Ft.Properties{
		Type:   KindName(sc.Kind),
		Time:   sc.Time,
		Phase:  sc.Phase,
		Weight: sc.Weight,
	}
	var fns, modes, rates []string
	for _, f := range sc.Faults {
		fns = append(fns, f.Function)
		modes = append(modes, f.Mode)
		rates = append(rates, f.RateClass)
	}
	p.Function = strings.Join(fns, " + ")
	p.Mode = strings.Join(modes, " + ")
	p.RateClass = strings.Join(rates, " + ")
	return p
}

// KindName spells a scenario kind the way reports do.
func KindName(k Ft.ScenarioKind) string {
	switch k {
	case Ft.Nominal:
		return "nominal"
	case Ft.SingleFault:
		return "single-fault"
	case Ft.JointFault:
		return "joint-fault"
	}
	return "unknown"
}
